// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_server accepts AudioSocket connections, filters out
// scan traffic, enforces the concurrent-call cap and hands admitted
// calls to the session layer.
package internal_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	internal_audiosocket "github.com/rapidaai/sav-voicebot/internal/audiosocket"
	internal_config "github.com/rapidaai/sav-voicebot/internal/config"
	internal_observe "github.com/rapidaai/sav-voicebot/internal/observe"
	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

// handshakeTimeout bounds how long a fresh connection may take to
// identify itself before it is dropped.
const handshakeTimeout = 5 * time.Second

// Handler runs one admitted call to completion. It owns the connection
// from the moment it is invoked.
type Handler interface {
	HandleCall(ctx context.Context, conn net.Conn, callID string)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn net.Conn, callID string)

func (f HandlerFunc) HandleCall(ctx context.Context, conn net.Conn, callID string) {
	f(ctx, conn, callID)
}

// Server is the AudioSocket front door.
type Server struct {
	logger  commons.Logger
	cfg     *internal_config.Config
	handler Handler
	metrics *internal_observe.Metrics

	admission *semaphore.Weighted
	listener  net.Listener
	wg        sync.WaitGroup
}

// New builds a server; call Listen then Serve.
func New(logger commons.Logger, cfg *internal_config.Config, handler Handler, metrics *internal_observe.Metrics) *Server {
	return &Server{
		logger:    logger,
		cfg:       cfg,
		handler:   handler,
		metrics:   metrics,
		admission: semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
	}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.cfg.AudioSocketHost, strconv.Itoa(s.cfg.AudioSocketPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.Infof("audiosocket listening on %s (max %d concurrent calls)",
		ln.Addr(), s.cfg.MaxConcurrentCalls)
	return nil
}

// Addr returns the bound address; nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until the context is cancelled or the
// listener is closed. In-flight calls keep running; use Shutdown to
// wait for them.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server: Serve before Listen")
	}

	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warnw("accept failed", "error", err.Error())
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Shutdown stops accepting and waits for in-flight calls, up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server: shutdown: %w", ctx.Err())
	}
}

// handleConn reads the handshake, drops scan traffic silently, applies
// the admission cap and hands the call over.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	buf := make([]byte, internal_audiosocket.HandshakeMaxBytes)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		_ = conn.Close()
		return
	}
	head := buf[:n]

	if internal_audiosocket.IsScanTraffic(head) {
		// crawlers and port scanners; not worth a log line each
		_ = conn.Close()
		return
	}

	callID := internal_audiosocket.ParseCallID(head)

	if !s.admission.TryAcquire(1) {
		s.logger.Warnw("call rejected, concurrency cap reached",
			"call", callID, "cap", s.cfg.MaxConcurrentCalls)
		if s.metrics != nil {
			s.metrics.RecordError(ctx, "admission")
		}
		_ = internal_audiosocket.WriteHangup(conn)
		_ = conn.Close()
		return
	}
	defer s.admission.Release(1)

	if s.metrics != nil {
		s.metrics.ActiveCalls.Add(ctx, 1)
		defer s.metrics.ActiveCalls.Add(ctx, -1)
	}

	_ = conn.SetReadDeadline(time.Time{})
	s.handler.HandleCall(ctx, conn, callID)
}

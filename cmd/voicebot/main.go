// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// voicebot is the realtime support assistant: it answers AudioSocket
// calls from the PBX, runs the French troubleshooting dialog and writes
// a ticket for every call.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	internal_ami "github.com/rapidaai/sav-voicebot/internal/ami"
	internal_audio "github.com/rapidaai/sav-voicebot/internal/audio"
	internal_recorder "github.com/rapidaai/sav-voicebot/internal/audio/recorder"
	internal_cache "github.com/rapidaai/sav-voicebot/internal/cache"
	internal_call "github.com/rapidaai/sav-voicebot/internal/call"
	internal_callcontext "github.com/rapidaai/sav-voicebot/internal/callcontext"
	internal_config "github.com/rapidaai/sav-voicebot/internal/config"
	internal_dialog "github.com/rapidaai/sav-voicebot/internal/dialog"
	internal_observe "github.com/rapidaai/sav-voicebot/internal/observe"
	internal_server "github.com/rapidaai/sav-voicebot/internal/server"
	internal_transformer_deepgram "github.com/rapidaai/sav-voicebot/internal/transformer/deepgram"
	internal_transformer_elevenlabs "github.com/rapidaai/sav-voicebot/internal/transformer/elevenlabs"
	internal_transformer_groq "github.com/rapidaai/sav-voicebot/internal/transformer/groq"
	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "voicebot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := internal_config.Load()
	if err != nil {
		return err
	}

	logger := commons.NewLogger(commons.LoggerOptions{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
		JSON:  cfg.LogJSON,
	})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- observability -------------------------------------------------------

	metrics, scrapeHandler, err := internal_observe.InitProvider()
	if err != nil {
		return err
	}
	var metricsSrv *http.Server
	if cfg.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", scrapeHandler)
		metricsSrv = &http.Server{
			Addr:    net.JoinHostPort("", strconv.Itoa(cfg.PrometheusPort)),
			Handler: mux,
		}
		go func() {
			logger.Infof("metrics endpoint on :%d/metrics", cfg.PrometheusPort)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorw("metrics endpoint failed", "error", err.Error())
			}
		}()
	}

	// --- databases -----------------------------------------------------------

	clientsDB, err := internal_callcontext.Open(cfg.DBClientsDSN, logger)
	if err != nil {
		return fmt.Errorf("clients database: %w", err)
	}
	ticketsDB, err := internal_callcontext.Open(cfg.DBTicketsDSN, logger)
	if err != nil {
		return fmt.Errorf("tickets database: %w", err)
	}
	clients := internal_callcontext.NewClientStore(clientsDB, logger)
	tickets := internal_callcontext.NewTicketStore(ticketsDB, logger)

	// --- speech assets -------------------------------------------------------

	cache := internal_cache.New(logger, cfg.DynamicCacheMaxSize)
	cacheDir := filepath.Join(cfg.BaseDir, cfg.CacheDir)
	if err := cache.Load(cacheDir, staticPhraseKeys()); err != nil {
		// live TTS covers every phrase; a cold cache only costs latency
		logger.Warnw("phrase cache unavailable, all speech goes through TTS",
			"dir", cacheDir, "error", err.Error())
	}

	prompts, err := internal_dialog.LoadPrompts(logger, cfg.PromptsPath)
	if err != nil {
		return err
	}
	keywords, err := internal_transformer_deepgram.LoadKeywords(logger, cfg.KeywordsPath)
	if err != nil {
		return err
	}

	pool := internal_audio.NewPool(logger, cfg.ProcessPoolWorkers)
	speaker := internal_transformer_elevenlabs.NewSpeaker(logger, cfg, pool)
	llm := internal_transformer_groq.NewClient(logger, cfg)
	resolver := internal_ami.NewClient(logger, cfg)
	recordingsDir := filepath.Join(cfg.BaseDir, cfg.LogsDir)

	// --- listener ------------------------------------------------------------

	handler := internal_server.HandlerFunc(func(ctx context.Context, conn net.Conn, callID string) {
		callLogger := logger.With("call", callID)
		session := internal_call.New(conn, callID, internal_call.Deps{
			Logger:     callLogger,
			Config:     cfg,
			Prompts:    prompts,
			Cache:      cache,
			Recognizer: internal_transformer_deepgram.NewTranscriber(callLogger, cfg, keywords),
			Speaker:    speaker,
			LLM:        llm,
			Clients:    clients,
			Tickets:    tickets,
			Resolver:   resolver,
			Metrics:    metrics,
			Recorder:   internal_recorder.New(callLogger, recordingsDir, callID),
		})
		if err := session.Run(ctx); err != nil {
			callLogger.Errorw("call ended with error", "error", err.Error())
		}
	})

	srv := internal_server.New(logger, cfg, handler, metrics)
	if err := srv.Listen(); err != nil {
		return err
	}

	// hourly activity digest for the operations log
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logTodayStats(ctx, logger, tickets)
			}
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	select {
	case <-ctx.Done():
		logger.Infof("shutdown signal received, draining calls")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	// --- drain ---------------------------------------------------------------

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("shutdown incomplete", "error", err.Error())
	}
	if err := pool.Drain(shutdownCtx); err != nil {
		logger.Warnw("resampler pool drain incomplete", "error", err.Error())
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	logTodayStats(shutdownCtx, logger, tickets)
	logger.Infof("voicebot stopped")
	return nil
}

func logTodayStats(ctx context.Context, logger commons.Logger, tickets internal_callcontext.TicketStore) {
	stats, err := tickets.TodayStats(ctx)
	if err != nil {
		logger.Warnw("today's ticket stats unavailable", "error", err.Error())
		return
	}
	logger.Infow("ticket activity today",
		"total", stats.Total,
		"resolved", stats.Resolved,
		"transferred", stats.Transferred,
		"open", stats.Open,
	)
}

func staticPhraseKeys() []string {
	keys := make([]string, 0, len(internal_config.CachedPhrases))
	for key := range internal_config.CachedPhrases {
		keys = append(keys, key)
	}
	return keys
}

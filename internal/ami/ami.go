// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_ami is a minimal Asterisk Manager Interface client.
// The dialplan stashes the caller id in a channel variable before handing
// the call to the media socket; this client fetches it back. One short
// TCP conversation per lookup: login, Getvar, logoff.
package internal_ami

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	internal_config "github.com/rapidaai/sav-voicebot/internal/config"
	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

// UnknownCaller is returned whenever the caller id cannot be resolved.
// The dialog treats these callers as anonymous and collects identity.
const UnknownCaller = "unknown"

// callerVarPrefix matches the dialplan: Set(CALLER_${UNIQUEID}=${CALLERID(num)}).
const callerVarPrefix = "CALLER_"

const defaultTimeout = 3 * time.Second

// Client resolves channel variables over AMI.
type Client struct {
	logger   commons.Logger
	addr     string
	username string
	secret   string
	timeout  time.Duration
}

// NewClient builds a client from configuration. No connection is held
// open between lookups.
func NewClient(logger commons.Logger, cfg *internal_config.Config) *Client {
	return &Client{
		logger:   logger,
		addr:     net.JoinHostPort(cfg.AMIHost, strconv.Itoa(cfg.AMIPort)),
		username: cfg.AMIUsername,
		secret:   cfg.AMISecret,
		timeout:  defaultTimeout,
	}
}

// CallerNumber resolves the caller id stashed under CALLER_<uniqueID>.
// Every failure path degrades to UnknownCaller; a dead AMI must never
// block answering the call.
func (c *Client) CallerNumber(ctx context.Context, uniqueID string) string {
	value, err := c.getvar(ctx, callerVarPrefix+uniqueID)
	if err != nil {
		c.logger.Warnf("ami: caller lookup for %s failed: %v", uniqueID, err)
		return UnknownCaller
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return UnknownCaller
	}
	return value
}

func (c *Client) getvar(ctx context.Context, variable string) (string, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return "", fmt.Errorf("ami: dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	reader := bufio.NewReader(conn)

	// banner, e.g. "Asterisk Call Manager/5.0"
	banner, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("ami: read banner: %w", err)
	}
	if !strings.Contains(banner, "Asterisk Call Manager") {
		return "", fmt.Errorf("ami: unexpected banner %q", strings.TrimSpace(banner))
	}

	// Events: off keeps unsolicited event frames out of our responses.
	if err := writeAction(conn,
		"Action: Login",
		"Username: "+c.username,
		"Secret: "+c.secret,
		"Events: off",
	); err != nil {
		return "", err
	}
	resp, err := readResponse(reader)
	if err != nil {
		return "", fmt.Errorf("ami: login: %w", err)
	}
	if resp["Response"] != "Success" {
		return "", fmt.Errorf("ami: login rejected: %s", resp["Message"])
	}

	if err := writeAction(conn,
		"Action: Getvar",
		"Variable: "+variable,
	); err != nil {
		return "", err
	}
	resp, err = readResponse(reader)
	if err != nil {
		return "", fmt.Errorf("ami: getvar: %w", err)
	}
	if resp["Response"] != "Success" {
		return "", fmt.Errorf("ami: getvar rejected: %s", resp["Message"])
	}

	// best effort, the deferred close handles the rest
	_ = writeAction(conn, "Action: Logoff")

	return resp["Value"], nil
}

func writeAction(conn net.Conn, lines ...string) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	if _, err := conn.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("ami: write action: %w", err)
	}
	return nil
}

// readResponse consumes one "Key: Value" block terminated by a blank line.
func readResponse(reader *bufio.Reader) (map[string]string, error) {
	resp := make(map[string]string)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(resp) == 0 {
				continue
			}
			return resp, nil
		}
		if key, value, ok := strings.Cut(line, ":"); ok {
			resp[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
}

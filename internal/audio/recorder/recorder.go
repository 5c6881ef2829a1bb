// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rapidaai/sav-voicebot/pkg/commons"
	"github.com/rapidaai/sav-voicebot/pkg/utils"
)

// Recorder appends caller audio to a per-call raw PCM file. A nil or
// failed recorder degrades to a no-op: recording must never take a call
// down.
type Recorder interface {
	// Record appends one audio payload (8kHz 16-bit mono LE PCM).
	Record(pcm []byte)
	// Close flushes and closes the file, returning its path ("" when
	// recording never started or was disabled).
	Close() (string, error)
}

type fileRecorder struct {
	logger commons.Logger
	mu     sync.Mutex
	file   *os.File
	path   string
	// disabled is set after the first write failure; subsequent payloads
	// are dropped silently.
	disabled bool
	closed   bool
	written  int
}

// clock is injectable for testing; defaults to time.Now.
type Option func(*options)

type options struct {
	clock func() time.Time
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// New opens the recording file for a call under dir. Open failure is
// non-fatal: a warning is logged and a no-op recorder is returned.
func New(logger commons.Logger, dir, callID string, opts ...Option) Recorder {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warnw("recording disabled, cannot create directory",
			"dir", dir, "error", err.Error())
		return &fileRecorder{logger: logger, disabled: true}
	}

	name := fmt.Sprintf("call_%s_%s.raw",
		utils.SanitizeString(callID), o.clock().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warnw("recording disabled, cannot open file",
			"path", path, "error", err.Error())
		return &fileRecorder{logger: logger, disabled: true}
	}
	return &fileRecorder{logger: logger, file: f, path: path}
}

func (r *fileRecorder) Record(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled || r.closed || r.file == nil {
		return
	}
	if _, err := r.file.Write(pcm); err != nil {
		r.logger.Errorw("recording write failed, disabling for this call",
			"path", r.path, "error", err.Error())
		r.disabled = true
		return
	}
	r.written += len(pcm)
}

func (r *fileRecorder) Close() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.file == nil {
		return r.path, nil
	}
	r.closed = true
	if err := r.file.Close(); err != nil {
		return r.path, fmt.Errorf("recorder: close %s: %w", r.path, err)
	}
	r.logger.Infow("recording closed", "path", r.path, "bytes", r.written)
	return r.path, nil
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_transformer_deepgram streams caller audio to Deepgram
// over a live websocket session and surfaces transcripts and voice
// activity as channel events.
package internal_transformer_deepgram

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	internal_config "github.com/rapidaai/sav-voicebot/internal/config"
	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

// =============================================================================
// Recognition modes
// =============================================================================

// Mode selects the endpointing profile of the live session. Open questions
// give the caller room to elaborate; yes/no prompts close the turn fast.
type Mode string

const (
	ModeOpen  Mode = "open"
	ModeYesNo Mode = "yes_no"
)

// Transcript is one recognizer result. Final results close a caller turn;
// interim results drive barge-in.
type Transcript struct {
	Text  string
	Final bool
}

// =============================================================================
// Live session
// =============================================================================

// liveClient is the slice of the SDK websocket client the transcriber
// depends on.
type liveClient interface {
	Connect() bool
	WriteBinary([]byte) error
	Finalize() error
	Stop()
}

// newLiveClient is swapped out in tests.
var newLiveClient = func(ctx context.Context, apiKey string, tOptions *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (liveClient, error) {
	return listen.NewWSUsingCallback(ctx, apiKey, &interfaces.ClientOptions{}, tOptions, cb)
}

// Transcriber owns one live recognition session per call. Changing the
// mode tears the session down and opens a fresh one, because endpointing
// cannot be updated on an established stream.
type Transcriber struct {
	logger   commons.Logger
	cfg      *internal_config.Config
	keywords []string

	transcripts   chan Transcript
	speechStarted chan struct{}

	mu     sync.Mutex
	client liveClient
	mode   Mode
	active bool
}

// NewTranscriber prepares a transcriber for one call. No connection is
// opened until Start.
func NewTranscriber(logger commons.Logger, cfg *internal_config.Config, keywords []string) *Transcriber {
	return &Transcriber{
		logger:        logger,
		cfg:           cfg,
		keywords:      keywords,
		transcripts:   make(chan Transcript, 16),
		speechStarted: make(chan struct{}, 1),
	}
}

// Transcripts delivers recognizer results, interim and final.
func (t *Transcriber) Transcripts() <-chan Transcript { return t.transcripts }

// SpeechStarted signals voice activity. The channel holds at most one
// pending signal; bursts coalesce.
func (t *Transcriber) SpeechStarted() <-chan struct{} { return t.speechStarted }

// Options builds the live session options for the given mode.
func (t *Transcriber) Options(mode Mode) *interfaces.LiveTranscriptionOptions {
	endpointing := t.cfg.STTEndpointingDefaultMs
	if mode == ModeYesNo {
		endpointing = t.cfg.STTEndpointingShortMs
	}
	return &interfaces.LiveTranscriptionOptions{
		Model:          t.cfg.DeepgramModel,
		Language:       t.cfg.DeepgramLanguage,
		Encoding:       t.cfg.DeepgramEncoding,
		SampleRate:     t.cfg.DeepgramSampleRate,
		Channels:       1,
		InterimResults: true,
		Punctuate:      true,
		VadEvents:      true,
		Endpointing:    strconv.Itoa(endpointing),
		Keywords:       t.keywords,
	}
}

// Start opens the live session. On failure the transcriber stays inert
// and the call proceeds without speech recognition.
func (t *Transcriber) Start(ctx context.Context, mode Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startLocked(ctx, mode)
}

func (t *Transcriber) startLocked(ctx context.Context, mode Mode) error {
	sink := &eventSink{logger: t.logger, transcripts: t.transcripts, speechStarted: t.speechStarted}
	client, err := newLiveClient(ctx, t.cfg.DeepgramAPIKey, t.Options(mode), sink)
	if err != nil {
		return fmt.Errorf("deepgram: create session: %w", err)
	}
	if !client.Connect() {
		return fmt.Errorf("deepgram: websocket connect failed")
	}
	t.client = client
	t.mode = mode
	t.active = true
	t.logger.Infow("deepgram session started", "mode", mode, "endpointing", t.Options(mode).Endpointing)
	return nil
}

// SetMode switches the endpointing profile. A no-op when the session is
// already in the requested mode; otherwise the session is re-created.
func (t *Transcriber) SetMode(ctx context.Context, mode Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active && t.mode == mode {
		return nil
	}
	if t.active {
		t.client.Stop()
		t.active = false
	}
	return t.startLocked(ctx, mode)
}

// Mode reports the current recognition mode.
func (t *Transcriber) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Active reports whether a live session is established.
func (t *Transcriber) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Send forwards one chunk of caller PCM to the recognizer. Dropped
// silently when no session is active.
func (t *Transcriber) Send(pcm []byte) error {
	t.mu.Lock()
	client, active := t.client, t.active
	t.mu.Unlock()
	if !active {
		return nil
	}
	if err := client.WriteBinary(pcm); err != nil {
		return fmt.Errorf("deepgram: write audio: %w", err)
	}
	return nil
}

// Finalize asks the recognizer to flush any buffered audio into a final
// result, without closing the session.
func (t *Transcriber) Finalize() error {
	t.mu.Lock()
	client, active := t.client, t.active
	t.mu.Unlock()
	if !active {
		return nil
	}
	return client.Finalize()
}

// Stop tears the session down. Safe to call repeatedly.
func (t *Transcriber) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.client.Stop()
	t.active = false
}

// =============================================================================
// SDK event callback
// =============================================================================

// eventSink adapts SDK callbacks onto the transcriber's channels. Sends
// never block: a slow consumer loses interim results before it stalls the
// websocket reader.
type eventSink struct {
	logger        commons.Logger
	transcripts   chan Transcript
	speechStarted chan struct{}
}

func (s *eventSink) Open(*msginterfaces.OpenResponse) error { return nil }

func (s *eventSink) Message(mr *msginterfaces.MessageResponse) error {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := mr.Channel.Alternatives[0].Transcript
	if text == "" {
		return nil
	}
	select {
	case s.transcripts <- Transcript{Text: text, Final: mr.IsFinal}:
	default:
		s.logger.Warnf("deepgram: transcript channel full, dropping %q", text)
	}
	return nil
}

func (s *eventSink) Metadata(*msginterfaces.MetadataResponse) error { return nil }

func (s *eventSink) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	select {
	case s.speechStarted <- struct{}{}:
	default:
	}
	return nil
}

func (s *eventSink) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error { return nil }

func (s *eventSink) Close(*msginterfaces.CloseResponse) error {
	s.logger.Infof("deepgram session closed")
	return nil
}

func (s *eventSink) Error(er *msginterfaces.ErrorResponse) error {
	if er != nil {
		s.logger.Errorw("deepgram session error", "type", er.Type, "description", er.Description)
	}
	return nil
}

func (s *eventSink) UnhandledEvent(byData []byte) error {
	s.logger.Debugf("deepgram unhandled event: %d bytes", len(byData))
	return nil
}

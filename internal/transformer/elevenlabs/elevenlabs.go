// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_transformer_elevenlabs turns response text into
// telephone-ready PCM through the ElevenLabs streaming synthesis API.
package internal_transformer_elevenlabs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	internal_audio "github.com/rapidaai/sav-voicebot/internal/audio"
	internal_config "github.com/rapidaai/sav-voicebot/internal/config"
	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

// outputFormat is fixed: the decoder downstream expects 44.1kHz MP3.
const outputFormat = "mp3_44100_128"

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// defaultStallTimeout bounds provider silence when no api_timeout is
// configured.
const defaultStallTimeout = 10 * time.Second

// Speaker synthesizes speech and streams it as playout-sized PCM chunks.
// Safe for concurrent use; each call carries its own context.
type Speaker struct {
	logger commons.Logger
	cfg    *internal_config.Config
	client *resty.Client

	// stallTimeout aborts a synthesis that stops producing audio. It is
	// not an overall cap: the deadline re-arms on every decoded chunk,
	// so long utterances stream freely while a wedged connection errors
	// out within one interval.
	stallTimeout time.Duration

	// decode is the MP3-to-PCM pipeline, injectable for tests.
	decode func(ctx context.Context, src io.Reader, out chan<- []byte) error
}

// NewSpeaker builds a speaker on the shared decode pool.
func NewSpeaker(logger commons.Logger, cfg *internal_config.Config, pool *internal_audio.Pool) *Speaker {
	client := resty.New().
		SetBaseURL(cfg.ElevenLabsBaseURL).
		SetHeader("xi-api-key", cfg.ElevenLabsAPIKey).
		SetHeader("Accept", "audio/mpeg")
	stall := cfg.APITimeout()
	if stall <= 0 {
		stall = defaultStallTimeout
	}
	return &Speaker{
		logger:       logger,
		cfg:          cfg,
		client:       client,
		stallTimeout: stall,
		decode:       pool.MP3StreamToPCM8k,
	}
}

// Synthesize speaks text, sending PCM chunks to out as they decode so
// playback starts before the stream finishes. It returns the complete
// PCM when the stream ran to completion, for phrase-cache insertion.
// A cancelled context interrupts the stream and returns ctx.Err(); the
// partial audio is discarded.
func (s *Speaker) Synthesize(ctx context.Context, text string, out chan<- []byte) ([]byte, error) {
	text = Normalize(text)
	if text == "" {
		return nil, nil
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchdog := time.AfterFunc(s.stallTimeout, cancel)
	defer watchdog.Stop()
	// the stall error must not wrap context.Canceled: callers read that
	// as their own cancellation
	stalled := func(err error) error {
		if ctx.Err() == nil && sctx.Err() != nil {
			return fmt.Errorf("elevenlabs: no audio for %s, stream stalled (%v)", s.stallTimeout, err)
		}
		return err
	}

	resp, err := s.client.R().
		SetContext(sctx).
		SetDoNotParseResponse(true).
		SetQueryParam("output_format", outputFormat).
		SetBody(synthesisRequest{
			Text:    text,
			ModelID: s.cfg.ElevenLabsModel,
			VoiceSettings: voiceSettings{
				Stability:       s.cfg.ElevenLabsStability,
				SimilarityBoost: s.cfg.ElevenLabsSimilarity,
				Style:           s.cfg.ElevenLabsStyle,
				UseSpeakerBoost: s.cfg.ElevenLabsSpeakerBoost,
			},
		}).
		Post(fmt.Sprintf("/v1/text-to-speech/%s/stream", s.cfg.ElevenLabsVoiceID))
	if err != nil {
		return nil, stalled(fmt.Errorf("elevenlabs: request: %w", err))
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(body, 512))
		return nil, fmt.Errorf("elevenlabs: synthesis status %d: %s",
			resp.StatusCode(), bytes.TrimSpace(detail))
	}

	pcmCh := make(chan []byte, 8)
	var decodeErr error
	go func() {
		defer close(pcmCh)
		decodeErr = s.decode(sctx, body, pcmCh)
	}()

	var full []byte
	for chunk := range pcmCh {
		watchdog.Reset(s.stallTimeout)
		full = append(full, chunk...)
		select {
		case out <- chunk:
		case <-sctx.Done():
			for range pcmCh {
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, stalled(sctx.Err())
		}
	}
	if decodeErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, stalled(decodeErr)
	}
	return full, nil
}

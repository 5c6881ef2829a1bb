// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_call

import (
	"context"
	"errors"
	"fmt"
	"strings"

	internal_audio "github.com/rapidaai/sav-voicebot/internal/audio"
	internal_config "github.com/rapidaai/sav-voicebot/internal/config"
	internal_transformer_deepgram "github.com/rapidaai/sav-voicebot/internal/transformer/deepgram"
)

// =============================================================================
// Speech output
// =============================================================================

// SayStatic plays a pre-rendered phrase from the cache. A missing cache
// entry degrades to live synthesis of the phrase's copy, so a half-warmed
// cache never silences the bot.
func (s *Session) SayStatic(ctx context.Context, key string) error {
	pcm := s.cache.GetStatic(key)
	s.recordCacheLookup(ctx, "static", pcm != nil)
	if pcm == nil {
		text, ok := internal_config.CachedPhrases[key]
		if !ok {
			return fmt.Errorf("call: unknown phrase key %q", key)
		}
		s.logger.Warnf("static phrase %q not cached, synthesizing live", key)
		return s.SayDynamic(ctx, text)
	}

	sctx, cancel := s.beginSpeech()
	defer s.endSpeech(cancel)
	return s.enqueueAll(ctx, sctx, internal_audio.ChunkPCM(pcm))
}

// SayDynamic speaks arbitrary text: dynamic cache hit plays instantly,
// a miss streams straight from the synthesizer into the playout queue so
// the caller hears the first chunk before the last one is rendered. The
// complete utterance is cached only when playback was not barged in.
func (s *Session) SayDynamic(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if pcm := s.cache.GetDynamic(text); pcm != nil {
		s.recordCacheLookup(ctx, "dynamic", true)
		sctx, cancel := s.beginSpeech()
		defer s.endSpeech(cancel)
		return s.enqueueAll(ctx, sctx, internal_audio.ChunkPCM(pcm))
	}
	s.recordCacheLookup(ctx, "dynamic", false)

	sctx, cancel := s.beginSpeech()
	defer s.endSpeech(cancel)
	return s.synthesizeAndPlay(ctx, sctx, text)
}

// SayHybrid plays a cached opener while the personalized tail renders in
// the background, hiding the synthesis latency behind the static audio.
func (s *Session) SayHybrid(ctx context.Context, key, text string) error {
	if pcm := s.cache.GetDynamic(text); pcm != nil {
		s.recordCacheLookup(ctx, "dynamic", true)
		if err := s.SayStatic(ctx, key); err != nil {
			return err
		}
		sctx, cancel := s.beginSpeech()
		defer s.endSpeech(cancel)
		return s.enqueueAll(ctx, sctx, internal_audio.ChunkPCM(pcm))
	}
	s.recordCacheLookup(ctx, "dynamic", false)

	sctx, cancel := s.beginSpeech()
	defer s.endSpeech(cancel)

	raw := make(chan []byte, 32)
	result := make(chan synthResult, 1)
	start := s.clock()
	go func() {
		full, err := s.speaker.Synthesize(sctx, text, raw)
		close(raw)
		result <- synthResult{full: full, err: err}
	}()

	// the opener plays inside this speech scope so one barge-in cuts
	// both halves
	if opener := s.cache.GetStatic(key); opener != nil {
		s.recordCacheLookup(ctx, "static", true)
		if err := s.enqueueAll(ctx, sctx, internal_audio.ChunkPCM(opener)); err != nil {
			return err
		}
	} else {
		s.recordCacheLookup(ctx, "static", false)
		s.logger.Warnf("hybrid opener %q not cached, tail only", key)
	}

	streamErr := s.streamChunks(ctx, sctx, raw)
	out := <-result
	s.recordProvider(ctx, "elevenlabs", "tts", s.clock().Sub(start), out.err)

	if out.err != nil {
		if errors.Is(out.err, context.Canceled) && sctx.Err() != nil {
			return nil // barged in
		}
		return fmt.Errorf("call: hybrid synthesis: %w", out.err)
	}
	if streamErr != nil {
		return streamErr
	}
	if sctx.Err() == nil && len(out.full) > 0 {
		s.cache.PutDynamic(text, out.full)
	}
	return nil
}

// SetListenMode retunes the recognizer's endpointing profile.
func (s *Session) SetListenMode(ctx context.Context, mode internal_transformer_deepgram.Mode) error {
	return s.stt.SetMode(ctx, mode)
}

type synthResult struct {
	full []byte
	err  error
}

func (s *Session) synthesizeAndPlay(ctx, sctx context.Context, text string) error {
	raw := make(chan []byte, 32)
	result := make(chan synthResult, 1)
	start := s.clock()
	go func() {
		full, err := s.speaker.Synthesize(sctx, text, raw)
		close(raw)
		result <- synthResult{full: full, err: err}
	}()

	streamErr := s.streamChunks(ctx, sctx, raw)
	out := <-result
	s.recordProvider(ctx, "elevenlabs", "tts", s.clock().Sub(start), out.err)

	if out.err != nil {
		if errors.Is(out.err, context.Canceled) && sctx.Err() != nil {
			return nil // barged in
		}
		return fmt.Errorf("call: synthesis: %w", out.err)
	}
	if streamErr != nil {
		return streamErr
	}
	if sctx.Err() == nil && len(out.full) > 0 {
		s.cache.PutDynamic(text, out.full)
	}
	return nil
}

// streamChunks repacks streamed PCM into playout-sized frames and
// enqueues them as they arrive. After a barge-in it keeps draining the
// producer without enqueueing so the synthesis goroutine never stalls.
func (s *Session) streamChunks(ctx, sctx context.Context, in <-chan []byte) error {
	var buf []byte
	aborted := false
	for pcm := range in {
		if aborted {
			continue
		}
		buf = append(buf, pcm...)
		for len(buf) >= internal_audio.ChunkBytes {
			chunk := make([]byte, internal_audio.ChunkBytes)
			copy(chunk, buf[:internal_audio.ChunkBytes])
			buf = buf[internal_audio.ChunkBytes:]
			if err := s.enqueue(ctx, sctx, chunk); err != nil {
				if errors.Is(err, errSpeechCut) {
					aborted = true
					break
				}
				return err
			}
		}
	}
	if aborted || len(buf) == 0 {
		return nil
	}
	chunk := make([]byte, internal_audio.ChunkBytes)
	copy(chunk, buf)
	if err := s.enqueue(ctx, sctx, chunk); err != nil && !errors.Is(err, errSpeechCut) {
		return err
	}
	return nil
}

// errSpeechCut marks an enqueue aborted by barge-in. Internal only;
// Say calls report barge-in as success.
var errSpeechCut = errors.New("call: speech cut off")

func (s *Session) enqueueAll(ctx, sctx context.Context, chunks [][]byte) error {
	for _, chunk := range chunks {
		if err := s.enqueue(ctx, sctx, chunk); err != nil {
			if errors.Is(err, errSpeechCut) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *Session) enqueue(ctx, sctx context.Context, chunk []byte) error {
	select {
	case s.outputCh <- chunk:
		s.queued.Add(1)
		return nil
	case <-sctx.Done():
		return errSpeechCut
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginSpeech opens a cancellable speech scope and marks the bot as
// speaking. bargeIn cancels the returned context.
func (s *Session) beginSpeech() (context.Context, context.CancelFunc) {
	s.speaking.Add(1)
	ctx, cancel := context.WithCancel(s.ctx)
	s.speechMu.Lock()
	s.speechCancel = cancel
	s.speechMu.Unlock()
	return ctx, cancel
}

func (s *Session) endSpeech(cancel context.CancelFunc) {
	cancel()
	s.speechMu.Lock()
	s.speechCancel = nil
	s.speechMu.Unlock()
	s.speaking.Add(-1)
}

// =============================================================================
// Barge-in
// =============================================================================

// bargeIn cuts the bot off: the in-flight synthesis is cancelled, the
// queue is dropped and the playout clock flushes its local backlog. Safe
// to call when nothing is playing; a second call is a cheap no-op.
func (s *Session) bargeIn() {
	s.speechMu.Lock()
	if s.speechCancel != nil {
		s.speechCancel()
	}
	s.speechMu.Unlock()

	s.drainOutput()
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
	s.logger.Debugw("barge-in", "call", s.callID)
}

func (s *Session) drainOutput() {
	for {
		select {
		case <-s.outputCh:
			s.queued.Add(-1)
		default:
			return
		}
	}
}

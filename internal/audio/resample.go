// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"
	resampler "github.com/tphakala/go-audio-resampler"
	"golang.org/x/sync/semaphore"

	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

// Pool bounds the number of concurrent CPU-heavy decode/resample jobs so
// that a burst of TTS streams cannot starve the playout clocks.
type Pool struct {
	logger  commons.Logger
	sem     *semaphore.Weighted
	workers int64
}

// NewPool creates a pool with the given worker budget (minimum 1).
func NewPool(logger commons.Logger, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		logger:  logger,
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: int64(workers),
	}
}

// Drain blocks until every in-flight job has finished. Used during
// graceful shutdown; new jobs submitted after Drain still run, so callers
// must stop submitting first.
func (p *Pool) Drain(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, p.workers); err != nil {
		return err
	}
	p.sem.Release(p.workers)
	return nil
}

// decodeBlockSamples is how many mono samples are decoded before each
// resample step (200ms at 44.1kHz; resamples to an exact 1600 samples).
const decodeBlockSamples = 8820

// MP3StreamToPCM8k decodes an MP3 byte stream and emits 8kHz 16-bit mono
// LE PCM in playout-sized chunks on out. Chunks are produced as the
// source streams, so playout can begin before the download completes. The
// final chunk is zero-padded. The channel is not closed; that is the
// caller's job.
//
// Returns ctx.Err() promptly when cancelled mid-stream.
func (p *Pool) MP3StreamToPCM8k(ctx context.Context, src io.Reader, out chan<- []byte) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	dec, err := mp3.NewDecoder(src)
	if err != nil {
		return fmt.Errorf("audio: mp3 decode init: %w", err)
	}

	rs, err := resampler.New(&resampler.Config{
		InputRate:  float64(dec.SampleRate()),
		OutputRate: float64(SampleRate),
		Channels:   1,
		Quality:    resampler.QualitySpec{Preset: resampler.QualityMedium},
	})
	if err != nil {
		return fmt.Errorf("audio: resampler init: %w", err)
	}

	// go-mp3 always yields 16-bit LE stereo frames (4 bytes per sample).
	raw := make([]byte, decodeBlockSamples*4)
	var pending []byte

	emit := func(final bool) error {
		for len(pending) >= ChunkBytes {
			chunk := make([]byte, ChunkBytes)
			copy(chunk, pending[:ChunkBytes])
			pending = pending[ChunkBytes:]
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if final && len(pending) > 0 {
			chunk := make([]byte, ChunkBytes)
			copy(chunk, pending)
			pending = nil
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := io.ReadFull(dec, raw)
		if n > 0 {
			mono := downmixStereo(raw[:n-n%4])
			resampled, rerr := rs.Process(mono)
			if rerr != nil {
				return fmt.Errorf("audio: resample: %w", rerr)
			}
			pending = append(pending, floatToPCM16(resampled)...)
			if err := emit(false); err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				return emit(true)
			}
			return fmt.Errorf("audio: mp3 decode: %w", readErr)
		}
	}
}

// downmixStereo averages the two 16-bit channels into normalized mono
// float samples.
func downmixStereo(raw []byte) []float64 {
	samples := make([]float64, 0, len(raw)/4)
	for off := 0; off+4 <= len(raw); off += 4 {
		left := int16(binary.LittleEndian.Uint16(raw[off : off+2]))
		right := int16(binary.LittleEndian.Uint16(raw[off+2 : off+4]))
		samples = append(samples, (float64(left)+float64(right))/2/32768)
	}
	return samples
}

func floatToPCM16(samples []float64) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

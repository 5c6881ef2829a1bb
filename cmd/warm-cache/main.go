// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// warm-cache renders every static phrase through TTS and writes the
// resulting 8kHz PCM next to the voicebot as <key>.raw. Run it once per
// deployment (and after any copy change) so the realtime path never
// waits on the synthesizer for fixed phrases.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	internal_audio "github.com/rapidaai/sav-voicebot/internal/audio"
	internal_config "github.com/rapidaai/sav-voicebot/internal/config"
	internal_transformer_elevenlabs "github.com/rapidaai/sav-voicebot/internal/transformer/elevenlabs"
	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

func main() {
	force := flag.Bool("force", false, "re-render phrases that already exist")
	flag.Parse()

	if err := run(*force); err != nil {
		fmt.Fprintf(os.Stderr, "warm-cache: %v\n", err)
		os.Exit(1)
	}
}

func run(force bool) error {
	cfg, err := internal_config.Load()
	if err != nil {
		return err
	}
	logger := commons.NewLogger(commons.LoggerOptions{Level: cfg.LogLevel})
	defer func() { _ = logger.Sync() }()

	dir := filepath.Join(cfg.BaseDir, cfg.CacheDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", dir, err)
	}

	pool := internal_audio.NewPool(logger, cfg.ProcessPoolWorkers)
	speaker := internal_transformer_elevenlabs.NewSpeaker(logger, cfg, pool)

	keys := make([]string, 0, len(internal_config.CachedPhrases))
	for key := range internal_config.CachedPhrases {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	ctx := context.Background()
	var rendered, skipped int
	for _, key := range keys {
		path := filepath.Join(dir, key+".raw")
		if !force {
			if _, err := os.Stat(path); err == nil {
				skipped++
				continue
			}
		}

		pcm, err := render(ctx, speaker, internal_config.CachedPhrases[key])
		if err != nil {
			return fmt.Errorf("render %q: %w", key, err)
		}
		if err := os.WriteFile(path, pcm, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		logger.Infof("rendered %q (%d bytes, %s)", key, len(pcm), pcmDuration(len(pcm)))
		rendered++
	}

	if err := pool.Drain(ctx); err != nil {
		logger.Warnw("resampler pool drain incomplete", "error", err.Error())
	}
	logger.Infof("cache warm: %d rendered, %d already present, dir %s", rendered, skipped, dir)
	return nil
}

func render(ctx context.Context, speaker *internal_transformer_elevenlabs.Speaker, text string) ([]byte, error) {
	// only the assembled result matters here; drain the stream
	out := make(chan []byte, 64)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range out {
		}
	}()

	full, err := speaker.Synthesize(ctx, text, out)
	close(out)
	<-drained
	return full, err
}

func pcmDuration(n int) time.Duration {
	samples := n / internal_audio.BytesPerSample
	return time.Duration(samples) * time.Second / internal_audio.SampleRate
}

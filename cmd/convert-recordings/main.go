// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// convert-recordings turns the voicebot's raw call captures into
// playable files: each call_*.raw becomes a WAV, then an MP3 when
// ffmpeg is available. Sources are removed after a successful
// conversion. Meant for a nightly cron on the PBX host.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	internal_audio "github.com/rapidaai/sav-voicebot/internal/audio"
	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

func main() {
	dir := flag.String("dir", "logs/calls", "directory holding call_*.raw captures")
	keepRaw := flag.Bool("keep-raw", false, "keep the .raw source after conversion")
	keepWAV := flag.Bool("keep-wav", false, "keep the intermediate .wav next to the .mp3")
	flag.Parse()

	logger := commons.NewLogger(commons.LoggerOptions{Level: "info"})
	defer func() { _ = logger.Sync() }()

	if err := run(logger, *dir, *keepRaw, *keepWAV); err != nil {
		fmt.Fprintf(os.Stderr, "convert-recordings: %v\n", err)
		os.Exit(1)
	}
}

func run(logger commons.Logger, dir string, keepRaw, keepWAV bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}

	ffmpeg, ffmpegErr := exec.LookPath("ffmpeg")
	if ffmpegErr != nil {
		logger.Warnf("ffmpeg not found, stopping at WAV: %v", ffmpegErr)
	}

	var converted, failed int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".raw") {
			continue
		}
		rawPath := filepath.Join(dir, name)
		if err := convertOne(logger, ffmpeg, rawPath, keepRaw, keepWAV); err != nil {
			logger.Errorw("conversion failed", "file", name, "error", err.Error())
			failed++
			continue
		}
		converted++
	}

	logger.Infof("converted %d recordings in %s (%d failed)", converted, dir, failed)
	if failed > 0 {
		return fmt.Errorf("%d recordings failed", failed)
	}
	return nil
}

func convertOne(logger commons.Logger, ffmpeg, rawPath string, keepRaw, keepWAV bool) error {
	pcm, err := os.ReadFile(rawPath)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		// empty capture, nothing worth keeping
		logger.Warnf("removing empty capture %s", rawPath)
		return os.Remove(rawPath)
	}

	wavPath := strings.TrimSuffix(rawPath, ".raw") + ".wav"
	wav, err := os.Create(wavPath)
	if err != nil {
		return err
	}
	if err := internal_audio.WriteWAV(wav, pcm); err != nil {
		_ = wav.Close()
		_ = os.Remove(wavPath)
		return err
	}
	if err := wav.Close(); err != nil {
		return err
	}

	if ffmpeg != "" {
		mp3Path := strings.TrimSuffix(rawPath, ".raw") + ".mp3"
		cmd := exec.Command(ffmpeg, "-hide_banner", "-loglevel", "error", "-y",
			"-i", wavPath, "-codec:a", "libmp3lame", "-qscale:a", "4", mp3Path)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(out)))
		}
		if !keepWAV {
			_ = os.Remove(wavPath)
		}
		logger.Infof("converted %s", filepath.Base(mp3Path))
	} else {
		logger.Infof("wrote %s", filepath.Base(wavPath))
	}

	if !keepRaw {
		return os.Remove(rawPath)
	}
	return nil
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// wavHeader is the canonical 44-byte RIFF/WAVE PCM header.
type wavHeader struct {
	RiffID        [4]byte
	RiffSize      uint32
	WaveID        [4]byte
	FmtID         [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataID        [4]byte
	DataSize      uint32
}

// WriteWAV wraps raw 8kHz 16-bit mono PCM in a WAV container. Used by the
// batch transcoder so ffmpeg gets a self-describing input.
func WriteWAV(w io.Writer, pcm []byte) error {
	hdr := wavHeader{
		RiffID:        [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:      36 + uint32(len(pcm)),
		WaveID:        [4]byte{'W', 'A', 'V', 'E'},
		FmtID:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1, // PCM
		NumChannels:   1,
		SampleRate:    SampleRate,
		ByteRate:      SampleRate * BytesPerSample,
		BlockAlign:    BytesPerSample,
		BitsPerSample: 16,
		DataID:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	return nil
}

// PCM8kToWAV returns the WAV container bytes for a PCM buffer.
func PCM8kToWAV(pcm []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, pcm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audiosocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame kinds carried on the wire. Anything else is tolerated and dropped
// by the session loop.
const (
	KindHangup  byte = 0x00
	KindID      byte = 0x01
	KindSilence byte = 0x02
	KindAudio   byte = 0x10
	KindError   byte = 0xFF
)

const (
	// SampleRate of the PCM carried in audio frames.
	SampleRate = 8000
	// FrameBytes is 20ms of 8kHz 16-bit mono PCM.
	FrameBytes = 320
	// FrameInterval is the playout cadence.
	FrameIntervalMs = 20
)

// ErrConnectionClosed reports EOF mid-header or mid-payload. It marks the
// normal end of a call as well as abrupt resets.
var ErrConnectionClosed = errors.New("audiosocket: connection closed")

// Frame is one decoded type-length-value unit.
type Frame struct {
	Kind    byte
	Payload []byte
}

// ReadFrame reads exactly one frame: Type:u8 | Length:u16be | Payload.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrConnectionClosed
		}
		return Frame{}, fmt.Errorf("audiosocket: read header: %w", err)
	}
	length := binary.BigEndian.Uint16(hdr[1:3])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Frame{}, ErrConnectionClosed
			}
			return Frame{}, fmt.Errorf("audiosocket: read payload: %w", err)
		}
	}
	return Frame{Kind: hdr[0], Payload: payload}, nil
}

// EncodeFrame serializes a frame. Payloads over 65535 bytes are a caller
// bug and truncate; audio callers always send 320-byte chunks.
func EncodeFrame(kind byte, payload []byte) []byte {
	if len(payload) > 0xFFFF {
		payload = payload[:0xFFFF]
	}
	buf := make([]byte, 3+len(payload))
	buf[0] = kind
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(payload)))
	copy(buf[3:], payload)
	return buf
}

// WriteAudioFrame writes one audio frame to the transport.
func WriteAudioFrame(w io.Writer, pcm []byte) error {
	if _, err := w.Write(EncodeFrame(KindAudio, pcm)); err != nil {
		return fmt.Errorf("audiosocket: write audio frame: %w", err)
	}
	return nil
}

// WriteHangup signals the PBX to tear the channel down.
func WriteHangup(w io.Writer) error {
	if _, err := w.Write(EncodeFrame(KindHangup, nil)); err != nil {
		return fmt.Errorf("audiosocket: write hangup: %w", err)
	}
	return nil
}

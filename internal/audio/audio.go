// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

const (
	// SampleRate of all PBX-side audio.
	SampleRate = 8000
	// BytesPerSample for signed 16-bit LE PCM.
	BytesPerSample = 2
	// ChunkBytes is 20ms of 8kHz 16-bit mono PCM, the playout unit.
	ChunkBytes = 320
)

// Silence returns duration_ms worth of zero samples.
func Silence(durationMs int) []byte {
	if durationMs <= 0 {
		return nil
	}
	return make([]byte, durationMs*SampleRate/1000*BytesPerSample)
}

// SilenceChunk is one 20ms chunk of silence, shared by all playout clocks.
// Callers must not mutate it.
var SilenceChunk = make([]byte, ChunkBytes)

// ChunkPCM splits pcm into playout-sized chunks. The final chunk is
// right-padded with zeros so every returned slice is exactly ChunkBytes.
func ChunkPCM(pcm []byte) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(pcm)+ChunkBytes-1)/ChunkBytes)
	for off := 0; off < len(pcm); off += ChunkBytes {
		end := off + ChunkBytes
		if end <= len(pcm) {
			chunks = append(chunks, pcm[off:end])
			continue
		}
		padded := make([]byte, ChunkBytes)
		copy(padded, pcm[off:])
		chunks = append(chunks, padded)
	}
	return chunks
}

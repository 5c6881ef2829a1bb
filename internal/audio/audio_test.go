package internal_audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSilence(t *testing.T) {
	assert.Len(t, Silence(20), ChunkBytes)
	assert.Len(t, Silence(1000), SampleRate*BytesPerSample)
	assert.Empty(t, Silence(0))
	assert.Empty(t, Silence(-5))
	assert.Equal(t, make([]byte, ChunkBytes), Silence(20))
}

func TestChunkPCMExact(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x7F}, ChunkBytes*3)
	chunks := ChunkPCM(pcm)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Len(t, c, ChunkBytes)
		assert.Equal(t, pcm[:ChunkBytes], c)
	}
}

func TestChunkPCMPadsTail(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01}, ChunkBytes+100)
	chunks := ChunkPCM(pcm)
	require.Len(t, chunks, 2)

	assert.Equal(t, pcm[:ChunkBytes], chunks[0])
	assert.Equal(t, pcm[ChunkBytes:], chunks[1][:100])
	assert.Equal(t, make([]byte, ChunkBytes-100), chunks[1][100:])
}

func TestChunkPCMEmpty(t *testing.T) {
	assert.Nil(t, ChunkPCM(nil))
}

func TestDownmixStereo(t *testing.T) {
	raw := make([]byte, 8)
	neg := int16(-2000)
	binary.LittleEndian.PutUint16(raw[0:], uint16(int16(1000))) // L
	binary.LittleEndian.PutUint16(raw[2:], uint16(int16(3000))) // R
	binary.LittleEndian.PutUint16(raw[4:], uint16(neg))         // L
	binary.LittleEndian.PutUint16(raw[6:], uint16(neg))         // R

	mono := downmixStereo(raw)
	require.Len(t, mono, 2)
	assert.InDelta(t, 2000.0/32768, mono[0], 1e-9)
	assert.InDelta(t, -2000.0/32768, mono[1], 1e-9)
}

func TestFloatToPCM16Clips(t *testing.T) {
	out := floatToPCM16([]float64{0, 1.5, -1.5})
	require.Len(t, out, 6)
	assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(out[0:])))
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(out[2:])))
	assert.Equal(t, int16(-32767), int16(binary.LittleEndian.Uint16(out[4:])))
}

func TestPCM8kToWAV(t *testing.T) {
	pcm := Silence(100)
	wav, err := PCM8kToWAV(pcm)
	require.NoError(t, err)
	require.Len(t, wav, 44+len(pcm))

	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, uint32(SampleRate), binary.LittleEndian.Uint32(wav[24:28]))
}

package internal_cache

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

func TestLoadStatic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.raw"), []byte{1, 2, 3, 4}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "goodbye.raw"), []byte{5, 6}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.raw"), nil, 0o644))

	c := New(commons.NewNopLogger(), 10)
	require.NoError(t, c.Load(dir, []string{"greet", "goodbye", "missing_key"}))

	assert.Equal(t, []byte{1, 2, 3, 4}, c.GetStatic("greet"))
	assert.Equal(t, []byte{5, 6}, c.GetStatic("goodbye"))
	assert.Nil(t, c.GetStatic("notes"))
	assert.Nil(t, c.GetStatic("empty"))
	assert.Nil(t, c.GetStatic("missing_key"))
}

func TestLoadMissingDir(t *testing.T) {
	c := New(commons.NewNopLogger(), 10)
	assert.Error(t, c.Load(filepath.Join(t.TempDir(), "nope"), nil))
}

func TestDynamicHitMiss(t *testing.T) {
	c := New(commons.NewNopLogger(), 10)

	assert.Nil(t, c.GetDynamic("bonjour jean"))
	c.PutDynamic("bonjour jean", []byte{9, 9})
	assert.Equal(t, []byte{9, 9}, c.GetDynamic("bonjour jean"))
	// exact-text keying: different text misses
	assert.Nil(t, c.GetDynamic("bonjour Jean"))

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}

func TestDynamicFIFOEviction(t *testing.T) {
	c := New(commons.NewNopLogger(), 3)
	for i := 0; i < 3; i++ {
		c.PutDynamic(fmt.Sprintf("phrase-%d", i), []byte{byte(i)})
	}
	require.Equal(t, 3, c.DynamicLen())

	// Access the oldest entry; FIFO must NOT refresh its position.
	assert.NotNil(t, c.GetDynamic("phrase-0"))

	c.PutDynamic("phrase-3", []byte{3})
	assert.Equal(t, 3, c.DynamicLen())
	assert.Nil(t, c.GetDynamic("phrase-0"), "earliest insertion must be evicted")
	assert.NotNil(t, c.GetDynamic("phrase-1"))
	assert.NotNil(t, c.GetDynamic("phrase-3"))
}

func TestDynamicBoundHolds(t *testing.T) {
	c := New(commons.NewNopLogger(), 50)
	for i := 0; i < 500; i++ {
		c.PutDynamic(fmt.Sprintf("text-%d", i), []byte{byte(i)})
		assert.LessOrEqual(t, c.DynamicLen(), 50)
	}
	assert.Equal(t, 50, c.DynamicLen())
}

func TestPutDynamicReinsertKeepsPosition(t *testing.T) {
	c := New(commons.NewNopLogger(), 2)
	c.PutDynamic("a", []byte{1})
	c.PutDynamic("b", []byte{2})
	// Refresh "a" bytes; it keeps the oldest slot.
	c.PutDynamic("a", []byte{9})
	c.PutDynamic("c", []byte{3})

	assert.Nil(t, c.GetDynamic("a"), "re-insert must not refresh FIFO position")
	assert.NotNil(t, c.GetDynamic("b"))
	assert.NotNil(t, c.GetDynamic("c"))
}

func TestPutDynamicEmptyIgnored(t *testing.T) {
	c := New(commons.NewNopLogger(), 2)
	c.PutDynamic("a", nil)
	assert.Equal(t, 0, c.DynamicLen())
}

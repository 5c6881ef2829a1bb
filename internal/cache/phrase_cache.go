// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

// PhraseCache serves pre-rendered 8kHz PCM for bot utterances.
//
// Static entries are loaded once at startup from <key>.raw files and are
// immutable afterwards, so static lookups take no lock. Dynamic entries
// are keyed by the md5 of the exact synthesized text and bounded by a
// FIFO eviction policy: the earliest inserted entry goes first, and a hit
// never refreshes an entry's position.
type PhraseCache struct {
	logger commons.Logger

	static map[string][]byte

	mu       sync.Mutex
	dynamic  map[string][]byte
	order    []string
	capacity int

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates an empty cache with the given dynamic capacity.
func New(logger commons.Logger, capacity int) *PhraseCache {
	if capacity < 1 {
		capacity = 1
	}
	return &PhraseCache{
		logger:   logger,
		static:   map[string][]byte{},
		dynamic:  map[string][]byte{},
		capacity: capacity,
	}
}

// Load scans dir for <key>.raw files and maps each file's content to its
// key. Expected keys that are missing on disk only warn: the bot degrades
// to live TTS for those phrases.
func (c *PhraseCache) Load(dir string, expectedKeys []string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("cache: read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".raw") {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".raw")
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			c.logger.Warnw("cache: unreadable phrase file, skipping",
				"file", entry.Name(), "error", err.Error())
			continue
		}
		if len(data) == 0 {
			c.logger.Warnw("cache: empty phrase file, skipping", "file", entry.Name())
			continue
		}
		c.static[key] = data
	}
	for _, key := range expectedKeys {
		if _, ok := c.static[key]; !ok {
			c.logger.Warnf("cache: static phrase %q missing from %s", key, dir)
		}
	}
	c.logger.Infof("cache: loaded %d static phrases from %s", len(c.static), dir)
	return nil
}

// GetStatic returns the PCM for a static key, or nil.
func (c *PhraseCache) GetStatic(key string) []byte {
	pcm, ok := c.static[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	return pcm
}

// GetDynamic returns previously synthesized PCM for the exact text, or
// nil on miss.
func (c *PhraseCache) GetDynamic(text string) []byte {
	key := hashText(text)
	c.mu.Lock()
	pcm, ok := c.dynamic[key]
	c.mu.Unlock()
	if !ok {
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	return pcm
}

// PutDynamic stores synthesized PCM under the text's hash, evicting the
// oldest insertion when over capacity. Re-inserting an existing text
// refreshes the bytes but keeps the original queue position.
func (c *PhraseCache) PutDynamic(text string, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	key := hashText(text)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.dynamic[key]; exists {
		c.dynamic[key] = pcm
		return
	}
	c.dynamic[key] = pcm
	c.order = append(c.order, key)
	for len(c.dynamic) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.dynamic, oldest)
	}
}

// DynamicLen returns the current number of dynamic entries.
func (c *PhraseCache) DynamicLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dynamic)
}

// Stats returns cumulative hit and miss counts.
func (c *PhraseCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func hashText(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

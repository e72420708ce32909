// Package cache stores synthesized audio in memory so repeated sentences
// skip the remote synthesis round trip. Entries are zstd-compressed and
// evicted LRU under a byte budget.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Stats tracks cache effectiveness.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64 // compressed bytes currently held
	Capacity  int64
}

// Memory is a byte-bounded LRU cache of compressed audio blobs.
type Memory struct {
	capacity int64
	size     int64

	items    map[string]*list.Element
	eviction *list.List

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu    sync.Mutex
	stats Stats
}

type entry struct {
	key        string
	compressed []byte
}

// NewMemory creates a cache holding up to capacity compressed bytes.
func NewMemory(capacity int64) (*Memory, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Memory{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		encoder:  encoder,
		decoder:  decoder,
		stats:    Stats{Capacity: capacity},
	}, nil
}

// Key derives a cache key from the sentence text and the voice parameters
// that shaped the audio.
func Key(text string, params ...string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(params, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the decompressed audio for key, if cached.
func (c *Memory) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}
	c.eviction.MoveToFront(elem)
	compressed := elem.Value.(*entry).compressed
	c.stats.Hits++
	c.mu.Unlock()

	// Decompress outside the lock; DecodeAll is safe for concurrent use.
	data, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put compresses and stores value under key, evicting the least recently
// used entries as needed. Values larger than the whole cache are refused.
func (c *Memory) Put(key string, value []byte) error {
	compressed := c.encoder.EncodeAll(value, nil)
	csize := int64(len(compressed))

	if csize > c.capacity {
		return fmt.Errorf("value of %d compressed bytes exceeds cache capacity %d", csize, c.capacity)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		old := elem.Value.(*entry)
		c.size += csize - int64(len(old.compressed))
		old.compressed = compressed
		c.eviction.MoveToFront(elem)
		c.stats.Size = c.size
		return nil
	}

	for c.size+csize > c.capacity {
		oldest := c.eviction.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*entry)
		c.size -= int64(len(evicted.compressed))
		delete(c.items, evicted.key)
		c.eviction.Remove(oldest)
		c.stats.Evictions++
	}

	c.items[key] = c.eviction.PushFront(&entry{key: key, compressed: compressed})
	c.size += csize
	c.stats.Size = c.size
	return nil
}

// Len returns the number of cached entries.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// GetStats returns a snapshot of the cache statistics.
func (c *Memory) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Clear drops all entries.
func (c *Memory) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.size = 0
	c.stats.Size = 0
}

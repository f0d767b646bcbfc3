// Package memory implements ports.ElementCache in process memory.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/aretw0/eddy/pkg/domain"
	"github.com/aretw0/eddy/pkg/ports"
)

// Cache implements ports.ElementCache backed by a map.
// Safe for concurrent use. Readers iterate over a snapshot taken at Read
// time, so eviction never truncates an in-flight read.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][][]byte
	codec   ports.Codec
}

// NewCache creates an empty in-memory element cache.
func NewCache(codec ports.Codec) *Cache {
	return &Cache{
		entries: make(map[string][][]byte),
		codec:   codec,
	}
}

// composite joins key and tag with a separator no key can contain, so
// prefix eviction on keys never crosses into tags of other keys.
func composite(key, tag string) string {
	return key + "\x00" + tag
}

// Write opens an append-only sink for (key, tag). The entry is created
// immediately: a node that materializes zero elements still reads back as an
// empty sequence, never as a miss.
func (c *Cache) Write(ctx context.Context, key, tag string) (ports.Sink, error) {
	entry := composite(key, tag)
	c.mu.Lock()
	if _, ok := c.entries[entry]; !ok {
		c.entries[entry] = [][]byte{}
	}
	c.mu.Unlock()
	return &sink{cache: c, entry: entry}, nil
}

// Read opens a fresh reader over a snapshot of (key, tag).
func (c *Cache) Read(ctx context.Context, key, tag string) (ports.Reader, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, ok := c.entries[composite(key, tag)]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	snapshot := make([][]byte, len(data))
	copy(snapshot, data)
	return &reader{data: snapshot, codec: c.codec}, nil
}

// Exists reports whether (key, tag) holds data.
func (c *Cache) Exists(ctx context.Context, key, tag string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[composite(key, tag)]
	return ok, nil
}

// Evict removes every entry whose key starts with prefix.
func (c *Cache) Evict(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

// Codec exposes the element codec.
func (c *Cache) Codec() ports.Codec {
	return c.codec
}

type sink struct {
	cache *Cache
	entry string
}

func (s *sink) Append(ctx context.Context, e domain.Element) (int, error) {
	data, err := s.cache.codec.Encode(e)
	if err != nil {
		return 0, err
	}
	s.cache.mu.Lock()
	s.cache.entries[s.entry] = append(s.cache.entries[s.entry], data)
	s.cache.mu.Unlock()
	return len(data), nil
}

func (s *sink) Close() error { return nil }

type reader struct {
	data  [][]byte
	codec ports.Codec
	pos   int
}

func (r *reader) Next(ctx context.Context) (domain.Element, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Element{}, false, err
	}
	if r.pos >= len(r.data) {
		return domain.Element{}, false, nil
	}
	e, err := r.codec.Decode(r.data[r.pos])
	if err != nil {
		return domain.Element{}, false, err
	}
	r.pos++
	return e, true, nil
}

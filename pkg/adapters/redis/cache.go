// Package redis implements ports.ElementCache on Redis lists.
//
// Each (key, tag) entry is one list; appends are RPUSH so the stream stays
// append-only and ordered. Reads fetch the whole list up front, which gives
// every reader a stable snapshot: a concurrent eviction deletes the list but
// never truncates a sequence already handed out.
package redis

import (
	"context"
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/eddy/pkg/domain"
	"github.com/aretw0/eddy/pkg/ports"
)

// Cache implements ports.ElementCache using Redis.
type Cache struct {
	client *backend.Client
	prefix string
	codec  ports.Codec
}

// Option configures the cache.
type Option func(*Cache)

// WithPrefix sets the key namespace. Default "eddy:cache:".
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		c.prefix = prefix
	}
}

// New creates a Redis cache connecting to the given address.
func New(address, password string, db int, codec ports.Codec, opts ...Option) *Cache {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, codec, opts...)
}

// NewFromClient creates a Redis cache from an existing client.
func NewFromClient(client *backend.Client, codec ports.Codec, opts ...Option) *Cache {
	cache := &Cache{
		client: client,
		prefix: "eddy:cache:",
		codec:  codec,
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache
}

// entryKey namespaces one (key, tag) list. The "|" separator keeps prefix
// eviction from crossing entry boundaries: keys never contain it.
func (c *Cache) entryKey(key, tag string) string {
	return c.prefix + key + "|" + tag
}

// markerKey tracks that (key, tag) was written at all. Redis drops empty
// lists, so without it an entry holding zero elements would read as a miss.
// The marker shares the entry's prefix and is swept by the same eviction.
func (c *Cache) markerKey(key, tag string) string {
	return c.entryKey(key, tag) + "|m"
}

// Write opens an append-only sink for (key, tag). The entry is created
// immediately: a node that materializes zero elements still reads back as an
// empty sequence, never as a miss.
func (c *Cache) Write(ctx context.Context, key, tag string) (ports.Sink, error) {
	if err := c.client.SetNX(ctx, c.markerKey(key, tag), 1, 0).Err(); err != nil {
		return nil, fmt.Errorf("creating entry for %s: %w", c.entryKey(key, tag), err)
	}
	return &sink{cache: c, entry: c.entryKey(key, tag)}, nil
}

// Read snapshots (key, tag) and returns a reader over it.
// Returns domain.ErrCacheMiss if the entry does not exist.
func (c *Cache) Read(ctx context.Context, key, tag string) (ports.Reader, error) {
	entry := c.entryKey(key, tag)
	raw, err := c.client.LRange(ctx, entry, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", entry, err)
	}
	if len(raw) == 0 {
		n, err := c.client.Exists(ctx, c.markerKey(key, tag)).Result()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry, err)
		}
		if n == 0 {
			return nil, domain.ErrCacheMiss
		}
	}
	data := make([][]byte, len(raw))
	for i, s := range raw {
		data[i] = []byte(s)
	}
	return &reader{data: data, codec: c.codec}, nil
}

// Exists reports whether (key, tag) was written, empty entries included.
func (c *Cache) Exists(ctx context.Context, key, tag string) (bool, error) {
	n, err := c.client.Exists(ctx, c.entryKey(key, tag), c.markerKey(key, tag)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Evict removes every entry whose key starts with prefix.
func (c *Cache) Evict(ctx context.Context, prefix string) error {
	var cursor uint64
	pattern := c.prefix + prefix + "*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scanning %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("deleting %d keys: %w", len(keys), err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
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
	if err := s.cache.client.RPush(ctx, s.entry, data).Err(); err != nil {
		return 0, fmt.Errorf("appending to %s: %w", s.entry, err)
	}
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

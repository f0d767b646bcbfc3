package ports

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/eddy/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunElementCacheContract runs a suite of tests to verify that an
// ElementCache implementation adheres to the interface contract.
func RunElementCacheContract(t *testing.T, cache ElementCache) {
	ctx := context.Background()
	key := "contract-test-" + time.Now().Format("20060102150405")

	elements := func(n int) []domain.Element {
		out := make([]domain.Element, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, domain.Element{
				Value:     fmt.Sprintf("element-%d", i),
				EventTime: time.Unix(int64(i), 0).UTC(),
				Window:    "global",
			})
		}
		return out
	}

	readAll := func(t *testing.T, key, tag string) []domain.Element {
		t.Helper()
		r, err := cache.Read(ctx, key, tag)
		require.NoError(t, err)
		var out []domain.Element
		for {
			e, ok, err := r.Next(ctx)
			require.NoError(t, err)
			if !ok {
				break
			}
			out = append(out, e)
		}
		return out
	}

	t.Run("Round Trip", func(t *testing.T) {
		want := elements(5)
		sink, err := cache.Write(ctx, key, TagFull)
		require.NoError(t, err)
		for _, e := range want {
			n, err := sink.Append(ctx, e)
			require.NoError(t, err)
			assert.Positive(t, n, "Append should report bytes written")
		}
		require.NoError(t, sink.Close())

		// Repeated reads return the same sequence in the same order.
		for i := 0; i < 3; i++ {
			assert.Equal(t, want, readAll(t, key, TagFull))
		}
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := cache.Exists(ctx, key, TagFull)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = cache.Exists(ctx, key, "sample")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Miss", func(t *testing.T) {
		_, err := cache.Read(ctx, "never-written-"+key, TagFull)
		assert.ErrorIs(t, err, domain.ErrCacheMiss)
	})

	t.Run("Empty Entry", func(t *testing.T) {
		empty := "empty-" + key
		sink, err := cache.Write(ctx, empty, TagFull)
		require.NoError(t, err)
		require.NoError(t, sink.Close())

		got := readAll(t, empty, TagFull)
		assert.Empty(t, got, "an entry written with zero appends is an empty sequence, not a miss")

		ok, err := cache.Exists(ctx, empty, TagFull)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = cache.Exists(ctx, empty, TagCapture)
		require.NoError(t, err)
		assert.False(t, ok, "the entry exists only under its written tag")

		require.NoError(t, cache.Evict(ctx, empty))
		_, err = cache.Read(ctx, empty, TagFull)
		assert.ErrorIs(t, err, domain.ErrCacheMiss, "eviction removes empty entries too")
	})

	t.Run("Append After Close Of Writer Session", func(t *testing.T) {
		// A second Write on the same entry appends, it does not truncate.
		sink, err := cache.Write(ctx, key, TagFull)
		require.NoError(t, err)
		_, err = sink.Append(ctx, domain.Element{Value: "extra"})
		require.NoError(t, err)
		require.NoError(t, sink.Close())

		got := readAll(t, key, TagFull)
		require.Len(t, got, 6)
		assert.Equal(t, "extra", got[5].Value)
	})

	t.Run("Tags Are Independent", func(t *testing.T) {
		sink, err := cache.Write(ctx, key, "sample")
		require.NoError(t, err)
		_, err = sink.Append(ctx, domain.Element{Value: "sampled"})
		require.NoError(t, err)
		require.NoError(t, sink.Close())

		full := readAll(t, key, TagFull)
		sample := readAll(t, key, "sample")
		assert.Len(t, full, 6)
		assert.Len(t, sample, 1)
	})

	t.Run("Evict Prefix", func(t *testing.T) {
		other := "other-generation-" + key
		sink, err := cache.Write(ctx, other, TagFull)
		require.NoError(t, err)
		_, err = sink.Append(ctx, domain.Element{Value: "survivor"})
		require.NoError(t, err)
		require.NoError(t, sink.Close())

		require.NoError(t, cache.Evict(ctx, key))

		_, err = cache.Read(ctx, key, TagFull)
		assert.ErrorIs(t, err, domain.ErrCacheMiss, "evicted key should miss")
		_, err = cache.Read(ctx, key, "sample")
		assert.ErrorIs(t, err, domain.ErrCacheMiss, "eviction covers all tags of the key")

		got := readAll(t, other, TagFull)
		assert.Len(t, got, 1, "entries outside the prefix survive eviction")
		require.NoError(t, cache.Evict(ctx, other))
	})

	t.Run("Open Reader Survives Eviction", func(t *testing.T) {
		want := elements(3)
		sink, err := cache.Write(ctx, key, TagFull)
		require.NoError(t, err)
		for _, e := range want {
			_, err := sink.Append(ctx, e)
			require.NoError(t, err)
		}
		require.NoError(t, sink.Close())

		r, err := cache.Read(ctx, key, TagFull)
		require.NoError(t, err)

		// Drain one element so the snapshot is pinned, then evict.
		first, ok, err := r.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want[0], first)

		require.NoError(t, cache.Evict(ctx, key))

		var rest []domain.Element
		for {
			e, ok, err := r.Next(ctx)
			require.NoError(t, err)
			if !ok {
				break
			}
			rest = append(rest, e)
		}
		assert.Equal(t, want[1:], rest, "in-flight reader keeps its snapshot")
	})
}

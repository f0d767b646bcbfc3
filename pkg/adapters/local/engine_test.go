package local_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/eddy/pkg/adapters/local"
	"github.com/aretw0/eddy/pkg/adapters/memory"
	"github.com/aretw0/eddy/pkg/codec"
	"github.com/aretw0/eddy/pkg/domain"
	"github.com/aretw0/eddy/pkg/fingerprint"
	"github.com/aretw0/eddy/pkg/ports"
)

func numbersSource(values ...float64) domain.SourceFunc {
	return func(_ context.Context, emit func(domain.Element) bool) error {
		for _, v := range values {
			if !emit(domain.Element{Value: v}) {
				return nil
			}
		}
		return nil
	}
}

func squareFn(_ context.Context, in domain.Element, emit func(domain.Element)) error {
	v, ok := in.Value.(float64)
	if !ok {
		return errors.New("expected float64 element")
	}
	emit(domain.Element{Value: v * v})
	return nil
}

func TestSubmit_RejectsReadOnlyFragment(t *testing.T) {
	cache := memory.NewCache(codec.JSON{})
	eng := local.NewEngine(cache)

	f := &domain.Fragment{
		Pipeline:   domain.NewPipeline("p"),
		CacheReads: map[string]domain.CacheRef{"0/A": {Key: "k", Tag: ports.TagFull}},
	}
	_, err := eng.Submit(context.Background(), f, ports.SubmitOptions{})
	assert.Error(t, err)
}

func TestRun_SourceAndTransform(t *testing.T) {
	cache := memory.NewCache(codec.JSON{})
	eng := local.NewEngine(cache)
	ctx := context.Background()

	p := domain.NewPipeline("p")
	src := p.Apply(&domain.Transform{
		Label:  "Numbers",
		Kind:   domain.KindCreate,
		Source: numbersSource(1, 2, 3),
	})
	sq := p.Apply(&domain.Transform{Label: "Square", Kind: domain.KindMap, Fn: squareFn}, src)

	f := &domain.Fragment{
		Pipeline:   p,
		Nodes:      []*domain.Node{src, sq},
		Targets:    []*domain.Node{sq},
		CacheReads: map[string]domain.CacheRef{},
		KeyPrefix:  "gen-1/",
	}
	res, err := eng.Submit(ctx, f, ports.SubmitOptions{})
	require.NoError(t, err)
	require.NoError(t, res.Wait(ctx))
	assert.Equal(t, domain.StateDone, res.State())

	elements, err := res.Read(sq, false)
	require.NoError(t, err)
	require.Len(t, elements, 3)
	assert.Equal(t, float64(1), elements[0].Value)
	assert.Equal(t, float64(4), elements[1].Value)
	assert.Equal(t, float64(9), elements[2].Value)

	// Every executed node is instrumented into the cache under its
	// generation-prefixed fingerprint.
	for _, n := range f.Nodes {
		fp, err := fingerprint.Node(n)
		require.NoError(t, err)
		ok, err := cache.Exists(ctx, "gen-1/"+fp.String(), ports.TagFull)
		require.NoError(t, err)
		assert.True(t, ok, "node %s must be cached", n.ID)
	}
}

func TestRun_EventTimePropagation(t *testing.T) {
	cache := memory.NewCache(codec.JSON{})
	eng := local.NewEngine(cache)
	ctx := context.Background()

	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := domain.NewPipeline("p")
	src := p.Apply(&domain.Transform{
		Label: "Stamped",
		Kind:  domain.KindCreate,
		Source: func(_ context.Context, emit func(domain.Element) bool) error {
			emit(domain.Element{Value: 1.0, EventTime: stamp, Window: "w0"})
			return nil
		},
	})
	sq := p.Apply(&domain.Transform{Label: "Square", Kind: domain.KindMap, Fn: squareFn}, src)

	f := &domain.Fragment{
		Pipeline:   p,
		Nodes:      []*domain.Node{src, sq},
		Targets:    []*domain.Node{sq},
		CacheReads: map[string]domain.CacheRef{},
		KeyPrefix:  "gen-1/",
	}
	res, err := eng.Submit(ctx, f, ports.SubmitOptions{})
	require.NoError(t, err)
	require.NoError(t, res.Wait(ctx))

	withInfo, err := res.Read(sq, true)
	require.NoError(t, err)
	require.Len(t, withInfo, 1)
	assert.Equal(t, stamp, withInfo[0].EventTime, "event time inherited from input")
	assert.Equal(t, "w0", withInfo[0].Window, "window inherited from input")

	stripped, err := res.Read(sq, false)
	require.NoError(t, err)
	assert.True(t, stripped[0].EventTime.IsZero())
	assert.Empty(t, stripped[0].Window)
}

func TestRun_CacheReadSubstitution(t *testing.T) {
	cache := memory.NewCache(codec.JSON{})
	eng := local.NewEngine(cache)
	ctx := context.Background()

	p := domain.NewPipeline("p")
	src := p.Apply(&domain.Transform{
		Label:  "Numbers",
		Kind:   domain.KindCreate,
		Source: numbersSource(5),
	})
	sq := p.Apply(&domain.Transform{Label: "Square", Kind: domain.KindMap, Fn: squareFn}, src)

	// Pre-populate the cache as if the source had been captured earlier.
	sink, err := cache.Write(ctx, "gen-1/src-key", ports.TagCapture)
	require.NoError(t, err)
	_, err = sink.Append(ctx, domain.Element{Value: 7.0})
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	f := &domain.Fragment{
		Pipeline: p,
		Nodes:    []*domain.Node{sq},
		Targets:  []*domain.Node{sq},
		CacheReads: map[string]domain.CacheRef{
			src.ID: {Key: "gen-1/src-key", Tag: ports.TagCapture},
		},
		KeyPrefix: "gen-1/",
	}
	res, err := eng.Submit(ctx, f, ports.SubmitOptions{})
	require.NoError(t, err)
	require.NoError(t, res.Wait(ctx))

	elements, err := res.Read(sq, false)
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, float64(49), elements[0].Value, "input came from the cache, not the source")
}

func TestRun_MissingSubstitutionFails(t *testing.T) {
	cache := memory.NewCache(codec.JSON{})
	eng := local.NewEngine(cache)
	ctx := context.Background()

	p := domain.NewPipeline("p")
	src := p.Apply(&domain.Transform{
		Label:  "Numbers",
		Kind:   domain.KindCreate,
		Source: numbersSource(1),
	})
	sq := p.Apply(&domain.Transform{Label: "Square", Kind: domain.KindMap, Fn: squareFn}, src)

	f := &domain.Fragment{
		Pipeline: p,
		Nodes:    []*domain.Node{sq},
		Targets:  []*domain.Node{sq},
		CacheReads: map[string]domain.CacheRef{
			src.ID: {Key: "gen-1/absent", Tag: ports.TagCapture},
		},
		KeyPrefix: "gen-1/",
	}
	res, err := eng.Submit(ctx, f, ports.SubmitOptions{})
	require.NoError(t, err)

	err = res.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
	assert.Equal(t, domain.StateFailed, res.State())
}

func TestRun_TransformFailure(t *testing.T) {
	cache := memory.NewCache(codec.JSON{})
	eng := local.NewEngine(cache)
	ctx := context.Background()

	boom := errors.New("boom")
	p := domain.NewPipeline("p")
	src := p.Apply(&domain.Transform{
		Label:  "Numbers",
		Kind:   domain.KindCreate,
		Source: numbersSource(1),
	})
	bad := p.Apply(&domain.Transform{
		Label: "Explode",
		Kind:  domain.KindMap,
		Fn: func(context.Context, domain.Element, func(domain.Element)) error {
			return boom
		},
	}, src)

	f := &domain.Fragment{
		Pipeline:   p,
		Nodes:      []*domain.Node{src, bad},
		Targets:    []*domain.Node{bad},
		CacheReads: map[string]domain.CacheRef{},
		KeyPrefix:  "gen-1/",
	}
	res, err := eng.Submit(ctx, f, ports.SubmitOptions{})
	require.NoError(t, err)

	err = res.Wait(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, domain.StateFailed, res.State())
}

func TestRun_CancelForegroundFragment(t *testing.T) {
	cache := memory.NewCache(codec.JSON{})
	eng := local.NewEngine(cache)
	ctx := context.Background()

	started := make(chan struct{})
	p := domain.NewPipeline("p")
	src := p.Apply(&domain.Transform{
		Label: "Endless",
		Kind:  domain.KindCreate,
		Source: func(ctx context.Context, emit func(domain.Element) bool) error {
			var once atomic.Bool
			for {
				if !emit(domain.Element{Value: 0.0}) {
					return ctx.Err()
				}
				if once.CompareAndSwap(false, true) {
					close(started)
				}
				time.Sleep(time.Millisecond)
			}
		},
	})

	f := &domain.Fragment{
		Pipeline:   p,
		Nodes:      []*domain.Node{src},
		Targets:    []*domain.Node{src},
		CacheReads: map[string]domain.CacheRef{},
		KeyPrefix:  "gen-1/",
	}
	res, err := eng.Submit(ctx, f, ports.SubmitOptions{})
	require.NoError(t, err)

	<-started
	res.Cancel()

	err = res.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StateCancelled, res.State())
}

func TestRun_BackgroundBudgetStopsCleanly(t *testing.T) {
	cache := memory.NewCache(codec.JSON{})
	eng := local.NewEngine(cache)
	ctx := context.Background()

	p := domain.NewPipeline("p")
	src := p.Apply(&domain.Transform{
		Label: "Ticks",
		Kind:  domain.KindPeriodicSeq,
		Source: func(ctx context.Context, emit func(domain.Element) bool) error {
			for i := 0; ; i++ {
				if !emit(domain.Element{Value: float64(i)}) {
					return ctx.Err()
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(2 * time.Millisecond):
				}
			}
		},
	})

	var bytes atomic.Int64
	f := &domain.Fragment{
		Pipeline:   p,
		Nodes:      []*domain.Node{src},
		Targets:    []*domain.Node{src},
		CacheReads: map[string]domain.CacheRef{},
		KeyPrefix:  "gen-1/",
		Background: true,
		Budget:     &domain.CaptureBudget{Duration: 40 * time.Millisecond, SizeLimit: 1 << 20},
	}
	res, err := eng.Submit(ctx, f, ports.SubmitOptions{
		Progress: func(delta int64) { bytes.Add(delta) },
	})
	require.NoError(t, err)

	require.NoError(t, res.Wait(ctx), "budget expiry is a clean completion")
	assert.Equal(t, domain.StateDone, res.State())
	assert.Positive(t, bytes.Load(), "progress reported for captured bytes")

	fp, err := fingerprint.Node(src)
	require.NoError(t, err)
	ok, err := cache.Exists(ctx, "gen-1/"+fp.String(), ports.TagCapture)
	require.NoError(t, err)
	assert.True(t, ok, "background data lands under the capture tag")
}

package eddy_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/eddy"
	"github.com/aretw0/eddy/pkg/adapters/memory"
	"github.com/aretw0/eddy/pkg/capture"
	"github.com/aretw0/eddy/pkg/codec"
	"github.com/aretw0/eddy/pkg/config"
	"github.com/aretw0/eddy/pkg/domain"
	"github.com/aretw0/eddy/pkg/fingerprint"
	"github.com/aretw0/eddy/pkg/fragment"
	"github.com/aretw0/eddy/pkg/ports"
)

func countingSource(runs *atomic.Int32, values ...float64) domain.SourceFunc {
	return func(_ context.Context, emit func(domain.Element) bool) error {
		runs.Add(1)
		for _, v := range values {
			if !emit(domain.Element{Value: v}) {
				return nil
			}
		}
		return nil
	}
}

func countingMap(calls *atomic.Int32, f func(float64) float64) domain.TransformFunc {
	return func(_ context.Context, in domain.Element, emit func(domain.Element)) error {
		calls.Add(1)
		v, ok := in.Value.(float64)
		if !ok {
			return errors.New("expected float64 element")
		}
		emit(domain.Element{Value: f(v)})
		return nil
	}
}

func values(elements []domain.Element) []float64 {
	out := make([]float64, len(elements))
	for i, e := range elements {
		out[i] = e.Value.(float64)
	}
	return out
}

func TestCollect_MinimalFragmentAndCacheReuse(t *testing.T) {
	sess := eddy.New()
	ctx := context.Background()

	var srcRuns, aCalls, bCalls atomic.Int32
	p := domain.NewPipeline("demo")
	src := p.Apply(&domain.Transform{
		Label:  "Numbers",
		Kind:   domain.KindCreate,
		Source: countingSource(&srcRuns, 1, 2, 3),
	})
	a := p.Apply(&domain.Transform{
		Label: "Square",
		Kind:  domain.KindMap,
		Fn:    countingMap(&aCalls, func(v float64) float64 { return v * v }),
	}, src)
	b := p.Apply(&domain.Transform{
		Label: "AddTen",
		Kind:  domain.KindMap,
		Fn:    countingMap(&bCalls, func(v float64) float64 { return v + 10 }),
	}, a)

	sess.Watch(map[string]*domain.Node{"src": src, "a": a, "b": b})

	got, err := sess.Collect(ctx, a, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 4, 9}, values(got))
	assert.EqualValues(t, 1, srcRuns.Load())
	assert.EqualValues(t, 3, aCalls.Load())
	assert.Zero(t, bCalls.Load(), "b is not a dependency of a and must not run")

	// b's fragment substitutes the cached a; neither src nor a re-run.
	got, err = sess.Collect(ctx, b, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 14, 19}, values(got))
	assert.EqualValues(t, 1, srcRuns.Load())
	assert.EqualValues(t, 3, aCalls.Load())
	assert.EqualValues(t, 3, bCalls.Load())

	// Re-collecting a computed node is a pure cache read.
	got, err = sess.Collect(ctx, a, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 4, 9}, values(got))
	assert.EqualValues(t, 1, srcRuns.Load())
	assert.EqualValues(t, 3, aCalls.Load())
}

func TestCollect_EmptyOutputNodeServedFromCache(t *testing.T) {
	sess := eddy.New()
	ctx := context.Background()

	var srcRuns atomic.Int32
	p := domain.NewPipeline("demo")
	src := p.Apply(&domain.Transform{
		Label:  "Numbers",
		Kind:   domain.KindCreate,
		Source: countingSource(&srcRuns, 1, 2, 3),
	})
	none := p.Apply(&domain.Transform{
		Label: "DropAll",
		Kind:  domain.KindFilter,
		Fn: func(context.Context, domain.Element, func(domain.Element)) error {
			return nil
		},
	}, src)

	got, err := sess.Collect(ctx, none, false)
	require.NoError(t, err)
	assert.Empty(t, got)

	// The second collect must serve the computed empty node from the cache.
	got, err = sess.Collect(ctx, none, false)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.EqualValues(t, 1, srcRuns.Load(), "an empty result is cached, not recomputed")
}

func TestHead_TruncatesToN(t *testing.T) {
	sess := eddy.New()
	ctx := context.Background()

	var srcRuns atomic.Int32
	p := domain.NewPipeline("demo")
	src := p.Apply(&domain.Transform{
		Label:  "Numbers",
		Kind:   domain.KindCreate,
		Source: countingSource(&srcRuns, 1, 2, 3, 4, 5),
	})

	got, err := sess.Head(ctx, src, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, values(got))

	got, err = sess.Head(ctx, src, 0, false)
	require.NoError(t, err)
	assert.Len(t, got, 5, "n <= 0 means all elements")
}

func TestEvaluate_ConcurrentCallsWriteEachNodeOnce(t *testing.T) {
	cache := memory.NewCache(codec.JSON{})
	sess := eddy.New(eddy.WithCache(cache))
	ctx := context.Background()

	var srcRuns, sqCalls atomic.Int32
	p := domain.NewPipeline("demo")
	src := p.Apply(&domain.Transform{
		Label:  "Numbers",
		Kind:   domain.KindCreate,
		Source: countingSource(&srcRuns, 1, 2, 3),
	})
	sq := p.Apply(&domain.Transform{
		Label: "Square",
		Kind:  domain.KindMap,
		Fn:    countingMap(&sqCalls, func(v float64) float64 { return v * v }),
	}, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := sess.Collect(ctx, sq, false)
			assert.NoError(t, err)
			assert.Equal(t, []float64{1, 4, 9}, values(got))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, srcRuns.Load(), "overlapping evaluations must not re-run the source")
	assert.EqualValues(t, 3, sqCalls.Load())

	// The cache entry holds each element exactly once, no interleaved
	// duplicate appends.
	fp, err := fingerprint.Node(sq)
	require.NoError(t, err)
	r, err := cache.Read(ctx, capture.Prefix(1)+fp.String(), ports.TagFull)
	require.NoError(t, err)
	count := 0
	for {
		_, ok, err := r.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 3, count)
}

func TestEvaluate_RejectsCrossPipelineTargets(t *testing.T) {
	sess := eddy.New()
	var runs atomic.Int32

	p1 := domain.NewPipeline("one")
	n1 := p1.Apply(&domain.Transform{Label: "A", Kind: domain.KindCreate, Source: countingSource(&runs, 1)})
	p2 := domain.NewPipeline("two")
	n2 := p2.Apply(&domain.Transform{Label: "B", Kind: domain.KindCreate, Source: countingSource(&runs, 2)})

	err := sess.Evaluate(context.Background(), n1, n2)
	assert.ErrorIs(t, err, domain.ErrCrossPipeline)
}

func TestEvaluate_NoTargets(t *testing.T) {
	sess := eddy.New()
	err := sess.Evaluate(context.Background())
	assert.ErrorIs(t, err, fragment.ErrNoTargets)
}

func TestEvaluate_FailurePropagates(t *testing.T) {
	sess := eddy.New()
	var runs atomic.Int32
	boom := errors.New("boom")

	p := domain.NewPipeline("demo")
	src := p.Apply(&domain.Transform{Label: "Numbers", Kind: domain.KindCreate, Source: countingSource(&runs, 1)})
	bad := p.Apply(&domain.Transform{
		Label: "Explode",
		Kind:  domain.KindMap,
		Fn: func(context.Context, domain.Element, func(domain.Element)) error {
			return boom
		},
	}, src)

	err := sess.Evaluate(context.Background(), bad)
	assert.ErrorIs(t, err, boom)
}

func TestEvaluate_AutoWatchesAnonymousTargets(t *testing.T) {
	sess := eddy.New()
	ctx := context.Background()

	var runs atomic.Int32
	p := domain.NewPipeline("demo")
	named := p.Apply(&domain.Transform{Label: "Named", Kind: domain.KindCreate, Source: countingSource(&runs, 1)})
	anon := p.Apply(&domain.Transform{
		Label: "Double",
		Kind:  domain.KindMap,
		Fn:    countingMap(new(atomic.Int32), func(v float64) float64 { return v * 2 }),
	}, named)

	sess.Watch(map[string]*domain.Node{"named": named})
	require.NoError(t, sess.Evaluate(ctx, anon))

	bindings := sess.Watching()
	names := make(map[string]*domain.Node, len(bindings))
	for _, b := range bindings {
		names[b.Name] = b.Node
	}
	assert.Equal(t, named, names["named"], "explicit binding is kept")
	assert.Equal(t, anon, names["anonymous_collection_1"], "unnamed target gets an invented binding")
}

func TestCaptureReplay_SourceNotRerun(t *testing.T) {
	cache := memory.NewCache(codec.JSON{})
	sess := eddy.New(eddy.WithCache(cache))
	ctx := context.Background()

	var srcRuns atomic.Int32
	p := domain.NewPipeline("stream")
	src := p.Apply(&domain.Transform{
		Label:  "Ticks",
		Kind:   domain.KindPeriodicSeq,
		Source: countingSource(&srcRuns, 7),
	})
	square := p.Apply(&domain.Transform{
		Label: "Square",
		Kind:  domain.KindMap,
		Fn:    countingMap(new(atomic.Int32), func(v float64) float64 { return v * v }),
	}, src)
	double := p.Apply(&domain.Transform{
		Label: "Double",
		Kind:  domain.KindMap,
		Fn:    countingMap(new(atomic.Int32), func(v float64) float64 { return v * 2 }),
	}, src)

	// The first evaluation starts the background capture alongside the
	// foreground run.
	got, err := sess.Collect(ctx, square, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{49}, values(got))

	fp, err := fingerprint.Node(src)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ok, err := cache.Exists(ctx, capture.Prefix(1)+fp.String(), ports.TagCapture)
		return err == nil && ok && sess.Capture().Done()
	}, 2*time.Second, 5*time.Millisecond, "background capture finishes the source snapshot")
	runsAfterCapture := srcRuns.Load()

	// Forget the computed state; the captured snapshot now substitutes the
	// source instead of another run.
	sess.Registry().Reset()
	got, err = sess.Collect(ctx, double, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{14}, values(got))
	assert.Equal(t, runsAfterCapture, srcRuns.Load(), "replayable source is served from capture")
}

func TestEvictCapturedData_DiscardsGeneration(t *testing.T) {
	cache := memory.NewCache(codec.JSON{})
	sess := eddy.New(eddy.WithCache(cache))
	ctx := context.Background()

	var srcRuns atomic.Int32
	p := domain.NewPipeline("stream")
	src := p.Apply(&domain.Transform{
		Label:  "Ticks",
		Kind:   domain.KindPeriodicSeq,
		Source: countingSource(&srcRuns, 3),
	})
	square := p.Apply(&domain.Transform{
		Label: "Square",
		Kind:  domain.KindMap,
		Fn:    countingMap(new(atomic.Int32), func(v float64) float64 { return v * v }),
	}, src)

	got, err := sess.Collect(ctx, square, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{9}, values(got))

	// Wait for the capture job to finish so the eviction below cannot race
	// with its appends.
	fp, err := fingerprint.Node(src)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ok, err := cache.Exists(ctx, capture.Prefix(1)+fp.String(), ports.TagCapture)
		return err == nil && ok && sess.Capture().Done()
	}, 2*time.Second, 5*time.Millisecond)
	runsBefore := srcRuns.Load()

	require.NoError(t, sess.EvictCapturedData(ctx))
	assert.Equal(t, capture.StateStoppedEvicted, sess.Capture().State())
	assert.GreaterOrEqual(t, sess.Capture().Generation(), uint64(2))

	ok, err := cache.Exists(ctx, capture.Prefix(1)+fp.String(), ports.TagCapture)
	require.NoError(t, err)
	assert.False(t, ok, "captured data of the evicted generation is gone")

	// The next collect recomputes from scratch under the new generation.
	got, err = sess.Collect(ctx, square, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{9}, values(got))
	assert.Greater(t, srcRuns.Load(), runsBefore, "eviction forces a fresh source run")
}

func TestConfig_DisablesReplay(t *testing.T) {
	cfg := config.Default()
	cfg.EnableCaptureReplay = false
	sess := eddy.New(eddy.WithConfig(cfg))
	ctx := context.Background()

	var srcRuns atomic.Int32
	p := domain.NewPipeline("stream")
	src := p.Apply(&domain.Transform{
		Label:  "Ticks",
		Kind:   domain.KindPeriodicSeq,
		Source: countingSource(&srcRuns, 1, 2, 3),
	})

	require.NoError(t, sess.Evaluate(ctx, src))
	gen1 := sess.Capture().Generation()
	sess.Registry().Reset()

	require.NoError(t, sess.Evaluate(ctx, src))
	assert.Greater(t, sess.Capture().Generation(), gen1,
		"without replay every evaluation opens a fresh capture generation")
}

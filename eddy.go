package eddy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/eddy/internal/logging"
	"github.com/aretw0/eddy/pkg/adapters/local"
	"github.com/aretw0/eddy/pkg/adapters/memory"
	"github.com/aretw0/eddy/pkg/capture"
	"github.com/aretw0/eddy/pkg/codec"
	"github.com/aretw0/eddy/pkg/config"
	"github.com/aretw0/eddy/pkg/domain"
	"github.com/aretw0/eddy/pkg/fingerprint"
	"github.com/aretw0/eddy/pkg/fragment"
	"github.com/aretw0/eddy/pkg/observability"
	"github.com/aretw0/eddy/pkg/ports"
	"github.com/aretw0/eddy/pkg/session"
)

// Session is the entry point for interactive pipeline exploration. It wires
// the environment registry, the capture controller, the fragment builder and
// the execution engine behind a small blocking API.
type Session struct {
	cfg        *config.Config
	cache      ports.ElementCache
	engine     ports.Engine
	logger     *slog.Logger
	metricsReg prometheus.Registerer

	env     *session.Registry
	capture *capture.Controller
	metrics *observability.Metrics

	// evalMu serializes evaluations. The cache grants no per-key writer
	// exclusivity; the session is the coordinator that provides it, so two
	// concurrent evaluations never append the same node's elements twice.
	evalMu sync.Mutex
}

// New creates a Session. Without options it runs fully in process: an
// in-memory element cache and a local execution engine.
func New(opts ...Option) *Session {
	s := &Session{
		cfg:    config.Default(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = memory.NewCache(codec.JSON{})
	}
	if s.engine == nil {
		s.engine = local.NewEngine(s.cache, local.WithLogger(s.logger))
	}
	if s.metricsReg == nil {
		s.metricsReg = prometheus.NewRegistry()
	}
	s.metrics = observability.NewMetrics(s.metricsReg)
	s.env = session.NewRegistry(s.cache)
	s.capture = capture.NewController(s.engine, s.cache, s.cfg, capture.WithLogger(s.logger))
	return s
}

// Config returns the active configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Registry returns the environment state, mainly for inspection and tests.
func (s *Session) Registry() *session.Registry { return s.env }

// Capture returns the background capture controller.
func (s *Session) Capture() *capture.Controller { return s.capture }

// Watch registers explicit name-to-node bindings.
func (s *Session) Watch(bindings map[string]*domain.Node) {
	s.env.Watch(bindings)
}

// Watching returns the registered bindings.
func (s *Session) Watching() []session.Binding {
	return s.env.Watching()
}

// Evaluate materializes the target nodes, blocking until the underlying
// fragment execution finishes. Targets already computed are served from the
// cache without a new submission. All targets must belong to one pipeline.
func (s *Session) Evaluate(ctx context.Context, targets ...*domain.Node) error {
	_, _, err := s.evaluate(ctx, targets)
	return err
}

// Collect materializes all elements of a node.
func (s *Session) Collect(ctx context.Context, node *domain.Node, includeWindowInfo bool) ([]domain.Element, error) {
	return s.Head(ctx, node, -1, includeWindowInfo)
}

// Head materializes the first n elements of a node; n <= 0 means all.
func (s *Session) Head(ctx context.Context, node *domain.Node, n int, includeWindowInfo bool) ([]domain.Element, error) {
	elements, err := s.read(ctx, node, includeWindowInfo)
	if errors.Is(err, domain.ErrCacheMiss) {
		// The generation was discarded under us. Re-observing the new
		// generation clears stale computed state, so one retry recomputes.
		s.metrics.CacheMisses.Inc()
		s.logger.Debug("cache miss during read, recomputing", "node", node.ID)
		elements, err = s.read(ctx, node, includeWindowInfo)
	}
	if err != nil {
		return nil, err
	}
	if n > 0 && len(elements) > n {
		elements = elements[:n]
	}
	return elements, nil
}

// EvictCapturedData forcefully evicts all captured replayable data. The next
// evaluation captures fresh data from sources.
func (s *Session) EvictCapturedData(ctx context.Context) error {
	if err := s.capture.Evict(ctx); err != nil {
		return err
	}
	s.metrics.Evictions.Inc()
	return nil
}

// read runs one evaluation for the node and returns its elements, either
// from the execution result or from the cache when it was already computed.
func (s *Session) read(ctx context.Context, node *domain.Node, includeWindowInfo bool) ([]domain.Element, error) {
	f, res, err := s.evaluate(ctx, []*domain.Node{node})
	if err != nil {
		return nil, err
	}
	if ref, ok := f.CacheReads[node.ID]; ok {
		return s.readCache(ctx, ref, includeWindowInfo)
	}
	if res == nil {
		return nil, fmt.Errorf("node %s was neither executed nor cached", node.ID)
	}
	return res.Read(node, includeWindowInfo)
}

// evaluate is the single entry point every materialization goes through.
// Serialized: a second caller blocks until the first finishes and then sees
// its computed state, turning overlapping work into cache reads.
func (s *Session) evaluate(ctx context.Context, targets []*domain.Node) (*domain.Fragment, ports.Result, error) {
	if len(targets) == 0 {
		return nil, nil, fragment.ErrNoTargets
	}
	s.evalMu.Lock()
	defer s.evalMu.Unlock()
	s.metrics.Evaluations.Inc()
	p := targets[0].Pipeline

	// Sources without a user reference are still tracked for capture.
	for _, n := range fingerprint.CaptureNodes(p, s.cfg.Capturable()) {
		if !s.env.IsWatched(n) {
			s.env.WatchAnonymous(n)
		}
	}
	for _, tgt := range targets {
		s.env.WatchAnonymous(tgt)
	}

	// Capture degradation is non-fatal: evaluation falls back to direct,
	// non-replayed execution.
	if err := s.capture.AttemptStart(ctx, p); err != nil {
		s.metrics.CaptureStartFailures.Inc()
		s.logger.Warn("background capture unavailable, running sources directly", "err", err)
	}

	// Pin the generation for the whole call. Readers of an older generation
	// finish against their snapshots; we never start against a stale one.
	gen := s.capture.Generation()
	s.env.ObserveGeneration(gen)
	prefix := capture.Prefix(gen)
	s.metrics.CaptureGeneration.Set(float64(gen))
	if rec := s.capture.Record(); rec != nil {
		s.metrics.CaptureBytes.Set(float64(rec.Bytes()))
	}

	// A capture is replayed only once its job finished: a snapshot still
	// being appended would substitute a source with a truncated sequence.
	replayable := s.cfg.EnableCaptureReplay && s.capture.Valid() && s.capture.Done()
	computed := func(n *domain.Node) bool {
		if s.env.IsComputed(n) {
			return true
		}
		return replayable && s.isCaptured(ctx, n, prefix)
	}
	keyFor := func(n *domain.Node) (domain.CacheRef, error) {
		fp, err := fingerprint.Node(n)
		if err != nil {
			return domain.CacheRef{}, err
		}
		tag := ports.TagFull
		if !s.env.IsComputed(n) {
			tag = ports.TagCapture
		}
		return domain.CacheRef{Key: prefix + fp.String(), Tag: tag}, nil
	}

	f, err := fragment.Build(targets, computed, keyFor)
	if err != nil {
		return nil, nil, err
	}
	f.KeyPrefix = prefix

	if f.ReadOnly() {
		s.metrics.CacheHits.Add(float64(len(f.CacheReads)))
		s.logger.Debug("all targets served from cache", "pipeline", p.Name, "targets", len(targets))
		return f, nil, nil
	}
	s.metrics.CacheHits.Add(float64(len(f.CacheReads)))

	res, err := fragment.Run(ctx, s.engine, f, ports.SubmitOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("submitting fragment: %w", err)
	}
	s.env.SetResult(p, res)

	waitErr := res.Wait(ctx)
	if res.State() == domain.StateDone {
		// Everything this run materialized is in the cache; later fragments
		// substitute it instead of recomputing.
		s.env.MarkComputed(f.Nodes...)
		return f, res, nil
	}
	if waitErr != nil {
		return f, res, fmt.Errorf("fragment execution %s: %w", res.State(), waitErr)
	}
	return f, res, fmt.Errorf("fragment execution finished in state %s", res.State())
}

// isCaptured reports whether a capturable source has background-captured
// data under the pinned generation.
func (s *Session) isCaptured(ctx context.Context, n *domain.Node, prefix string) bool {
	if len(n.Inputs) != 0 || !n.Transform.IsSource() {
		return false
	}
	if !s.cfg.Capturable()[n.Transform.Kind] {
		return false
	}
	fp, err := fingerprint.Node(n)
	if err != nil {
		return false
	}
	ok, err := s.cache.Exists(ctx, prefix+fp.String(), ports.TagCapture)
	return err == nil && ok
}

// readCache drains a cache entry into memory.
func (s *Session) readCache(ctx context.Context, ref domain.CacheRef, includeWindowInfo bool) ([]domain.Element, error) {
	r, err := s.cache.Read(ctx, ref.Key, ref.Tag)
	if err != nil {
		return nil, err
	}
	var out []domain.Element
	for {
		e, ok, err := r.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		if !includeWindowInfo {
			e = e.StripWindowInfo()
		}
		out = append(out, e)
	}
}

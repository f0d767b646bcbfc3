/*
Package capture supervises the background job that snapshots replayable
source data into the element cache.

One Controller manages at most one background job per pipeline process. Each
started job opens a new capture generation; all cache entries written while
that generation is current share its key prefix and are discarded together
when the generation is invalidated.
*/
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/eddy/internal/logging"
	"github.com/aretw0/eddy/pkg/config"
	"github.com/aretw0/eddy/pkg/domain"
	"github.com/aretw0/eddy/pkg/fingerprint"
	"github.com/aretw0/eddy/pkg/ports"
)

// State is the lifecycle state of the capture controller.
type State string

const (
	StateIdle           State = "idle"
	StateStarting       State = "starting"
	StateRunning        State = "running"
	StateStoppedLimit   State = "stopped_limit"
	StateStoppedEvicted State = "stopped_evicted"
)

// Record represents one capture generation.
type Record struct {
	// Generation is the monotonically increasing counter this record
	// belongs to.
	Generation uint64
	// StartedAt is when the background job was submitted.
	StartedAt time.Time

	bytes   atomic.Int64
	invalid atomic.Bool
}

// Bytes returns the bytes accumulated so far.
func (r *Record) Bytes() int64 { return r.bytes.Load() }

// Flagged reports whether the record was explicitly invalidated.
func (r *Record) Flagged() bool { return r.invalid.Load() }

func (r *Record) addBytes(n int64) int64 { return r.bytes.Add(n) }
func (r *Record) invalidate()            { r.invalid.Store(true) }

// Controller manages the background capture job and the generation counter.
// Safe for concurrent use with in-flight evaluate calls.
type Controller struct {
	engine ports.Engine
	cache  ports.ElementCache
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	record     *Record
	result     ports.Result
	cancel     context.CancelFunc
}

// Option configures the Controller.
type Option func(*Controller)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithClock overrides the time source, for tests probing the validity
// boundary.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates a capture controller.
func NewController(engine ports.Engine, cache ports.ElementCache, cfg *config.Config, opts ...Option) *Controller {
	c := &Controller{
		engine:     engine,
		cache:      cache,
		cfg:        cfg,
		logger:     logging.NewNop(),
		now:        time.Now,
		state:      StateIdle,
		generation: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state. Duration expiry is enforced by
// the engine-side budget context, so it is folded in here: a running capture
// past its duration reports StateStoppedLimit, same as the size path.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning && c.record != nil &&
		c.now().Sub(c.record.StartedAt) >= c.cfg.CaptureDuration {
		c.stopJobLocked()
		c.state = StateStoppedLimit
		if !c.cfg.EnableCaptureReplay {
			c.record.invalidate()
		}
	}
	return c.state
}

// Generation returns the current generation counter. Evaluate calls read it
// once at the start and use the matching KeyPrefix for the whole call.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// KeyPrefix returns the cache namespace of the current generation.
func (c *Controller) KeyPrefix() string {
	return Prefix(c.Generation())
}

// Prefix formats the cache namespace of a generation.
func Prefix(generation uint64) string {
	return fmt.Sprintf("gen-%d/", generation)
}

// Done reports whether the background capture job finished writing its
// snapshot. Replay substitutes a source only from a finished capture, never
// from one still appending: the entry exists from the first write on, but
// its sequence is complete only once the job is done.
func (c *Controller) Done() bool {
	c.mu.Lock()
	result := c.result
	c.mu.Unlock()
	return result != nil && result.State() == domain.StateDone
}

// Record returns the record of the current generation, nil before the first
// capture starts.
func (c *Controller) Record() *Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record
}

// Valid reports whether the captured data of the current generation is
// usable: the record was not invalidated, elapsed time is under
// capture_duration and accumulated bytes are under capture_size_limit.
func (c *Controller) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validLocked()
}

func (c *Controller) validLocked() bool {
	if c.record == nil || c.record.Flagged() {
		return false
	}
	if c.now().Sub(c.record.StartedAt) >= c.cfg.CaptureDuration {
		return false
	}
	return c.record.Bytes() < c.cfg.CaptureSizeLimit
}

// AttemptStart ensures a background capture job is running for the
// capturable sources of p. No-op when a valid capture already runs and
// replay is enabled; when replay is disabled the previous capture is
// implicitly discarded first so every evaluation sees fresh data.
//
// A submission failure leaves the controller idle and returns an error
// wrapping domain.ErrCaptureStart; callers degrade to direct execution.
func (c *Controller) AttemptStart(ctx context.Context, p *domain.Pipeline) error {
	nodes := fingerprint.CaptureNodes(p, c.cfg.Capturable())
	if len(nodes) == 0 {
		return nil
	}

	c.mu.Lock()
	if (c.state == StateRunning || c.state == StateStarting) &&
		c.validLocked() && c.cfg.EnableCaptureReplay {
		c.mu.Unlock()
		return nil
	}

	// Discard whatever generation came before this one.
	var oldPrefix string
	if c.record != nil {
		c.stopJobLocked()
		c.record.invalidate()
		oldPrefix = Prefix(c.generation)
		c.generation++
	}

	c.state = StateStarting
	record := &Record{Generation: c.generation, StartedAt: c.now()}
	c.record = record
	budget := c.cfg.Budget()
	prefix := Prefix(c.generation)
	c.mu.Unlock()

	if oldPrefix != "" {
		if err := c.cache.Evict(ctx, oldPrefix); err != nil {
			c.logger.Warn("failed to evict stale capture generation", "prefix", oldPrefix, "err", err)
		}
	}

	frag := &domain.Fragment{
		Pipeline:   p,
		Nodes:      nodes,
		Targets:    nodes,
		CacheReads: map[string]domain.CacheRef{},
		KeyPrefix:  prefix,
		Background: true,
		Budget:     &budget,
	}

	// The job outlives the evaluate call that triggered it: detach it from
	// the caller's context.
	jobCtx, cancel := context.WithCancel(context.Background())
	result, err := c.engine.Submit(jobCtx, frag, ports.SubmitOptions{
		Progress: func(delta int64) { c.onProgress(record, delta) },
	})
	if err != nil {
		cancel()
		c.mu.Lock()
		c.state = StateIdle
		c.record = nil
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", domain.ErrCaptureStart, err)
	}

	c.mu.Lock()
	c.state = StateRunning
	c.result = result
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info("background capture started",
		"job_id", result.ID(),
		"generation", record.Generation,
		"sources", len(nodes),
	)
	return nil
}

// onProgress accounts bytes written by the background job and stops it once
// the size budget is exhausted.
func (c *Controller) onProgress(record *Record, delta int64) {
	total := record.addBytes(delta)
	if total < c.cfg.CaptureSizeLimit {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record != record || c.state != StateRunning {
		return
	}
	c.stopJobLocked()
	c.state = StateStoppedLimit
	if !c.cfg.EnableCaptureReplay {
		record.invalidate()
	}
	c.logger.Info("capture size limit reached", "generation", record.Generation, "bytes", total)
}

// Evict discards all captured data of the current generation and bumps the
// generation counter. Safe to call concurrently with in-flight evaluate
// calls: readers already holding the old generation keep their snapshots,
// new readers start against the next generation.
func (c *Controller) Evict(ctx context.Context) error {
	c.mu.Lock()
	c.stopJobLocked()
	if c.record != nil {
		c.record.invalidate()
	}
	c.state = StateStoppedEvicted
	oldPrefix := Prefix(c.generation)
	c.generation++
	c.mu.Unlock()

	if err := c.cache.Evict(ctx, oldPrefix); err != nil {
		return fmt.Errorf("evicting captured data: %w", err)
	}
	c.logger.Info("captured data evicted", "prefix", oldPrefix)
	return nil
}

func (c *Controller) stopJobLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.result = nil
}

/*
Package local implements ports.Engine in process.

It executes fragment nodes in their topological order, reads substituted
nodes back from the element cache, and instruments every materialized node
into the cache under its generation-prefixed key, so later fragments can
substitute them. Background fragments run their sources until the capture
budget or the job context stops them.
*/
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/eddy/internal/logging"
	"github.com/aretw0/eddy/pkg/domain"
	"github.com/aretw0/eddy/pkg/fingerprint"
	"github.com/aretw0/eddy/pkg/ports"
)

// Engine runs fragments in the calling process.
type Engine struct {
	cache  ports.ElementCache
	logger *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a local engine writing through the given cache.
func NewEngine(cache ports.ElementCache, opts ...Option) *Engine {
	e := &Engine{
		cache:  cache,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit starts executing the fragment and returns immediately with its
// handle. Read-only fragments are rejected; the caller is expected to have
// short-circuited them.
func (e *Engine) Submit(ctx context.Context, f *domain.Fragment, opts ports.SubmitOptions) (ports.Result, error) {
	if f.ReadOnly() {
		return nil, errors.New("fragment requires no execution")
	}
	fps, err := fingerprint.Nodes(f.Nodes)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting fragment: %w", err)
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if f.Background && f.Budget != nil && f.Budget.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, f.Budget.Duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	res := &result{
		id:      uuid.NewString(),
		state:   domain.StateRunning,
		done:    make(chan struct{}),
		cancel:  cancel,
		outputs: make(map[*domain.Node][]domain.Element),
	}

	e.logger.Debug("fragment submitted",
		"job_id", res.id,
		"nodes", len(f.Nodes),
		"stubs", len(f.CacheReads),
		"background", f.Background,
	)
	go e.run(runCtx, f, fps, res, opts)
	return res, nil
}

func (e *Engine) run(ctx context.Context, f *domain.Fragment, fps map[*domain.Node]domain.Fingerprint, res *result, opts ports.SubmitOptions) {
	defer res.cancel()
	for _, node := range f.Nodes {
		if err := e.runNode(ctx, f, node, fps[node], res, opts); err != nil {
			// A background capture stopped by its budget or an eviction is a
			// clean completion, not a failure.
			if f.Background && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
				res.finish(domain.StateDone, nil)
				return
			}
			if errors.Is(err, context.Canceled) {
				res.finish(domain.StateCancelled, err)
				return
			}
			e.logger.Error("fragment execution failed", "job_id", res.id, "node", node.ID, "err", err)
			res.finish(domain.StateFailed, err)
			return
		}
	}
	res.finish(domain.StateDone, nil)
}

// runNode materializes one node: inputs from upstream outputs or cache
// stubs, body via the transform, instrumentation into the cache.
func (e *Engine) runNode(ctx context.Context, f *domain.Fragment, node *domain.Node, fp domain.Fingerprint, res *result, opts ports.SubmitOptions) error {
	tag := ports.TagFull
	if f.Background {
		tag = ports.TagCapture
	}
	sink, err := e.cache.Write(ctx, f.KeyPrefix+fp.String(), tag)
	if err != nil {
		return fmt.Errorf("opening cache sink for %s: %w", node.ID, err)
	}
	defer sink.Close()

	var out []domain.Element
	instrument := func(el domain.Element) error {
		n, err := sink.Append(ctx, el)
		if err != nil {
			return fmt.Errorf("caching element of %s: %w", node.ID, err)
		}
		if opts.Progress != nil {
			opts.Progress(int64(n))
		}
		out = append(out, el)
		return nil
	}

	switch {
	case node.Transform.IsSource():
		err = e.runSource(ctx, node, instrument)
	default:
		err = e.runTransform(ctx, f, node, res, instrument)
	}
	if err != nil {
		return err
	}
	res.setOutput(node, out)
	return nil
}

func (e *Engine) runSource(ctx context.Context, node *domain.Node, instrument func(domain.Element) error) error {
	var emitErr error
	emit := func(el domain.Element) bool {
		if ctx.Err() != nil {
			return false
		}
		if el.EventTime.IsZero() {
			el.EventTime = time.Now()
		}
		if emitErr = instrument(el); emitErr != nil {
			return false
		}
		return true
	}
	if err := node.Transform.Source(ctx, emit); err != nil {
		return fmt.Errorf("source %s: %w", node.ID, err)
	}
	if emitErr != nil {
		return emitErr
	}
	return ctx.Err()
}

func (e *Engine) runTransform(ctx context.Context, f *domain.Fragment, node *domain.Node, res *result, instrument func(domain.Element) error) error {
	for _, in := range node.Inputs {
		elements, err := e.inputElements(ctx, f, in, res)
		if err != nil {
			return err
		}
		for _, el := range elements {
			if err := ctx.Err(); err != nil {
				return err
			}
			var emitErr error
			emit := func(o domain.Element) {
				if emitErr != nil {
					return
				}
				// Timestamps and windows propagate unless the transform
				// assigns its own.
				if o.EventTime.IsZero() {
					o.EventTime = el.EventTime
				}
				if o.Window == "" {
					o.Window = el.Window
				}
				emitErr = instrument(o)
			}
			if err := node.Transform.Fn(ctx, el, emit); err != nil {
				return fmt.Errorf("transform %s: %w", node.ID, err)
			}
			if emitErr != nil {
				return emitErr
			}
		}
	}
	return nil
}

// inputElements resolves one upstream dependency: a node executed earlier in
// this run, or a cache-read substitution.
func (e *Engine) inputElements(ctx context.Context, f *domain.Fragment, in *domain.Node, res *result) ([]domain.Element, error) {
	if elements, ok := res.output(in); ok {
		return elements, nil
	}
	ref, ok := f.CacheReads[in.ID]
	if !ok {
		return nil, fmt.Errorf("input %s is neither executed nor substituted", in.ID)
	}
	r, err := e.cache.Read(ctx, ref.Key, ref.Tag)
	if err != nil {
		return nil, fmt.Errorf("reading substituted input %s: %w", in.ID, err)
	}
	var elements []domain.Element
	for {
		el, ok, err := r.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading substituted input %s: %w", in.ID, err)
		}
		if !ok {
			break
		}
		elements = append(elements, el)
	}
	res.setOutput(in, elements)
	return elements, nil
}

type result struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   domain.ResultState
	err     error
	outputs map[*domain.Node][]domain.Element
}

func (r *result) ID() string { return r.id }

func (r *result) State() domain.ResultState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *result) Read(node *domain.Node, includeWindowInfo bool) ([]domain.Element, error) {
	r.mu.Lock()
	elements, ok := r.outputs[node]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("node %s was not materialized by this execution", node.ID)
	}
	out := make([]domain.Element, len(elements))
	for i, el := range elements {
		if includeWindowInfo {
			out[i] = el
		} else {
			out[i] = el.StripWindowInfo()
		}
	}
	return out, nil
}

func (r *result) Cancel() { r.cancel() }

func (r *result) setOutput(node *domain.Node, elements []domain.Element) {
	r.mu.Lock()
	r.outputs[node] = elements
	r.mu.Unlock()
}

func (r *result) output(node *domain.Node) ([]domain.Element, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	elements, ok := r.outputs[node]
	return elements, ok
}

func (r *result) finish(state domain.ResultState, err error) {
	r.mu.Lock()
	r.state = state
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

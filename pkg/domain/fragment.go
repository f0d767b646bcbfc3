package domain

import "time"

// CacheRef points a substituted node at its previously materialized data.
type CacheRef struct {
	// Key is the full cache key, generation prefix included.
	Key string
	// Tag names the stream variant to read, normally the full capture.
	Tag string
}

// CaptureBudget bounds a background capture run.
type CaptureBudget struct {
	Duration  time.Duration
	SizeLimit int64
}

// Fragment is the minimal executable sub-DAG needed to produce a set of
// target nodes. It is a transient derived view: it does not outlive one
// execution request.
//
// Nodes lists only the nodes requiring execution, in a deterministic
// topological order. Nodes already computed appear in CacheReads instead,
// keyed by node ID.
type Fragment struct {
	Pipeline   *Pipeline
	Nodes      []*Node
	Targets    []*Node
	CacheReads map[string]CacheRef

	// KeyPrefix namespaces every cache write of this execution under the
	// capture generation current at build time.
	KeyPrefix string

	// Background marks a long-lived capture job rather than an interactive
	// evaluation. Budget bounds it and is only set when Background is true.
	Background bool
	Budget     *CaptureBudget
}

// ReadOnly reports whether the fragment requires no new execution: every
// target is served from the cache. Callers must skip engine submission.
func (f *Fragment) ReadOnly() bool {
	return len(f.Nodes) == 0
}

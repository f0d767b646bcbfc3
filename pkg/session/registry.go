/*
Package session tracks the process-wide state of one interactive
exploration: which variables are watched, which nodes are already computed,
and the most recent execution result per pipeline.

The registry is an explicit context object with a controlled lifecycle
rather than ambient global state; tests create a fresh one per case and
callers pass it by reference to the components that need it.
*/
package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/eddy/pkg/domain"
	"github.com/aretw0/eddy/pkg/ports"
)

// Binding is a user-visible (name, node) pair. Multiple bindings may
// reference the same node; bindings exist for bookkeeping and auto-naming,
// not correctness.
type Binding struct {
	Name string
	Node *domain.Node
}

// Registry is the session/environment state. Safe for concurrent use; a
// MarkComputed completed before an evaluate call starts is visible to it.
type Registry struct {
	cache ports.ElementCache

	mu         sync.RWMutex
	watched    []Binding
	watchedSet map[*domain.Node]bool
	computed   map[*domain.Pipeline]map[*domain.Node]bool
	results    map[*domain.Pipeline]ports.Result
	generation uint64
	anonSeq    int
}

// NewRegistry creates a registry bound to an element cache.
func NewRegistry(cache ports.ElementCache) *Registry {
	r := &Registry{cache: cache}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.watched = nil
	r.watchedSet = make(map[*domain.Node]bool)
	r.computed = make(map[*domain.Pipeline]map[*domain.Node]bool)
	r.results = make(map[*domain.Pipeline]ports.Result)
	r.generation = 0
	r.anonSeq = 0
}

// Reset clears all state. Used by eviction of the whole environment and for
// test isolation.
//
// Forgetting computed state does not remove the cache entries written under
// the current generation: re-evaluating a node that was computed before the
// Reset appends its elements to the existing entry again. Pair Reset with an
// eviction (which opens a fresh generation) unless re-executed nodes are
// known to be substituted from capture.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

// Cache returns the element cache shared by capture and evaluation.
func (r *Registry) Cache() ports.ElementCache {
	return r.cache
}

// Watch registers explicit name-to-node bindings. Names are registered in
// sorted order so Watching is deterministic regardless of map iteration.
func (r *Registry) Watch(bindings map[string]*domain.Node) {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		node := bindings[name]
		r.watched = append(r.watched, Binding{Name: name, Node: node})
		r.watchedSet[node] = true
	}
}

// WatchAnonymous ensures the node is watched, inventing a name when the user
// never bound one. Returns the binding name in effect.
func (r *Registry) WatchAnonymous(n *domain.Node) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watchedSet[n] {
		for _, b := range r.watched {
			if b.Node == n {
				return b.Name
			}
		}
	}
	r.anonSeq++
	name := fmt.Sprintf("anonymous_collection_%d", r.anonSeq)
	r.watched = append(r.watched, Binding{Name: name, Node: n})
	r.watchedSet[n] = true
	return name
}

// IsWatched reports whether any binding references the node.
func (r *Registry) IsWatched(n *domain.Node) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.watchedSet[n]
}

// Watching returns a copy of the registered bindings.
func (r *Registry) Watching() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, len(r.watched))
	copy(out, r.watched)
	return out
}

// MarkComputed records nodes whose data is fully materialized in the cache.
func (r *Registry) MarkComputed(nodes ...*domain.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range nodes {
		set, ok := r.computed[n.Pipeline]
		if !ok {
			set = make(map[*domain.Node]bool)
			r.computed[n.Pipeline] = set
		}
		set[n] = true
	}
}

// IsComputed reports whether the node was marked computed.
func (r *Registry) IsComputed(n *domain.Node) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.computed[n.Pipeline][n]
}

// Computed returns a snapshot of the computed set for a pipeline.
func (r *Registry) Computed(p *domain.Pipeline) map[*domain.Node]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[*domain.Node]bool, len(r.computed[p]))
	for n := range r.computed[p] {
		out[n] = true
	}
	return out
}

// SetResult stores the most recent execution result of a pipeline.
func (r *Registry) SetResult(p *domain.Pipeline, res ports.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[p] = res
}

// Result returns the most recent execution result of a pipeline, nil if the
// pipeline never ran.
func (r *Registry) Result(p *domain.Pipeline) ports.Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.results[p]
}

// ObserveGeneration records the capture generation an evaluate call is
// about to use. A generation change invalidates the computed sets: their
// cache entries lived under the discarded prefix.
func (r *Registry) ObserveGeneration(generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation == generation {
		return
	}
	r.generation = generation
	r.computed = make(map[*domain.Pipeline]map[*domain.Node]bool)
}

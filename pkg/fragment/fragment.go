/*
Package fragment derives minimal executable sub-graphs from a pipeline.

Given a set of target nodes, Build walks upstream references and keeps
exactly the transitive dependencies that still need to run. Nodes already
materialized are replaced with cache-read substitutions so the execution
engine reads them back instead of recomputing.
*/
package fragment

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/eddy/pkg/domain"
	"github.com/aretw0/eddy/pkg/ports"
)

// KeyFunc resolves the cache reference of an already-computed node.
// The session layer provides one that combines the current capture
// generation prefix with the node's structural fingerprint.
type KeyFunc func(*domain.Node) (domain.CacheRef, error)

// ErrNoTargets is returned when Build is called without target nodes.
var ErrNoTargets = errors.New("no target nodes given")

// Build constructs the minimal fragment producing targets.
//
// Traversal stops descending at any node for which computed reports true
// (substituted with a cache read) and at source nodes. The result is a set:
// traversal order never affects structure. If every target is computed the
// fragment is read-only and must not be submitted.
func Build(targets []*domain.Node, computed func(*domain.Node) bool, keyFor KeyFunc) (*domain.Fragment, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	pipeline := targets[0].Pipeline
	for _, tgt := range targets[1:] {
		if tgt.Pipeline != pipeline {
			return nil, fmt.Errorf("node %s is not part of pipeline %q: %w",
				tgt.ID, pipeline.Name, domain.ErrCrossPipeline)
		}
	}

	f := &domain.Fragment{
		Pipeline:   pipeline,
		Targets:    targets,
		CacheReads: make(map[string]domain.CacheRef),
	}

	required := make(map[*domain.Node]bool)
	visiting := make(map[*domain.Node]bool)
	var visit func(n *domain.Node) error
	visit = func(n *domain.Node) error {
		if required[n] || f.CacheReads[n.ID].Key != "" {
			return nil
		}
		if visiting[n] {
			return fmt.Errorf("node %s: %w", n.ID, domain.ErrCycle)
		}
		if computed != nil && computed(n) {
			ref, err := keyFor(n)
			if err != nil {
				return fmt.Errorf("resolving cache key for %s: %w", n.ID, err)
			}
			f.CacheReads[n.ID] = ref
			return nil
		}
		visiting[n] = true
		defer delete(visiting, n)
		for _, in := range n.Inputs {
			if err := visit(in); err != nil {
				return err
			}
		}
		required[n] = true
		return nil
	}
	for _, tgt := range targets {
		if err := visit(tgt); err != nil {
			return nil, err
		}
	}

	// Order by application order, which is topological for graphs built via
	// Apply. This keeps fragment structure independent of traversal order.
	for _, n := range pipeline.Nodes() {
		if required[n] {
			f.Nodes = append(f.Nodes, n)
		}
	}
	return f, nil
}

// Run submits the fragment to the execution engine. The caller owns the
// returned handle; Wait blocks until the run reaches a terminal state.
func Run(ctx context.Context, engine ports.Engine, f *domain.Fragment, opts ports.SubmitOptions) (ports.Result, error) {
	return engine.Submit(ctx, f, opts)
}

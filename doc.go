/*
Package eddy is an interactive exploration engine for directed-acyclic data
pipelines. It materializes only the minimal sub-graph needed to produce
requested outputs, caches intermediate results under structural
fingerprints, and replays background-captured source data so repeated
exploration stays deterministic and cheap.

# Concept

A user defines a pipeline graph once, then asks for individual nodes
interactively. Each request builds a pipeline fragment containing exactly
the transitive dependencies of the requested nodes, with already-computed
nodes replaced by cache reads, and submits it to an execution engine. A
background capture job snapshots replayable sources under duration and size
budgets, so every evaluation in a capture generation sees the same data.

# Usage

	cache := memory.NewCache(codec.JSON{})
	sess := eddy.New(
		eddy.WithCache(cache),
		eddy.WithEngine(local.NewEngine(cache)),
	)

	p := domain.NewPipeline("demo")
	init := p.Apply(&domain.Transform{Label: "Init", Kind: domain.KindCreate, Source: numbers})
	square := p.Apply(&domain.Transform{Label: "Square", Kind: domain.KindMap, Fn: squareFn}, init)

	sess.Watch(map[string]*domain.Node{"init": init, "square": square})
	elements, err := sess.Collect(ctx, square, false)

Repeated Collect calls on the same node read from the cache instead of
re-running the pipeline; EvictCapturedData discards all captured data and
the next evaluation starts fresh.
*/
package eddy

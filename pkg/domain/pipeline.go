package domain

import "fmt"

// Pipeline is the user-defined graph of data-producing nodes. The engine
// treats it as read-only: it queries structure, never mutates it.
//
// Construction is intentionally minimal; the full pipeline DSL lives outside
// the core. Apply is just enough surface to define the DAG the engine
// explores.
type Pipeline struct {
	Name string

	nodes []*Node
	seq   int
}

// Node identifies one transform output in a pipeline graph.
// Inputs are ordered; an empty Inputs slice marks a source node.
type Node struct {
	ID        string
	Transform *Transform
	Inputs    []*Node
	Pipeline  *Pipeline
}

// NewPipeline creates an empty pipeline graph.
func NewPipeline(name string) *Pipeline {
	return &Pipeline{Name: name}
}

// Apply appends a transform to the graph and returns its output node.
// All inputs must belong to this pipeline; wiring nodes across pipelines is
// a programming error and panics at construction time.
func (p *Pipeline) Apply(t *Transform, inputs ...*Node) *Node {
	for _, in := range inputs {
		if in.Pipeline != p {
			panic(fmt.Sprintf("eddy: input %s belongs to pipeline %q, not %q", in.ID, in.Pipeline.Name, p.Name))
		}
	}
	p.seq++
	n := &Node{
		ID:        fmt.Sprintf("%d/%s", p.seq, t.Label),
		Transform: t,
		Inputs:    inputs,
		Pipeline:  p,
	}
	p.nodes = append(p.nodes, n)
	return n
}

// Nodes returns every node in application order.
func (p *Pipeline) Nodes() []*Node {
	out := make([]*Node, len(p.nodes))
	copy(out, p.nodes)
	return out
}

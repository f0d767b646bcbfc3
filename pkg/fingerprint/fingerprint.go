/*
Package fingerprint computes stable structural keys for pipeline nodes.

A node's fingerprint covers its producing transform (label, kind, sorted
parameters) and, recursively, the fingerprints of its ordered upstream
nodes. Structurally identical nodes therefore fingerprint identically, in
this process or any other, while any upstream change produces a new key.
*/
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/aretw0/eddy/pkg/domain"
)

// Node computes the structural fingerprint of a node.
// Returns domain.ErrCycle if the graph reachable from n is not acyclic.
func Node(n *domain.Node) (domain.Fingerprint, error) {
	w := walker{
		memo:     make(map[*domain.Node]domain.Fingerprint),
		visiting: make(map[*domain.Node]bool),
	}
	return w.fingerprint(n)
}

// Nodes fingerprints a set of nodes sharing one traversal memo, so common
// upstream structure is hashed once.
func Nodes(nodes []*domain.Node) (map[*domain.Node]domain.Fingerprint, error) {
	w := walker{
		memo:     make(map[*domain.Node]domain.Fingerprint),
		visiting: make(map[*domain.Node]bool),
	}
	out := make(map[*domain.Node]domain.Fingerprint, len(nodes))
	for _, n := range nodes {
		fp, err := w.fingerprint(n)
		if err != nil {
			return nil, err
		}
		out[n] = fp
	}
	return out, nil
}

// CaptureNodes scans a pipeline for source nodes whose producing transform
// kind is capturable. Pure query: registration of the returned nodes is the
// caller's job.
func CaptureNodes(p *domain.Pipeline, capturable map[domain.TransformKind]bool) []*domain.Node {
	var out []*domain.Node
	for _, n := range p.Nodes() {
		if len(n.Inputs) == 0 && n.Transform.IsSource() && capturable[n.Transform.Kind] {
			out = append(out, n)
		}
	}
	return out
}

type walker struct {
	memo     map[*domain.Node]domain.Fingerprint
	visiting map[*domain.Node]bool
}

func (w *walker) fingerprint(n *domain.Node) (domain.Fingerprint, error) {
	if fp, ok := w.memo[n]; ok {
		return fp, nil
	}
	if w.visiting[n] {
		return "", fmt.Errorf("node %s: %w", n.ID, domain.ErrCycle)
	}
	w.visiting[n] = true
	defer delete(w.visiting, n)

	h := sha256.New()
	writeField(h, string(n.Transform.Kind))
	writeField(h, n.Transform.Label)

	keys := make([]string, 0, len(n.Transform.Params))
	for k := range n.Transform.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(h, k)
		writeField(h, n.Transform.Params[k])
	}

	for _, in := range n.Inputs {
		up, err := w.fingerprint(in)
		if err != nil {
			return "", err
		}
		writeField(h, string(up))
	}

	fp := domain.Fingerprint(hex.EncodeToString(h.Sum(nil)))
	w.memo[n] = fp
	return fp, nil
}

// writeField length-prefixes each value so field boundaries cannot collide.
func writeField(w io.Writer, s string) {
	fmt.Fprintf(w, "%d:", len(s))
	io.WriteString(w, s)
}

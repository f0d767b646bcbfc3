package domain

import "context"

// TransformKind classifies the producing transform of a node.
// Kinds are opaque to the engine except for capture matching: sources whose
// kind is listed as capturable are snapshotted by the background capture job.
type TransformKind string

// Builtin kinds used by the local engine and the CLI demo. User code may
// define its own kinds; the core never switches on these values.
const (
	KindCreate      TransformKind = "create"
	KindMap         TransformKind = "map"
	KindFilter      TransformKind = "filter"
	KindPeriodicSeq TransformKind = "periodic_sequence"
)

// TransformFunc is the element-wise body of a non-source transform.
// It receives one input element and emits zero or more output elements.
type TransformFunc func(ctx context.Context, in Element, emit func(Element)) error

// SourceFunc is the body of a source transform. Bounded sources emit a finite
// sequence and return. Replayable (unbounded) sources keep emitting until
// emit returns false or ctx is done; the capture controller bounds them with
// a duration and size budget.
type SourceFunc func(ctx context.Context, emit func(Element) bool) error

// Transform describes the producing operation of a node.
// Label, Kind and Params participate in fingerprinting; Fn and Source are
// execution bodies opaque to the core.
type Transform struct {
	Label  string
	Kind   TransformKind
	Params map[string]string

	Fn     TransformFunc
	Source SourceFunc
}

// IsSource reports whether the transform produces data without inputs.
func (t *Transform) IsSource() bool {
	return t.Source != nil
}

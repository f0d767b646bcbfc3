package ports

import (
	"context"

	"github.com/aretw0/eddy/pkg/domain"
)

// SubmitOptions tune a single fragment submission.
type SubmitOptions struct {
	// Progress, if set, is invoked with the number of bytes appended to the
	// cache as the job makes progress. The capture controller uses it to
	// enforce the capture size budget.
	Progress func(deltaBytes int64)
}

// Result is the handle of one submitted fragment execution.
type Result interface {
	// ID identifies the execution for logging and bookkeeping.
	ID() string

	// State returns the current lifecycle state.
	State() domain.ResultState

	// Wait blocks until the execution reaches a terminal state or ctx is
	// done. An engine failure is returned here and reflected in State as
	// StateFailed; Wait never hangs past a cancellation.
	Wait(ctx context.Context) error

	// Read returns the elements materialized for a node of the executed
	// fragment. When includeWindowInfo is false, windowing metadata is
	// stripped.
	Read(node *domain.Node, includeWindowInfo bool) ([]domain.Element, error)

	// Cancel requests the execution to stop. Safe to call at any time.
	Cancel()
}

// Engine is the execution collaborator that runs fragments. Background
// fragments (capture jobs) are long-lived and not awaited by the caller.
type Engine interface {
	Submit(ctx context.Context, f *domain.Fragment, opts SubmitOptions) (Result, error)
}

package domain

import "errors"

// ErrCycle is returned when a pipeline graph contains a reference cycle.
// The graph contract requires a DAG; this is a caller error, not recoverable.
var ErrCycle = errors.New("pipeline graph contains a cycle")

// ErrCrossPipeline is returned when fragment targets span multiple pipelines.
var ErrCrossPipeline = errors.New("target nodes belong to different pipelines")

// ErrCacheMiss is returned when reading a key that was never written or was
// evicted. Callers recover by re-running the producing fragment.
var ErrCacheMiss = errors.New("cache entry not found")

// ErrCaptureStart is returned when the background capture job could not be
// started. Evaluation degrades to direct, non-replayed execution.
var ErrCaptureStart = errors.New("background capture failed to start")

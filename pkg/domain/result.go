package domain

// ResultState is the lifecycle state of a submitted fragment execution.
type ResultState string

const (
	StateRunning   ResultState = "running"
	StateDone      ResultState = "done"
	StateFailed    ResultState = "failed"
	StateCancelled ResultState = "cancelled"
)

// Terminal reports whether the execution has stopped for good.
func (s ResultState) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

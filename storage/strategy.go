package storage

import "context"

// ExecutionStrategy runs an operation against the backend, possibly more than
// once.
type ExecutionStrategy interface {
	// Execute runs op and returns its error.
	Execute(ctx context.Context, op func(ctx context.Context) error) error

	// RetriesOnFailure is whether Execute may run op more than once.
	RetriesOnFailure() bool
}

// NonRetrying runs each operation exactly once and returns its error
// unchanged.
type NonRetrying struct{}

func (NonRetrying) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	return op(ctx)
}

func (NonRetrying) RetriesOnFailure() bool {
	return false
}

// ExecutionStrategyFactory creates the strategy used for a unit of work.
type ExecutionStrategyFactory interface {
	Create() ExecutionStrategy
}

// NonRetryingFactory always creates a NonRetrying strategy.
type NonRetryingFactory struct{}

func (NonRetryingFactory) Create() ExecutionStrategy {
	return NonRetrying{}
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
	ErrFeedGap             = errors.New("feed gap: backlog did not converge")
	ErrEmptyPoll           = errors.New("empty poll")
	ErrNonMonotonicBar     = errors.New("non-monotonic bar open time")
	ErrExecution           = errors.New("execution failed")
	ErrFillUnbooked        = errors.New("fill not booked in ledger")
	ErrSignalUnavailable   = errors.New("signal unavailable: need at least 2 completed bars")
	ErrUnsupportedInterval = errors.New("unsupported bar interval")
)

// ExecutionError reports an order intent that did not fill. Step is the
// zero-based index of the intent within its transition.
type ExecutionError struct {
	Intent OrderIntent
	Step   int
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %s %g (%s, step %d): %v",
		e.Intent.Side, e.Intent.SizeUnits, e.Intent.Action, e.Step, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrExecution) hold for every ExecutionError.
func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

// Package testutil holds helpers shared by wats tests: a throwaway ledger,
// a fake fly executable, a test logger and context timing helpers.
package testutil

import (
	"context"
	"errors"
	"time"
)

// CancelResult reports how a context-aware function behaved.
type CancelResult struct {
	// Err is the error returned by the function (may be nil).
	Err error
	// WasCancelled is true if Err is context.Canceled or context.DeadlineExceeded.
	WasCancelled bool
	// Completed is true if the function returned before the grace period ended.
	Completed bool
	Duration  time.Duration
}

// RunWithCancel runs fn, cancels its context after cancelAfter and waits up
// to timeout for fn to return.
func RunWithCancel(fn func(context.Context) error, cancelAfter, timeout time.Duration) CancelResult {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	time.AfterFunc(cancelAfter, cancel)
	return await(ctx, fn, timeout)
}

// RunWithTimeout runs fn under a context that expires after timeout and
// reports whether fn returned shortly after.
//
// Example:
//
//	result := testutil.RunWithTimeout(func(ctx context.Context) error {
//	    return browser.WaitForElement(ctx, sel, time.Hour)
//	}, 100*time.Millisecond)
//
//	if !result.Completed {
//	    t.Error("wait ignored its context")
//	}
func RunWithTimeout(fn func(context.Context) error, timeout time.Duration) CancelResult {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return await(ctx, fn, timeout+100*time.Millisecond)
}

func await(ctx context.Context, fn func(context.Context) error, grace time.Duration) CancelResult {
	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(ctx)
	}()

	select {
	case err := <-errCh:
		return CancelResult{
			Err:          err,
			WasCancelled: errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded),
			Completed:    true,
			Duration:     time.Since(start),
		}
	case <-time.After(grace):
		return CancelResult{Duration: time.Since(start)}
	}
}

// WaitForCondition polls condition every pollInterval until it returns true
// or timeout elapses.
func WaitForCondition(condition func() bool, pollInterval, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(pollInterval)
	}
	return condition()
}

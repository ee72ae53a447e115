// Package navigate drives a page to its target URL and waits for it to
// settle.
package navigate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/capture/pkg/engine"
)

// TimeoutError means the stability condition was not reached in time.
type TimeoutError struct {
	URL       string
	WaitUntil string
	Timeout   time.Duration
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("navigation to %s timed out after %s waiting for %s", e.URL, e.Timeout, e.WaitUntil)
}

// Unwrap returns the underlying error
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Error is a network-level navigation failure.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Goto navigates page to url and waits for waitUntil. A zero timeout
// waits indefinitely. Failures are a *TimeoutError or an *Error.
func Goto(ctx context.Context, page engine.Page, url, waitUntil string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return &Error{URL: url, Err: err}
	}

	err := page.Goto(url, engine.GotoOptions{WaitUntil: waitUntil, Timeout: timeout})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrTimeout):
		return &TimeoutError{URL: url, WaitUntil: waitUntil, Timeout: timeout, Err: err}
	default:
		return &Error{URL: url, Err: err}
	}
}

// Settle waits d for late client-side rendering. It returns early with
// ctx's error if ctx is done first.
func Settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

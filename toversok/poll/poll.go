// Package poll contains the bounded condition wait every step of the probe workflow is built on.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edup2p/peerprobe/types"
)

// TimeoutError is returned by AwaitCondition once the condition stayed false for the whole timeout.
type TimeoutError struct {
	Label   string
	Timeout time.Duration

	// Attempts counts every evaluation of the condition, including the first.
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s (%d attempts)", e.Timeout, e.Label, e.Attempts)
}

// AwaitCondition evaluates cond, and while it is false sleeps for interval before evaluating it again.
//
// It returns nil once cond is true, a *TimeoutError once timeout has elapsed, or the context's cause once ctx is done.
// The wait only parks the calling goroutine, message callbacks keep running meanwhile. A timeout error is never
// returned before timeout has elapsed, and cond is evaluated at most 1 + timeout/interval times.
func AwaitCondition(ctx context.Context, cond func() bool, interval, timeout time.Duration, label string) error {
	if interval <= 0 {
		panic("poll: interval must be positive")
	}

	deadline := time.Now().Add(timeout)
	attempts := 0

	timer := time.NewTimer(interval)
	timer.Stop()
	defer timer.Stop()

	for {
		attempts++
		if cond() {
			slog.Log(ctx, types.LevelTrace, "poll: condition met", "label", label, "attempts", attempts)
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TimeoutError{Label: label, Timeout: timeout, Attempts: attempts}
		}

		timer.Reset(min(interval, remaining))

		select {
		case <-ctx.Done():
			return fmt.Errorf("stopped waiting for %s: %w", label, context.Cause(ctx))
		case <-timer.C:
		}
	}
}

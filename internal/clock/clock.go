// Package clock abstracts waiting so replay pacing can run on real or virtual time.
package clock

import (
	"context"
	"time"
)

// Clock is the time source used to pace replay.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Sleep blocks for d or until ctx is done. A stopped wait leaves no timer behind.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real delegates to the time package.
type Real struct{}

// NewReal returns the wall clock.
func NewReal() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

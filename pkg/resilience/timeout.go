package resilience

import (
	"context"
	"fmt"
	"time"

	gwerrors "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/errors"
)

// WithTimeout runs fn under a deadline of timeout. An fn that overruns is
// abandoned and the call fails with an error matching both
// gwerrors.ErrTimeout and context.DeadlineExceeded. A zero timeout runs fn
// directly.
func WithTimeout(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(tctx) }()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s exceeded %v: %w: %w", op, timeout, gwerrors.ErrTimeout, context.DeadlineExceeded)
}

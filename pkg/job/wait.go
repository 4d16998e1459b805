package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type waitConfig struct {
	interval time.Duration
}

// WaitOption configures Wait.
type WaitOption func(*waitConfig)

// WaitPollInterval sets the delay between loads. Values <= 0 keep the default.
func WaitPollInterval(d time.Duration) WaitOption {
	return func(c *waitConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// Wait reloads the job until its status is terminal and returns that record.
//
// Every iteration is a fresh Load. Load errors, including not-found, are
// returned immediately. A terminal record without a result is reported as a
// serialization error. Wait stops when ctx is done; without a deadline it
// polls for as long as the job stays non-terminal.
func Wait[O, E, M, S any](ctx context.Context, store Store[O, E, M, S], model StatusModel[S], id uuid.UUID, opts ...WaitOption) (*Record[O, E, M, S], error) {
	cfg := waitConfig{interval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&cfg)
	}

	limiter := rate.NewLimiter(rate.Every(cfg.interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for job %s: %w", id, waitErr(ctx, err))
		}

		rec, err := store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if model.IsTerminal(rec.Status) {
			if rec.Result == nil {
				return nil, SerializationError("wait", id.String(), errors.New("terminal status without result"))
			}
			return rec, nil
		}
	}
}

// waitErr prefers the context error over the limiter's own message so callers
// can match context.DeadlineExceeded.
func waitErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	// rate.Limiter.Wait fails early when the deadline would pass before the
	// next token.
	if _, ok := ctx.Deadline(); ok {
		return context.DeadlineExceeded
	}
	return err
}

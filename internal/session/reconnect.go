package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parley-voice/parley/pkg/realtime"
)

// Default redial parameters.
const (
	defaultDialAttempts = 3
	defaultDialBackoff  = 1 * time.Second
	defaultMaxBackoff   = 10 * time.Second
)

// Redialer wraps a [realtime.Dialer] with retry and exponential backoff.
// A transient handshake failure should not surface to the user pressing
// start; a persistent one still fails within a few seconds.
//
// Safe for concurrent use.
type Redialer struct {
	inner    realtime.Dialer
	attempts int
	backoff  time.Duration
	maxWait  time.Duration
}

var _ realtime.Dialer = (*Redialer)(nil)

// RedialerOption configures a [Redialer].
type RedialerOption func(*Redialer)

// WithDialAttempts sets the total number of dial attempts. Default 3.
func WithDialAttempts(n int) RedialerOption {
	return func(r *Redialer) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithDialBackoff sets the initial backoff between attempts; it doubles
// each retry up to a cap. Default 1s.
func WithDialBackoff(d time.Duration) RedialerOption {
	return func(r *Redialer) {
		if d > 0 {
			r.backoff = d
		}
	}
}

// NewRedialer wraps inner with retry behaviour.
func NewRedialer(inner realtime.Dialer, opts ...RedialerOption) *Redialer {
	r := &Redialer{
		inner:    inner,
		attempts: defaultDialAttempts,
		backoff:  defaultDialBackoff,
		maxWait:  defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dial implements [realtime.Dialer]. It returns the first successful session,
// or the last error once the attempt budget is spent. Context cancellation
// aborts the retry loop immediately.
func (r *Redialer) Dial(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	var lastErr error
	wait := r.backoff

	for attempt := 1; attempt <= r.attempts; attempt++ {
		sess, err := r.inner.Dial(ctx, cfg)
		if err == nil {
			return sess, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == r.attempts {
			break
		}

		slog.Warn("channel dial failed, retrying",
			"attempt", attempt,
			"backoff", wait,
			"err", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if wait > r.maxWait {
			wait = r.maxWait
		}
	}

	return nil, fmt.Errorf("session: dial failed after %d attempts: %w", r.attempts, lastErr)
}

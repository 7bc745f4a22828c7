package rewards

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// ENGINE OPTIONS
// =============================================================================

// Option customizes an engine.
type Option func(*settings)

type settings struct {
	logger *zap.Logger
	now    func() time.Time
}

func newSettings(opts []Option) settings {
	s := settings{
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for tiers and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// =============================================================================
// CONFLICT RETRY
// =============================================================================

// retryOnConflict runs fn until it succeeds, fails with a non-retryable
// error, or has lost attempts optimistic-lock races in a row. fn must be a
// whole unit of work: every attempt re-reads state.
func retryOnConflict(ctx context.Context, logger *zap.Logger, op string, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt >= attempts {
			logger.Warn("giving up after repeated conflicts",
				zap.String("op", op), zap.Int("attempts", attempt))
			return &ConflictError{Op: op, Attempts: attempt}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Debug("conflict, retrying", zap.String("op", op), zap.Int("attempt", attempt))
	}
}

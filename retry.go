package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

const retryBaseDelay = 25 * time.Millisecond

// backendCall runs fn against the backend with the configured per-attempt
// timeout and retry budget. The final failure is wrapped in a BackendError.
func (m *Manager) backendCall(ctx context.Context, op string, fn func(context.Context) error) error {
	retries := uint64(max(m.cfg.BackendRetries, 0))
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(retryBaseDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.BackendTimeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		// Retrying won't shrink a payload or revive a cancelled request.
		if errors.Is(err, ErrSessionTooLarge) || errors.Is(err, ErrInvalidSessionID) ||
			errors.Is(err, ErrCountUnsupported) || errors.Is(err, context.Canceled) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return &BackendError{Op: op, Backend: m.backendName, Err: err}
	}
	return nil
}

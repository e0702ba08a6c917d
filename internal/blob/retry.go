package blob

import (
	"context"
	"errors"
	"log/slog"
	"time"

	deskerrors "github.com/hpungsan/claimdesk/internal/errors"
)

// Retrying wraps a Store and retries failed operations a bounded number of
// times. When attempts run out the error becomes STORAGE_UNAVAILABLE.
// ErrNotFound and context cancellation are returned immediately.
type Retrying struct {
	Store    Store
	Attempts int
	Backoff  time.Duration
	Logger   *slog.Logger
}

// WithRetry wraps s with attempts tries (minimum 1) and linear backoff.
func WithRetry(s Store, attempts int, backoff time.Duration, logger *slog.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{Store: s, Attempts: attempts, Backoff: backoff, Logger: logger}
}

func (r *Retrying) Put(ctx context.Context, key string, content []byte, contentType string) error {
	return r.do(ctx, "put", key, func() error {
		return r.Store.Put(ctx, key, content, contentType)
	})
}

func (r *Retrying) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := r.do(ctx, "get", key, func() error {
		var err error
		data, err = r.Store.Get(ctx, key)
		return err
	})
	return data, err
}

func (r *Retrying) Delete(ctx context.Context, key string) error {
	return r.do(ctx, "delete", key, func() error {
		return r.Store.Delete(ctx, key)
	})
}

func (r *Retrying) do(ctx context.Context, op, key string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.Attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || errors.Is(lastErr, ErrNotFound) {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.Logger.Warn("blob storage operation failed",
			"op", op, "key", key, "attempt", attempt, "max_attempts", r.Attempts, "error", lastErr)

		if attempt < r.Attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.Backoff * time.Duration(attempt)):
			}
		}
	}
	return deskerrors.NewStorageUnavailable(lastErr)
}

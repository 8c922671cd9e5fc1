package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/bramble-social/bramble/internal/store"
)

var (
	maxElapsedTime  = 30 * time.Second
	initialInterval = 500 * time.Millisecond
	maxInterval     = 5 * time.Second
	maxRetries      = uint64(5)
)

// isRetryableError checks if the given error is retryable.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Check for specific PostgreSQL error codes
	var pgerr pgdriver.Error
	if errors.As(err, &pgerr) {
		// Connection errors (class 08), serialization failures and deadlocks
		// (class 40), temporary resource failures (class 53), and operator
		// intervention (class 57) are transient.
		switch pgerr.Field('C') {
		case "08000", // connection_exception
			"08003", // connection_does_not_exist
			"08006", // connection_failure
			"08001", // sqlclient_unable_to_establish_sqlconnection
			"08004", // sqlserver_rejected_establishment_of_sqlconnection
			"08007", // transaction_resolution_unknown
			"08P01", // protocol_violation
			"40001", // serialization_failure
			"40P01", // deadlock_detected
			"53000", // insufficient_resources
			"53100", // disk_full
			"53200", // out_of_memory
			"53300", // too_many_connections
			"57P01", // admin_shutdown
			"57P02", // crash_shutdown
			"57P03", // cannot_connect_now
			"55P03": // lock_not_available
			return true
		}
	}

	// Check for common network error strings
	errMsg := err.Error()
	if strings.Contains(errMsg, "connection reset by peer") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no connection") ||
		strings.Contains(errMsg, "i/o timeout") {
		return true
	}

	return false
}

// operation wraps a store operation with retry logic. Retries exhaust into
// store.ErrUnavailable so callers can surface a retryable dependency error.
func operation[T any](ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	var result T
	var lastErr error

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(maxElapsedTime),
		backoff.WithInitialInterval(initialInterval),
		backoff.WithMaxInterval(maxInterval),
	), maxRetries)

	err := backoff.Retry(func() error {
		var err error
		result, err = op(ctx)
		if err != nil {
			if !isRetryableError(err) {
				// Non-retryable errors are wrapped to stop retrying
				lastErr = nil
				return backoff.Permanent(err)
			}
			lastErr = err
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if lastErr != nil {
			// Retries exhausted against an unreachable store
			return result, fmt.Errorf("%w: %w", store.ErrUnavailable, lastErr)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return result, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
		return result, err
	}

	return result, nil
}

// noResult wraps a store operation that doesn't return a result.
func noResult(ctx context.Context, op func(context.Context) error) error {
	_, err := operation(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

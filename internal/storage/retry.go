package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Shipment writes are retried this many times after a transient conflict.
const (
	mutateRetries   = 3
	mutateBaseDelay = 20 * time.Millisecond
)

// SQLite primary result codes for a held database lock.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// IsTransient reports whether a shipment write failed on a lock conflict
// that a fresh transaction can get past: a Postgres serialization failure or
// deadlock, or SQLite reporting the database busy or locked.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	// modernc.org/sqlite errors expose the extended result code.
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		switch coded.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		}
	}
	return false
}

// RetryMutation runs fn, starting over up to mutateRetries times while it
// fails with a transient conflict. Waits double from mutateBaseDelay with
// jitter and stop early when ctx ends.
func RetryMutation(ctx context.Context, fn func() error) error {
	return retry(ctx, mutateRetries, mutateBaseDelay, fn)
}

func retry(ctx context.Context, retries int, delay time.Duration, fn func() error) error {
	err := fn()
	for attempt := 0; err != nil && IsTransient(err) && attempt < retries; attempt++ {
		wait := delay + time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
		err = fn()
	}
	return err
}

package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The Catalog itself talks to a live Postgres pool and has no fake in the
// retrieved corpus (no pgxmock/testcontainers dependency anywhere in it),
// so these tests cover the lock-retry policy in isolation rather than
// exercising real queries.

func TestIsLockErrorRecognizesLockContention(t *testing.T) {
	assert.True(t, isLockError(&pgconn.PgError{Code: "55P03"}))
	assert.True(t, isLockError(&pgconn.PgError{Code: "40001"}))
	assert.False(t, isLockError(&pgconn.PgError{Code: "42601"}))
	assert.False(t, isLockError(errors.New("plain error")))
}

func TestWithLockRetryRetriesOnceOnLockError(t *testing.T) {
	calls := 0
	err := withLockRetry(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: "55P03"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithLockRetryDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	sentinel := errors.New("boom")
	err := withLockRetry(context.Background(), func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestWithLockRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := withLockRetry(ctx, func() error {
		calls++
		return &pgconn.PgError{Code: "55P03"}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

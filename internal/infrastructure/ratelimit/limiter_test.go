package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-watcher-engine/internal/infrastructure/clock"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFixedWindow(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := NewMemoryFixedWindow(time.Minute, 2, clk)
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "request %d", i)
	}

	// other keys have their own window
	ok, err := l.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(time.Minute)
	ok, err = l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryFixedWindowDropsExpiredWindows(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := NewMemoryFixedWindow(time.Minute, 2, clk)
	ctx := context.Background()

	for _, key := range []string{"user-1", "user-2", "user-3", "user-4"} {
		_, err := l.Allow(ctx, key)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, l.Len())

	clk.Advance(30 * time.Second)
	_, err := l.Allow(ctx, "user-5")
	require.NoError(t, err)
	assert.Equal(t, 5, l.Len())

	// the first four have ended; user-5 is still open
	clk.Advance(45 * time.Second)
	_, err = l.Allow(ctx, "user-6")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	ok, err := l.Allow(ctx, "user-5")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Allow(ctx, "user-5")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisFixedWindow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisFixedWindow(db, time.Minute, 2)
	ctx := context.Background()

	mock.ExpectTxPipeline()
	mock.ExpectIncr("ratelimit:ip-1").SetVal(1)
	mock.ExpectExpireNX("ratelimit:ip-1", time.Minute).SetVal(true)
	mock.ExpectTxPipelineExec()

	ok, err := l.Allow(ctx, "ip-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectTxPipeline()
	mock.ExpectIncr("ratelimit:ip-1").SetVal(3)
	mock.ExpectExpireNX("ratelimit:ip-1", time.Minute).SetVal(false)
	mock.ExpectTxPipelineExec()

	ok, err = l.Allow(ctx, "ip-1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisFixedWindowError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisFixedWindow(db, time.Minute, 2)

	mock.ExpectTxPipeline()
	mock.ExpectIncr("ratelimit:ip-1").SetErr(errors.New("connection refused"))

	ok, err := l.Allow(context.Background(), "ip-1")
	assert.Error(t, err)
	assert.False(t, ok)
}

package redis

import (
	"context"
	"errors"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerHook_OpensAfterConsecutiveFailures(t *testing.T) {
	hook := NewBreakerHook()
	failing := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		return errors.New("connection refused")
	})

	cmd := goredis.NewStringCmd(context.Background(), "get", "room:rakib")
	for range 5 {
		err := failing(context.Background(), cmd)
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, hook.State())

	// While open, calls fail fast without reaching Redis.
	called := false
	open := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		called = true
		return nil
	})
	err := open(context.Background(), cmd)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}

func TestBreakerHook_NilReplyIsNotAFailure(t *testing.T) {
	hook := NewBreakerHook()
	miss := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		cmd.SetErr(goredis.Nil)
		return goredis.Nil
	})

	cmd := goredis.NewStringCmd(context.Background(), "get", "room:missing")
	for range 10 {
		err := miss(context.Background(), cmd)
		assert.ErrorIs(t, err, goredis.Nil)
	}

	// Key misses keep the breaker closed.
	assert.Equal(t, gobreaker.StateClosed, hook.State())
}

func TestBreakerHook_SuccessResetsFailureStreak(t *testing.T) {
	hook := NewBreakerHook()

	fail := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		return errors.New("timeout")
	})
	ok := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		return nil
	})

	cmd := goredis.NewStringCmd(context.Background(), "get", "room:rakib")
	for range 4 {
		_ = fail(context.Background(), cmd)
	}
	require.NoError(t, ok(context.Background(), cmd))
	for range 4 {
		_ = fail(context.Background(), cmd)
	}

	assert.Equal(t, gobreaker.StateClosed, hook.State())
}

package uow

import (
	"context"
	"errors"
	"testing"

	"github.com/kirinyoku/clubtix/internal/repository"
	"github.com/kirinyoku/clubtix/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRunsHooksAfterCommit(t *testing.T) {
	u := NewUoW(memory.New())

	var order []string
	err := u.Do(context.Background(), func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error {
		after(func(context.Context) { order = append(order, "hook") })
		order = append(order, "body")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"body", "hook"}, order)
}

func TestDoSkipsHooksOnError(t *testing.T) {
	u := NewUoW(memory.New())
	boom := errors.New("boom")

	ran := false
	err := u.Do(context.Background(), func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error {
		after(func(context.Context) { ran = true })
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)
}

func TestDoRetriesRetryableFailures(t *testing.T) {
	u := NewUoW(memory.New())

	attempts, hooks := 0, 0
	err := u.Do(context.Background(), func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error {
		attempts++
		after(func(context.Context) { hooks++ })
		if attempts < 3 {
			return memory.ErrSerialization
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, hooks)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	u := NewUoW(memory.New())

	attempts := 0
	err := u.Do(context.Background(), func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error {
		attempts++
		return memory.ErrSerialization
	})
	assert.ErrorIs(t, err, memory.ErrSerialization)
	assert.Equal(t, maxAttempts, attempts)
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/checkpoint/internal/domain"
)

func TestCheckpointOrdering(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	repo := NewCheckpointRepository(db)

	at := func(d int) time.Time { return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC) }
	create := func(title string, when time.Time) domain.Checkpoint {
		c := domain.Checkpoint{Title: title, CheckpointAt: when, CreatedAt: when, UpdatedAt: when}
		require.NoError(t, repo.Create(ctx, &c))
		return c
	}

	late := create("late", at(3))
	tieA := create("tie-a", at(2))
	tieB := create("tie-b", at(2))
	early := create("early", at(1))

	older, err := repo.OlderThanOrEqual(ctx, tieA)
	require.NoError(t, err)
	assert.Equal(t, []int64{early.ID, tieA.ID}, checkpointIDs(older))

	newer, err := repo.NewerThan(ctx, tieA)
	require.NoError(t, err)
	assert.Equal(t, []int64{tieB.ID, late.ID}, checkpointIDs(newer))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{early.ID, tieA.ID, tieB.ID, late.ID}, checkpointIDs(all))

	got, err := repo.Get(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, "late", got.Title)
	assert.True(t, got.CheckpointAt.Equal(at(3)))

	_, err = repo.Get(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTimelineRepository(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	repo := NewTimelineRepository(db)

	now := time.Now()
	tl := domain.Timeline{Title: "main", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Create(ctx, &tl))
	assert.NotZero(t, tl.ID)

	got, err := repo.Get(ctx, tl.ID)
	require.NoError(t, err)
	assert.Equal(t, "main", got.Title)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = repo.Get(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func checkpointIDs(cs []domain.Checkpoint) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

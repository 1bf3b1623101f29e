package repository

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/totegamma/checkpoint/internal/domain"
	"github.com/totegamma/checkpoint/internal/entitytype"
	"github.com/totegamma/checkpoint/internal/infra/database"
	"github.com/totegamma/checkpoint/internal/infra/database/models"
	"github.com/totegamma/checkpoint/internal/usecase"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)

	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig(zerolog.Nop()))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

type stack struct {
	revisions   *RevisionRepository
	checkpoints *CheckpointRepository
	timelines   *TimelineRepository
	chain       *usecase.ChainUsecase
	cps         *usecase.CheckpointUsecase
	query       *usecase.QueryUsecase
	metadata    *usecase.MetadataUsecase
}

func newStack(t *testing.T, opts ...usecase.Option) *stack {
	return newStackOn(t, setupDB(t), opts...)
}

func newStackOn(t *testing.T, db *gorm.DB, opts ...usecase.Option) *stack {
	t.Helper()

	revisions := NewRevisionRepository(db)
	checkpoints := NewCheckpointRepository(db)
	timelines := NewTimelineRepository(db)
	registry := entitytype.NewRegistry("models.")

	cur := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := usecase.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	})
	opts = append([]usecase.Option{clock}, opts...)

	cps := usecase.NewCheckpointUsecase(checkpoints, timelines, opts...)
	return &stack{
		revisions:   revisions,
		checkpoints: checkpoints,
		timelines:   timelines,
		chain:       usecase.NewChainUsecase(revisions, checkpoints, registry, opts...),
		cps:         cps,
		query:       usecase.NewQueryUsecase(revisions, cps, registry, opts...),
		metadata:    usecase.NewMetadataUsecase(revisions, registry, opts...),
	}
}

func TestRevisionScenario(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	c1, err := s.cps.Create(ctx, domain.Checkpoint{Title: "C1", CheckpointAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	c2, err := s.cps.Create(ctx, domain.Checkpoint{Title: "C2", CheckpointAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	r1, err := s.chain.Append(ctx, usecase.AppendInput{EntityType: "models.Post", OriginalEntityID: 1, EntityID: 1, CheckpointID: &c1.ID})
	require.NoError(t, err)
	r2, err := s.chain.Append(ctx, usecase.AppendInput{EntityType: "Post", OriginalEntityID: 1, EntityID: 2, CheckpointID: &c2.ID})
	require.NoError(t, err)
	r3, err := s.chain.Append(ctx, usecase.AppendInput{EntityType: "Post", OriginalEntityID: 1, EntityID: 3})
	require.NoError(t, err)

	assert.Equal(t, "Post", r1.EntityType)
	assert.Equal(t, r1.ID, *r2.PreviousRevisionID)
	assert.Equal(t, r2.ID, *r3.PreviousRevisionID)

	ids, err := s.query.LatestIDs(ctx, usecase.LatestQuery{Until: c1})
	require.NoError(t, err)
	assert.Equal(t, []int64{r1.ID}, ids)

	ids, err = s.query.LatestIDs(ctx, usecase.LatestQuery{Until: c2})
	require.NoError(t, err)
	assert.Equal(t, []int64{r2.ID}, ids)

	ids, err = s.query.LatestIDs(ctx, usecase.LatestQuery{})
	require.NoError(t, err)
	assert.Equal(t, []int64{r3.ID}, ids)

	ids, err = s.query.LatestIDs(ctx, usecase.LatestQuery{Until: r2.CreatedAt})
	require.NoError(t, err)
	assert.Equal(t, []int64{r2.ID}, ids)

	ids, err = s.query.LatestIDs(ctx, usecase.LatestQuery{Since: r2.CreatedAt})
	require.NoError(t, err)
	assert.Equal(t, []int64{r3.ID}, ids)

	require.NoError(t, s.chain.Delete(ctx, r3.ID))

	head, err := s.chain.Newest(ctx, domain.Group{EntityType: "Post", OriginalEntityID: 1})
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, r2.ID, head.ID)
	assert.True(t, s.query.IsUpdatedAt(*head, c2))
	assert.False(t, s.query.IsNewAt(*head, c2))

	first, err := s.revisions.Get(ctx, r1.ID)
	require.NoError(t, err)
	assert.True(t, s.query.IsNewAt(first, c1))
}

func TestRevisionInteriorDelete(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	r1, err := s.chain.Append(ctx, usecase.AppendInput{EntityType: "Post", OriginalEntityID: 7, EntityID: 7})
	require.NoError(t, err)
	r2, err := s.chain.Append(ctx, usecase.AppendInput{EntityType: "Post", OriginalEntityID: 7, EntityID: 8})
	require.NoError(t, err)
	r3, err := s.chain.Append(ctx, usecase.AppendInput{EntityType: "Post", OriginalEntityID: 7, EntityID: 9})
	require.NoError(t, err)

	require.NoError(t, s.chain.Delete(ctx, r2.ID))

	next, err := s.revisions.FindNext(ctx, r1.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, r3.ID, next.ID)
	assert.True(t, next.Latest)

	history, err := s.chain.History(ctx, r1.Group())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, r1.ID, history[0].ID)
	assert.Equal(t, r3.ID, history[1].ID)
}

func TestRevisionUniqueHead(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	now := time.Now()
	err := s.revisions.Transaction(ctx, func(tx usecase.RevisionTx) error {
		first := domain.Revision{EntityType: "Post", OriginalEntityID: 1, EntityID: 1, Latest: true, CreatedAt: now, UpdatedAt: now}
		if err := tx.Create(ctx, &first); err != nil {
			return err
		}
		second := domain.Revision{EntityType: "Post", OriginalEntityID: 1, EntityID: 2, PreviousRevisionID: &first.ID, Latest: true, CreatedAt: now, UpdatedAt: now}
		return tx.Create(ctx, &second)
	})
	assert.ErrorIs(t, err, domain.ErrChainIntegrity)

	ids, err := s.revisions.LatestIDs(ctx, usecase.RevisionFilter{})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRevisionMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	rev, err := s.chain.Append(ctx, usecase.AppendInput{EntityType: "Post", OriginalEntityID: 1, EntityID: 1})
	require.NoError(t, err)

	meta := domain.Metadata{"author": "alice", "tags": []any{"a", "b"}}
	hash, err := meta.Hash()
	require.NoError(t, err)

	err = s.revisions.Transaction(ctx, func(tx usecase.RevisionTx) error {
		return tx.SetMetadata(ctx, rev.ID, meta, hash)
	})
	require.NoError(t, err)

	stored, err := s.revisions.Get(ctx, rev.ID)
	require.NoError(t, err)
	assert.Equal(t, meta, stored.Metadata)
	assert.Equal(t, hash, stored.MetadataHash)
}

func TestRevisionNotFound(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	_, err := s.revisions.Get(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	head, err := s.revisions.FindHead(ctx, domain.Group{EntityType: "Post", OriginalEntityID: 1})
	require.NoError(t, err)
	assert.Nil(t, head)

	err = s.chain.Delete(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLatestIDsEmptyCheckpointPartition(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	_, err := s.chain.Append(ctx, usecase.AppendInput{EntityType: "Post", OriginalEntityID: 1, EntityID: 1})
	require.NoError(t, err)

	ids, err := s.revisions.LatestIDs(ctx, usecase.RevisionFilter{RestrictCheckpoints: true})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRevisionTimestampsMicrosecondPrecision(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	s := newStack(t, usecase.WithClock(func() time.Time { return at }))

	rev, err := s.chain.Append(ctx, usecase.AppendInput{EntityType: "Post", OriginalEntityID: 1, EntityID: 1})
	require.NoError(t, err)
	assert.True(t, rev.CreatedAt.Equal(at.Truncate(time.Microsecond)))

	stored, err := s.revisions.Get(ctx, rev.ID)
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(rev.CreatedAt))

	ids, err := s.query.LatestIDs(ctx, usecase.LatestQuery{Until: rev.CreatedAt})
	require.NoError(t, err)
	assert.Equal(t, []int64{rev.ID}, ids)

	c, err := s.cps.Create(ctx, domain.Checkpoint{Title: "C1"})
	require.NoError(t, err)
	sealed, err := s.chain.Seal(ctx, rev.ID, c.ID)
	require.NoError(t, err)
	assert.Zero(t, sealed.UpdatedAt.Nanosecond()%int(time.Microsecond))
}

func TestRevisionSealBindsTimeline(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	tl := domain.Timeline{Title: "summer", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.timelines.Create(ctx, &tl))
	c, err := s.cps.Create(ctx, domain.Checkpoint{Title: "C1", TimelineID: &tl.ID})
	require.NoError(t, err)

	draft, err := s.chain.Append(ctx, usecase.AppendInput{EntityType: "Post", OriginalEntityID: 1, EntityID: 1})
	require.NoError(t, err)
	require.Nil(t, draft.TimelineID)

	_, err = s.chain.Seal(ctx, draft.ID, c.ID)
	require.NoError(t, err)

	stored, err := s.revisions.Get(ctx, draft.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TimelineID)
	assert.Equal(t, tl.ID, *stored.TimelineID)
}

// contend runs appends and head deletes against one chain from several
// goroutines and checks the chain afterwards.
func contend(t *testing.T, s *stack, entityType string) {
	t.Helper()
	ctx := context.Background()

	origin, err := s.chain.Append(ctx, usecase.AppendInput{EntityType: entityType, OriginalEntityID: 1, EntityID: 1})
	require.NoError(t, err)
	g := origin.Group()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(worker int64) {
			defer wg.Done()
			for j := int64(0); j < 5; j++ {
				if worker%2 == 0 {
					_, err := s.chain.Append(ctx, usecase.AppendInput{EntityType: entityType, OriginalEntityID: 1, EntityID: 100 + worker*10 + j})
					assert.NoError(t, err)
					continue
				}
				head, err := s.chain.Newest(ctx, g)
				if !assert.NoError(t, err) || head == nil || head.IsNew() {
					continue
				}
				err = s.chain.Delete(ctx, head.ID)
				if err != nil {
					// another worker may have removed it first
					assert.ErrorIs(t, err, domain.ErrNotFound)
				}
			}
		}(int64(i))
	}
	wg.Wait()

	require.NoError(t, s.chain.Verify(ctx, g))
	head, err := s.chain.Newest(ctx, g)
	require.NoError(t, err)
	require.NotNil(t, head)
}

func TestRevisionConcurrentAppendDelete(t *testing.T) {
	contend(t, newStack(t), "Post")
}

func TestRevisionConcurrentAppendDeletePostgres(t *testing.T) {
	dsn := os.Getenv("CHECKPOINT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHECKPOINT_TEST_POSTGRES_DSN is not set")
	}

	db, err := database.NewPostgres(dsn, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	entityType := fmt.Sprintf("Contention%d", time.Now().UnixNano())
	t.Cleanup(func() {
		db.Where("entity_type = ?", entityType).Delete(&models.Revision{})
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	contend(t, newStackOn(t, db), entityType)
}

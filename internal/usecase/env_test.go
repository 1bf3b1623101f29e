package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/totegamma/checkpoint/internal/domain"
	"github.com/totegamma/checkpoint/internal/entitytype"
	"github.com/totegamma/checkpoint/internal/infra/memstore"
	"github.com/totegamma/checkpoint/internal/usecase"
)

// testClock advances one second per call so every revision gets a distinct
// creation time.
type testClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newTestClock() *testClock {
	return &testClock{cur: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.RevisionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.RevisionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type env struct {
	clock       *testClock
	publisher   *recordingPublisher
	revisions   *memstore.RevisionRepository
	chain       *usecase.ChainUsecase
	checkpoints *usecase.CheckpointUsecase
	query       *usecase.QueryUsecase
	metadata    *usecase.MetadataUsecase
	timelines   *usecase.TimelineUsecase
}

// hookedRepository hands every transaction through wrapTx before the
// usecase sees it.
type hookedRepository struct {
	*memstore.RevisionRepository
	wrapTx func(usecase.RevisionTx) usecase.RevisionTx
}

func (r hookedRepository) Transaction(ctx context.Context, fn func(tx usecase.RevisionTx) error) error {
	return r.RevisionRepository.Transaction(ctx, func(tx usecase.RevisionTx) error {
		return fn(r.wrapTx(tx))
	})
}

func newEnv(t *testing.T, opts ...usecase.Option) *env {
	t.Helper()
	return newHookedEnv(t, nil, opts...)
}

// newHookedEnv is newEnv with chain and metadata writes going through wrapTx.
func newHookedEnv(t *testing.T, wrapTx func(usecase.RevisionTx) usecase.RevisionTx, opts ...usecase.Option) *env {
	t.Helper()

	store := memstore.New()
	revisions := memstore.NewRevisionRepository(store)
	var writer usecase.RevisionRepository = revisions
	if wrapTx != nil {
		writer = hookedRepository{RevisionRepository: revisions, wrapTx: wrapTx}
	}
	checkpointRepo := memstore.NewCheckpointRepository(store)
	timelineRepo := memstore.NewTimelineRepository(store)

	registry := entitytype.NewRegistry("models.")
	require.NoError(t, registry.RegisterKind("post", "Post"))

	clock := newTestClock()
	publisher := &recordingPublisher{}
	opts = append([]usecase.Option{
		usecase.WithClock(clock.Now),
		usecase.WithPublisher(publisher),
	}, opts...)

	checkpoints := usecase.NewCheckpointUsecase(checkpointRepo, timelineRepo, opts...)
	query := usecase.NewQueryUsecase(revisions, checkpoints, registry, opts...)

	return &env{
		clock:       clock,
		publisher:   publisher,
		revisions:   revisions,
		chain:       usecase.NewChainUsecase(writer, checkpointRepo, registry, opts...),
		checkpoints: checkpoints,
		query:       query,
		metadata:    usecase.NewMetadataUsecase(writer, registry, opts...),
		timelines:   usecase.NewTimelineUsecase(timelineRepo, query, opts...),
	}
}

func (e *env) checkpoint(t *testing.T, title string, at time.Time) domain.Checkpoint {
	t.Helper()
	c, err := e.checkpoints.Create(context.Background(), domain.Checkpoint{Title: title, CheckpointAt: at})
	require.NoError(t, err)
	return c
}

func (e *env) append(t *testing.T, entityType string, original, entity int64, checkpointID *int64) domain.Revision {
	t.Helper()
	rev, err := e.chain.Append(context.Background(), usecase.AppendInput{
		EntityType:       entityType,
		OriginalEntityID: original,
		EntityID:         entity,
		CheckpointID:     checkpointID,
	})
	require.NoError(t, err)
	return rev
}

func (e *env) get(t *testing.T, id int64) domain.Revision {
	t.Helper()
	rev, err := e.chain.Get(context.Background(), id)
	require.NoError(t, err)
	return rev
}

func ptr[T any](v T) *T { return &v }

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

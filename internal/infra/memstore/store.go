// Package memstore keeps revisions, checkpoints and timelines in process
// memory. Writers work on a private copy of the state which replaces the
// committed state only when the transaction succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/totegamma/checkpoint/internal/domain"
)

type state struct {
	revisions      map[int64]domain.Revision
	successor      map[int64]int64 // previous id -> revision id
	heads          map[domain.Group]int64
	checkpoints    map[int64]domain.Checkpoint
	timelines      map[int64]domain.Timeline
	nextRevision   int64
	nextCheckpoint int64
	nextTimeline   int64
}

func newState() *state {
	return &state{
		revisions:   make(map[int64]domain.Revision),
		successor:   make(map[int64]int64),
		heads:       make(map[domain.Group]int64),
		checkpoints: make(map[int64]domain.Checkpoint),
		timelines:   make(map[int64]domain.Timeline),
	}
}

func (s *state) clone() *state {
	c := &state{
		revisions:      make(map[int64]domain.Revision, len(s.revisions)),
		successor:      make(map[int64]int64, len(s.successor)),
		heads:          make(map[domain.Group]int64, len(s.heads)),
		checkpoints:    make(map[int64]domain.Checkpoint, len(s.checkpoints)),
		timelines:      make(map[int64]domain.Timeline, len(s.timelines)),
		nextRevision:   s.nextRevision,
		nextCheckpoint: s.nextCheckpoint,
		nextTimeline:   s.nextTimeline,
	}
	for k, v := range s.revisions {
		c.revisions[k] = v
	}
	for k, v := range s.successor {
		c.successor[k] = v
	}
	for k, v := range s.heads {
		c.heads[k] = v
	}
	for k, v := range s.checkpoints {
		c.checkpoints[k] = v
	}
	for k, v := range s.timelines {
		c.timelines[k] = v
	}
	return c
}

// Store is the shared backing state of the memory repositories.
type Store struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	current *state
}

func New() *Store {
	return &Store{current: newState()}
}

func (s *Store) snapshot() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// update runs fn against a private copy and publishes it when fn succeeds.
// Writers are serialized; readers keep seeing the previous state meanwhile.
func (s *Store) update(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	work := s.snapshot().clone()
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = work
	s.mu.Unlock()
	return nil
}

// CheckpointRepository stores checkpoints in a Store.
type CheckpointRepository struct {
	store *Store
}

func NewCheckpointRepository(store *Store) *CheckpointRepository {
	return &CheckpointRepository{store: store}
}

func (r *CheckpointRepository) Create(ctx context.Context, c *domain.Checkpoint) error {
	return r.store.update(ctx, func(st *state) error {
		if c.TimelineID != nil {
			if _, ok := st.timelines[*c.TimelineID]; !ok {
				return domain.NotFoundError{Resource: "timeline"}
			}
		}
		st.nextCheckpoint++
		c.ID = st.nextCheckpoint
		stored := *c
		stored.TimelineID = copyID(c.TimelineID)
		st.checkpoints[c.ID] = stored
		return nil
	})
}

func (r *CheckpointRepository) Get(ctx context.Context, id int64) (domain.Checkpoint, error) {
	c, ok := r.store.snapshot().checkpoints[id]
	if !ok {
		return domain.Checkpoint{}, domain.NotFoundError{Resource: "checkpoint"}
	}
	c.TimelineID = copyID(c.TimelineID)
	return c, nil
}

func (r *CheckpointRepository) List(ctx context.Context) ([]domain.Checkpoint, error) {
	return r.filter(func(domain.Checkpoint) bool { return true }), nil
}

func (r *CheckpointRepository) OlderThanOrEqual(ctx context.Context, c domain.Checkpoint) ([]domain.Checkpoint, error) {
	return r.filter(func(x domain.Checkpoint) bool { return !c.Before(x) }), nil
}

func (r *CheckpointRepository) NewerThan(ctx context.Context, c domain.Checkpoint) ([]domain.Checkpoint, error) {
	return r.filter(func(x domain.Checkpoint) bool { return c.Before(x) }), nil
}

func (r *CheckpointRepository) filter(keep func(domain.Checkpoint) bool) []domain.Checkpoint {
	st := r.store.snapshot()
	out := make([]domain.Checkpoint, 0, len(st.checkpoints))
	for _, c := range st.checkpoints {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// TimelineRepository stores timelines in a Store.
type TimelineRepository struct {
	store *Store
}

func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{store: store}
}

func (r *TimelineRepository) Create(ctx context.Context, tl *domain.Timeline) error {
	return r.store.update(ctx, func(st *state) error {
		st.nextTimeline++
		tl.ID = st.nextTimeline
		st.timelines[tl.ID] = *tl
		return nil
	})
}

func (r *TimelineRepository) Get(ctx context.Context, id int64) (domain.Timeline, error) {
	tl, ok := r.store.snapshot().timelines[id]
	if !ok {
		return domain.Timeline{}, domain.NotFoundError{Resource: "timeline"}
	}
	return tl, nil
}

func (r *TimelineRepository) List(ctx context.Context) ([]domain.Timeline, error) {
	st := r.store.snapshot()
	out := make([]domain.Timeline, 0, len(st.timelines))
	for _, tl := range st.timelines {
		out = append(out, tl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

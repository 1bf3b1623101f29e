package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/totegamma/checkpoint/internal/domain"
	"github.com/totegamma/checkpoint/internal/usecase"
)

// RevisionRepository is the memory implementation of usecase.RevisionRepository.
type RevisionRepository struct {
	store *Store
}

func NewRevisionRepository(store *Store) *RevisionRepository {
	return &RevisionRepository{store: store}
}

func (r *RevisionRepository) Transaction(ctx context.Context, fn func(tx usecase.RevisionTx) error) error {
	return r.store.update(ctx, func(st *state) error {
		return fn(&revisionTx{reader: reader{st: st}})
	})
}

func (r *RevisionRepository) current() reader {
	return reader{st: r.store.snapshot()}
}

func (r *RevisionRepository) Get(ctx context.Context, id int64) (domain.Revision, error) {
	return r.current().Get(ctx, id)
}

func (r *RevisionRepository) GetMany(ctx context.Context, ids []int64) ([]domain.Revision, error) {
	return r.current().GetMany(ctx, ids)
}

func (r *RevisionRepository) FindNext(ctx context.Context, id int64) (*domain.Revision, error) {
	return r.current().FindNext(ctx, id)
}

func (r *RevisionRepository) FindHead(ctx context.Context, g domain.Group) (*domain.Revision, error) {
	return r.current().FindHead(ctx, g)
}

func (r *RevisionRepository) ListGroup(ctx context.Context, g domain.Group) ([]domain.Revision, error) {
	return r.current().ListGroup(ctx, g)
}

func (r *RevisionRepository) LatestIDs(ctx context.Context, f usecase.RevisionFilter) ([]int64, error) {
	return r.current().LatestIDs(ctx, f)
}

type reader struct {
	st *state
}

func (r reader) Get(ctx context.Context, id int64) (domain.Revision, error) {
	rev, ok := r.st.revisions[id]
	if !ok {
		return domain.Revision{}, domain.NotFoundError{Resource: "revision"}
	}
	return detach(rev), nil
}

func (r reader) GetMany(ctx context.Context, ids []int64) ([]domain.Revision, error) {
	out := make([]domain.Revision, 0, len(ids))
	for _, id := range ids {
		if rev, ok := r.st.revisions[id]; ok {
			out = append(out, detach(rev))
		}
	}
	return out, nil
}

func (r reader) FindNext(ctx context.Context, id int64) (*domain.Revision, error) {
	next, ok := r.st.successor[id]
	if !ok {
		return nil, nil
	}
	rev := detach(r.st.revisions[next])
	return &rev, nil
}

func (r reader) FindHead(ctx context.Context, g domain.Group) (*domain.Revision, error) {
	id, ok := r.st.heads[g]
	if !ok {
		return nil, nil
	}
	rev := detach(r.st.revisions[id])
	return &rev, nil
}

func (r reader) ListGroup(ctx context.Context, g domain.Group) ([]domain.Revision, error) {
	out := []domain.Revision{}
	for _, rev := range r.st.revisions {
		if rev.Group() == g {
			out = append(out, detach(rev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r reader) LatestIDs(ctx context.Context, f usecase.RevisionFilter) ([]int64, error) {
	var allowed map[int64]struct{}
	if f.RestrictCheckpoints {
		allowed = make(map[int64]struct{}, len(f.CheckpointIDs))
		for _, id := range f.CheckpointIDs {
			allowed[id] = struct{}{}
		}
	}

	latest := make(map[domain.Group]int64)
	for _, rev := range r.st.revisions {
		if !matches(rev, f, allowed) {
			continue
		}
		g := rev.Group()
		if rev.ID > latest[g] {
			latest[g] = rev.ID
		}
	}

	ids := make([]int64, 0, len(latest))
	for _, id := range latest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func matches(rev domain.Revision, f usecase.RevisionFilter, allowed map[int64]struct{}) bool {
	if f.EntityType != "" && rev.EntityType != f.EntityType {
		return false
	}
	if f.TimelineID != nil && (rev.TimelineID == nil || *rev.TimelineID != *f.TimelineID) {
		return false
	}
	if f.RestrictCheckpoints {
		if rev.CheckpointID == nil {
			return false
		}
		if _, ok := allowed[*rev.CheckpointID]; !ok {
			return false
		}
	}
	if f.CreatedAtOrBefore != nil && rev.CreatedAt.After(*f.CreatedAtOrBefore) {
		return false
	}
	if f.CreatedAfter != nil && !rev.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	return true
}

type revisionTx struct {
	reader
}

// LockHead needs no row lock: the store serializes writers.
func (tx *revisionTx) LockHead(ctx context.Context, g domain.Group) (*domain.Revision, error) {
	return tx.FindHead(ctx, g)
}

func (tx *revisionTx) Create(ctx context.Context, rev *domain.Revision) error {
	st := tx.st
	g := rev.Group()
	if rev.Latest {
		if head, ok := st.heads[g]; ok {
			return domain.ChainIntegrityError{Group: g, Reason: fmt.Sprintf("revision %d is already latest", head)}
		}
	}
	if rev.PreviousRevisionID != nil {
		if _, ok := st.revisions[*rev.PreviousRevisionID]; !ok {
			return domain.NotFoundError{Resource: "previous revision"}
		}
		if next, ok := st.successor[*rev.PreviousRevisionID]; ok {
			return domain.ChainIntegrityError{Group: g, Reason: fmt.Sprintf("revision %d already has successor %d", *rev.PreviousRevisionID, next)}
		}
	}
	if rev.CheckpointID != nil {
		if _, ok := st.checkpoints[*rev.CheckpointID]; !ok {
			return domain.NotFoundError{Resource: "checkpoint"}
		}
	}

	st.nextRevision++
	rev.ID = st.nextRevision
	tx.put(*rev)
	return nil
}

func (tx *revisionTx) SetLatest(ctx context.Context, id int64, latest bool) error {
	rev, err := tx.Get(ctx, id)
	if err != nil {
		return err
	}
	if latest {
		if head, ok := tx.st.heads[rev.Group()]; ok && head != id {
			return domain.ChainIntegrityError{Group: rev.Group(), Reason: fmt.Sprintf("revision %d is already latest", head)}
		}
	}
	tx.remove(rev)
	rev.Latest = latest
	tx.put(rev)
	return nil
}

func (tx *revisionTx) SetPrevious(ctx context.Context, id int64, previous *int64) error {
	rev, err := tx.Get(ctx, id)
	if err != nil {
		return err
	}
	if previous != nil {
		if next, ok := tx.st.successor[*previous]; ok && next != id {
			return domain.ChainIntegrityError{Group: rev.Group(), Reason: fmt.Sprintf("revision %d already has successor %d", *previous, next)}
		}
	}
	tx.remove(rev)
	rev.PreviousRevisionID = previous
	tx.put(rev)
	return nil
}

func (tx *revisionTx) SetCheckpoint(ctx context.Context, id int64, checkpointID int64, timelineID *int64) error {
	rev, err := tx.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := tx.st.checkpoints[checkpointID]; !ok {
		return domain.NotFoundError{Resource: "checkpoint"}
	}
	if timelineID != nil {
		if _, ok := tx.st.timelines[*timelineID]; !ok {
			return domain.NotFoundError{Resource: "timeline"}
		}
	}
	rev.CheckpointID = &checkpointID
	rev.TimelineID = copyID(timelineID)
	tx.st.revisions[id] = rev
	return nil
}

func (tx *revisionTx) SetMetadata(ctx context.Context, id int64, meta domain.Metadata, hash uint64) error {
	rev, err := tx.Get(ctx, id)
	if err != nil {
		return err
	}
	rev.Metadata = copyMetadata(meta)
	rev.MetadataHash = hash
	tx.st.revisions[id] = rev
	return nil
}

func (tx *revisionTx) Delete(ctx context.Context, id int64) error {
	rev, err := tx.Get(ctx, id)
	if err != nil {
		return err
	}
	tx.remove(rev)
	delete(tx.st.revisions, id)
	return nil
}

// put stores rev and indexes its head flag and previous pointer.
func (tx *revisionTx) put(rev domain.Revision) {
	rev = detach(rev)
	tx.st.revisions[rev.ID] = rev
	if rev.Latest {
		tx.st.heads[rev.Group()] = rev.ID
	}
	if rev.PreviousRevisionID != nil {
		tx.st.successor[*rev.PreviousRevisionID] = rev.ID
	}
}

// remove drops the index entries of rev, leaving the record in place.
func (tx *revisionTx) remove(rev domain.Revision) {
	if head, ok := tx.st.heads[rev.Group()]; ok && head == rev.ID {
		delete(tx.st.heads, rev.Group())
	}
	if rev.PreviousRevisionID != nil {
		if next, ok := tx.st.successor[*rev.PreviousRevisionID]; ok && next == rev.ID {
			delete(tx.st.successor, *rev.PreviousRevisionID)
		}
	}
}

// detach returns rev without any pointer or map shared with its source.
func detach(rev domain.Revision) domain.Revision {
	rev.PreviousRevisionID = copyID(rev.PreviousRevisionID)
	rev.CheckpointID = copyID(rev.CheckpointID)
	rev.TimelineID = copyID(rev.TimelineID)
	rev.Metadata = copyMetadata(rev.Metadata)
	return rev
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func copyMetadata(meta domain.Metadata) domain.Metadata {
	if meta == nil {
		return nil
	}
	out := make(domain.Metadata, len(meta))
	for k, v := range meta {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

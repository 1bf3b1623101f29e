package usecase

import (
	"context"
	"time"

	"github.com/totegamma/checkpoint/internal/domain"
)

// RevisionFilter restricts the revisions considered by LatestIDs.
type RevisionFilter struct {
	EntityType string
	TimelineID *int64
	// RestrictCheckpoints limits revisions to CheckpointIDs; an empty list
	// then matches nothing.
	RestrictCheckpoints bool
	CheckpointIDs       []int64
	CreatedAtOrBefore   *time.Time
	CreatedAfter        *time.Time
}

// RevisionReader defines read access to revisions.
type RevisionReader interface {
	Get(ctx context.Context, id int64) (domain.Revision, error)
	GetMany(ctx context.Context, ids []int64) ([]domain.Revision, error)
	// FindNext returns the revision whose previous pointer is id, or nil.
	FindNext(ctx context.Context, id int64) (*domain.Revision, error)
	// FindHead returns the revision flagged latest in g, or nil.
	FindHead(ctx context.Context, g domain.Group) (*domain.Revision, error)
	// ListGroup returns every revision of g ordered by id.
	ListGroup(ctx context.Context, g domain.Group) ([]domain.Revision, error)
	// LatestIDs returns the maximum revision id per group among revisions
	// matching f, ordered by id.
	LatestIDs(ctx context.Context, f RevisionFilter) ([]int64, error)
}

// RevisionTx is the write side of a revision transaction.
type RevisionTx interface {
	RevisionReader
	// LockHead returns the head of g and holds it until the transaction ends.
	LockHead(ctx context.Context, g domain.Group) (*domain.Revision, error)
	Create(ctx context.Context, rev *domain.Revision) error
	SetLatest(ctx context.Context, id int64, latest bool) error
	SetPrevious(ctx context.Context, id int64, previous *int64) error
	// SetCheckpoint seals id under checkpointID and sets its timeline.
	SetCheckpoint(ctx context.Context, id int64, checkpointID int64, timelineID *int64) error
	SetMetadata(ctx context.Context, id int64, meta domain.Metadata, hash uint64) error
	Delete(ctx context.Context, id int64) error
}

// RevisionRepository defines storage operations for revisions.
type RevisionRepository interface {
	RevisionReader
	// Transaction runs fn atomically; any error rolls every write back.
	Transaction(ctx context.Context, fn func(tx RevisionTx) error) error
}

// CheckpointRepository defines storage operations for checkpoints.
type CheckpointRepository interface {
	Create(ctx context.Context, c *domain.Checkpoint) error
	Get(ctx context.Context, id int64) (domain.Checkpoint, error)
	List(ctx context.Context) ([]domain.Checkpoint, error)
	OlderThanOrEqual(ctx context.Context, c domain.Checkpoint) ([]domain.Checkpoint, error)
	NewerThan(ctx context.Context, c domain.Checkpoint) ([]domain.Checkpoint, error)
}

// TimelineRepository defines storage operations for timelines.
type TimelineRepository interface {
	Create(ctx context.Context, tl *domain.Timeline) error
	Get(ctx context.Context, id int64) (domain.Timeline, error)
	List(ctx context.Context) ([]domain.Timeline, error)
}

// CheckpointCache memoizes checkpoint partitions.
type CheckpointCache interface {
	Get(ctx context.Context, key string) ([]int64, bool)
	Set(ctx context.Context, key string, ids []int64)
	Invalidate(ctx context.Context) error
}

// EventPublisher announces committed chain mutations.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.RevisionEvent) error
}

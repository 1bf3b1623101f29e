package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/checkpoint/internal/domain"
	"github.com/totegamma/checkpoint/internal/entitytype"
)

var tracer = otel.Tracer("usecase")

// AppendInput describes a new revision. EntityType is a discriminator
// string or a live entity resolvable by the type registry.
type AppendInput struct {
	EntityType       any
	OriginalEntityID int64
	EntityID         int64
	CheckpointID     *int64
	TimelineID       *int64
}

type ChainUsecase struct {
	repo        RevisionRepository
	checkpoints CheckpointRepository
	types       *entitytype.Registry
	settings
	log zerolog.Logger
}

func NewChainUsecase(
	repo RevisionRepository,
	checkpoints CheckpointRepository,
	types *entitytype.Registry,
	opts ...Option,
) *ChainUsecase {
	s := newSettings(opts)
	return &ChainUsecase{
		repo:        repo,
		checkpoints: checkpoints,
		types:       types,
		settings:    s,
		log:         s.logger.Component("chain"),
	}
}

// Append adds a new head to the chain of (EntityType, OriginalEntityID).
func (uc *ChainUsecase) Append(ctx context.Context, in AppendInput) (domain.Revision, error) {
	ctx, span := tracer.Start(ctx, "Checkpoint.Usecase.Append")
	defer span.End()

	start := time.Now()
	rev, err := uc.append(ctx, in)
	uc.finish("append", rev.ID, start, err)
	if err != nil {
		span.RecordError(err)
		return domain.Revision{}, err
	}
	span.SetAttributes(attribute.Int64("RevisionID", rev.ID))

	uc.publish(ctx, domain.RevisionEvent{Type: domain.EventRevisionAppended, Revision: rev})
	return rev, nil
}

func (uc *ChainUsecase) append(ctx context.Context, in AppendInput) (domain.Revision, error) {
	entityType, err := uc.types.Resolve(in.EntityType)
	if err != nil {
		return domain.Revision{}, err
	}
	if entityType == "" {
		return domain.Revision{}, domain.AmbiguousEntityTypeError{Value: fmt.Sprintf("%v", in.EntityType)}
	}

	timelineID := in.TimelineID
	if in.CheckpointID != nil {
		cp, err := uc.checkpoints.Get(ctx, *in.CheckpointID)
		if err != nil {
			return domain.Revision{}, err
		}
		timelineID, err = bindTimeline(timelineID, cp)
		if err != nil {
			return domain.Revision{}, err
		}
	}

	g := domain.Group{EntityType: entityType, OriginalEntityID: in.OriginalEntityID}

	var created domain.Revision
	err = uc.repo.Transaction(ctx, func(tx RevisionTx) error {
		head, err := lockHead(ctx, tx, g)
		if err != nil {
			return err
		}

		if head == nil {
			members, err := tx.ListGroup(ctx, g)
			if err != nil {
				return err
			}
			if len(members) > 0 {
				return domain.ChainIntegrityError{Group: g, Reason: "group has revisions but no head"}
			}
			if in.EntityID != in.OriginalEntityID {
				return domain.ChainIntegrityError{Group: g, Reason: "origin revision must represent the original entity"}
			}
		} else {
			if err := tx.SetLatest(ctx, head.ID, false); err != nil {
				return err
			}
		}

		now := uc.timestamp()
		rev := domain.Revision{
			EntityType:       entityType,
			EntityID:         in.EntityID,
			OriginalEntityID: in.OriginalEntityID,
			CheckpointID:     in.CheckpointID,
			TimelineID:       timelineID,
			Latest:           true,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if head != nil {
			previous := head.ID
			rev.PreviousRevisionID = &previous
		}

		if err := tx.Create(ctx, &rev); err != nil {
			return err
		}

		if uc.verifyOnWrite {
			if err := verifyGroup(ctx, tx, g); err != nil {
				return err
			}
		}

		created = rev
		return nil
	})
	if err != nil {
		return domain.Revision{}, err
	}
	return created, nil
}

// Delete removes a revision and relinks its chain: the successor inherits
// the previous pointer, or the predecessor becomes head.
func (uc *ChainUsecase) Delete(ctx context.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "Checkpoint.Usecase.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int64("RevisionID", id))

	start := time.Now()

	var deleted domain.Revision
	var promoted *int64
	err := uc.repo.Transaction(ctx, func(tx RevisionTx) error {
		rev, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		g := rev.Group()

		if _, err := lockHead(ctx, tx, g); err != nil {
			return err
		}
		// reread under the head lock
		rev, err = tx.Get(ctx, id)
		if err != nil {
			return err
		}

		next, err := tx.FindNext(ctx, rev.ID)
		if err != nil {
			return err
		}

		if next != nil {
			if rev.Latest {
				return domain.ChainIntegrityError{Group: g, Reason: fmt.Sprintf("head %d has successor %d", rev.ID, next.ID)}
			}
			if err := tx.Delete(ctx, rev.ID); err != nil {
				return err
			}
			if err := tx.SetPrevious(ctx, next.ID, rev.PreviousRevisionID); err != nil {
				return err
			}
		} else {
			if !rev.Latest {
				return domain.ChainIntegrityError{Group: g, Reason: fmt.Sprintf("revision %d has no successor but is not flagged latest", rev.ID)}
			}
			if err := tx.Delete(ctx, rev.ID); err != nil {
				return err
			}
			if rev.PreviousRevisionID != nil {
				if err := tx.SetLatest(ctx, *rev.PreviousRevisionID, true); err != nil {
					return err
				}
				promoted = rev.PreviousRevisionID
			}
		}

		if uc.verifyOnWrite {
			if err := verifyGroup(ctx, tx, g); err != nil {
				return err
			}
		}

		deleted = rev
		return nil
	})
	uc.finish("delete", id, start, err)
	if err != nil {
		span.RecordError(err)
		return err
	}

	uc.publish(ctx, domain.RevisionEvent{Type: domain.EventRevisionDeleted, Revision: deleted, Promoted: promoted})
	return nil
}

// Seal tags a draft revision with a checkpoint. A draft without a timeline
// joins the checkpoint's timeline. A sealed revision keeps its checkpoint
// forever; sealing it again under the same checkpoint is a no-op.
func (uc *ChainUsecase) Seal(ctx context.Context, id, checkpointID int64) (domain.Revision, error) {
	ctx, span := tracer.Start(ctx, "Checkpoint.Usecase.Seal")
	defer span.End()

	start := time.Now()

	cp, err := uc.checkpoints.Get(ctx, checkpointID)
	if err != nil {
		span.RecordError(err)
		return domain.Revision{}, err
	}

	var sealed domain.Revision
	changed := false
	err = uc.repo.Transaction(ctx, func(tx RevisionTx) error {
		rev, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if rev.CheckpointID != nil {
			if *rev.CheckpointID != cp.ID {
				return domain.ErrRevisionSealed
			}
			sealed = rev
			return nil
		}
		timelineID, err := bindTimeline(rev.TimelineID, cp)
		if err != nil {
			return err
		}
		if err := tx.SetCheckpoint(ctx, rev.ID, cp.ID, timelineID); err != nil {
			return err
		}
		rev, err = tx.Get(ctx, id)
		if err != nil {
			return err
		}
		sealed = rev
		changed = true
		return nil
	})
	uc.finish("seal", id, start, err)
	if err != nil {
		span.RecordError(err)
		return domain.Revision{}, err
	}

	if changed {
		uc.publish(ctx, domain.RevisionEvent{Type: domain.EventRevisionSealed, Revision: sealed})
	}
	return sealed, nil
}

func (uc *ChainUsecase) Get(ctx context.Context, id int64) (domain.Revision, error) {
	return uc.repo.Get(ctx, id)
}

// IsNew reports whether rev is the origin of its chain.
func (uc *ChainUsecase) IsNew(rev domain.Revision) bool {
	return rev.IsNew()
}

// IsLatest reports whether no revision points back at rev. It is derived
// independently of the latest flag.
func (uc *ChainUsecase) IsLatest(ctx context.Context, rev domain.Revision) (bool, error) {
	next, err := uc.repo.FindNext(ctx, rev.ID)
	if err != nil {
		return false, err
	}
	return next == nil, nil
}

// Next returns the successor of rev, or nil for a head.
func (uc *ChainUsecase) Next(ctx context.Context, rev domain.Revision) (*domain.Revision, error) {
	return uc.repo.FindNext(ctx, rev.ID)
}

// Previous returns the predecessor of rev, or nil for an origin.
func (uc *ChainUsecase) Previous(ctx context.Context, rev domain.Revision) (*domain.Revision, error) {
	if rev.PreviousRevisionID == nil {
		return nil, nil
	}
	prev, err := uc.repo.Get(ctx, *rev.PreviousRevisionID)
	if err != nil {
		return nil, err
	}
	return &prev, nil
}

// Newest returns the head of g, or nil when g is empty.
func (uc *ChainUsecase) Newest(ctx context.Context, g domain.Group) (*domain.Revision, error) {
	g, err := uc.normalizeGroup(g)
	if err != nil {
		return nil, err
	}
	return uc.repo.FindHead(ctx, g)
}

// History returns the revisions of g from origin to head.
func (uc *ChainUsecase) History(ctx context.Context, g domain.Group) ([]domain.Revision, error) {
	g, err := uc.normalizeGroup(g)
	if err != nil {
		return nil, err
	}
	members, err := uc.repo.ListGroup(ctx, g)
	if err != nil {
		return nil, err
	}
	return orderChain(g, members)
}

// Others returns the other revisions sharing rev's chain, ordered by id.
func (uc *ChainUsecase) Others(ctx context.Context, rev domain.Revision) ([]domain.Revision, error) {
	members, err := uc.repo.ListGroup(ctx, rev.Group())
	if err != nil {
		return nil, err
	}
	others := make([]domain.Revision, 0, len(members))
	for _, m := range members {
		if m.ID != rev.ID {
			others = append(others, m)
		}
	}
	return others, nil
}

// Verify checks every structural invariant of g.
func (uc *ChainUsecase) Verify(ctx context.Context, g domain.Group) error {
	g, err := uc.normalizeGroup(g)
	if err != nil {
		return err
	}
	members, err := uc.repo.ListGroup(ctx, g)
	if err != nil {
		return err
	}
	return CheckChain(g, members)
}

func (uc *ChainUsecase) normalizeGroup(g domain.Group) (domain.Group, error) {
	entityType, err := uc.types.Normalize(g.EntityType)
	if err != nil {
		return domain.Group{}, err
	}
	g.EntityType = entityType
	return g, nil
}

func (uc *ChainUsecase) finish(operation string, id int64, start time.Time, err error) {
	elapsed := time.Since(start)
	uc.metrics.RecordChainOperation(operation, err, elapsed)
	if errors.Is(err, domain.ErrChainIntegrity) {
		uc.metrics.RecordIntegrityViolation()
		uc.log.Warn().Err(err).Str("operation", operation).Int64("revision_id", id).Msg("chain mutation aborted")
		return
	}
	uc.logger.LogChainOperation(operation, id, elapsed, err)
}

func (uc *ChainUsecase) publish(ctx context.Context, event domain.RevisionEvent) {
	if uc.publisher == nil {
		return
	}
	if err := uc.publisher.Publish(ctx, event); err != nil {
		uc.log.Warn().Err(err).Str("event", event.Type).Int64("revision_id", event.Revision.ID).Msg("failed to publish revision event")
	}
}

// lockHead locks and returns the head of g. When the group has members but
// the lock came back empty, a concurrent writer moved the head while this
// transaction waited, and the lock is taken again on the new head.
func lockHead(ctx context.Context, tx RevisionTx, g domain.Group) (*domain.Revision, error) {
	head, err := tx.LockHead(ctx, g)
	if err != nil || head != nil {
		return head, err
	}
	members, err := tx.ListGroup(ctx, g)
	if err != nil || len(members) == 0 {
		return nil, err
	}
	return tx.LockHead(ctx, g)
}

func bindTimeline(timelineID *int64, cp domain.Checkpoint) (*int64, error) {
	if cp.TimelineID == nil {
		return timelineID, nil
	}
	if timelineID == nil {
		id := *cp.TimelineID
		return &id, nil
	}
	if *timelineID != *cp.TimelineID {
		return nil, domain.ErrTimelineMismatch
	}
	return timelineID, nil
}

func verifyGroup(ctx context.Context, tx RevisionTx, g domain.Group) error {
	members, err := tx.ListGroup(ctx, g)
	if err != nil {
		return err
	}
	return CheckChain(g, members)
}

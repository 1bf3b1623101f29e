package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/checkpoint/internal/domain"
)

// CheckpointUsecase manages checkpoints and answers ordering questions about
// them.
type CheckpointUsecase struct {
	repo      CheckpointRepository
	timelines TimelineRepository
	settings
	log zerolog.Logger
}

func NewCheckpointUsecase(repo CheckpointRepository, timelines TimelineRepository, opts ...Option) *CheckpointUsecase {
	s := newSettings(opts)
	return &CheckpointUsecase{
		repo:      repo,
		timelines: timelines,
		settings:  s,
		log:       s.logger.Component("checkpoint"),
	}
}

// Create stores a new checkpoint. A zero CheckpointAt defaults to now.
func (uc *CheckpointUsecase) Create(ctx context.Context, c domain.Checkpoint) (domain.Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "Checkpoint.Usecase.Create")
	defer span.End()

	if c.TimelineID != nil {
		if _, err := uc.timelines.Get(ctx, *c.TimelineID); err != nil {
			span.RecordError(err)
			return domain.Checkpoint{}, err
		}
	}

	now := uc.timestamp()
	if c.CheckpointAt.IsZero() {
		c.CheckpointAt = now
	}
	c.CheckpointAt = c.CheckpointAt.UTC().Truncate(time.Microsecond)
	c.ID = 0
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := uc.repo.Create(ctx, &c); err != nil {
		span.RecordError(errors.Wrap(err, "failed to create checkpoint"))
		return domain.Checkpoint{}, err
	}
	span.SetAttributes(attribute.Int64("CheckpointID", c.ID))

	if uc.cache != nil {
		if err := uc.cache.Invalidate(ctx); err != nil {
			uc.log.Warn().Err(err).Msg("failed to invalidate checkpoint cache")
		}
	}

	uc.log.Info().Int64("checkpoint_id", c.ID).Str("title", c.Title).Time("checkpoint_at", c.CheckpointAt).Msg("checkpoint created")
	return c, nil
}

func (uc *CheckpointUsecase) Get(ctx context.Context, id int64) (domain.Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "Checkpoint.Usecase.Get")
	defer span.End()

	c, err := uc.repo.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
	}
	return c, err
}

// List returns every checkpoint in checkpoint order.
func (uc *CheckpointUsecase) List(ctx context.Context) ([]domain.Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "Checkpoint.Usecase.List")
	defer span.End()

	return uc.repo.List(ctx)
}

// OlderThanOrEqual returns checkpoints sorting at or before c, c included.
func (uc *CheckpointUsecase) OlderThanOrEqual(ctx context.Context, c domain.Checkpoint) ([]domain.Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "Checkpoint.Usecase.OlderThanOrEqual")
	defer span.End()

	return uc.repo.OlderThanOrEqual(ctx, c)
}

// NewerThan returns checkpoints sorting strictly after c.
func (uc *CheckpointUsecase) NewerThan(ctx context.Context, c domain.Checkpoint) ([]domain.Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "Checkpoint.Usecase.NewerThan")
	defer span.End()

	return uc.repo.NewerThan(ctx, c)
}

// OlderThanOrEqualIDs is the id projection of OlderThanOrEqual, memoized in
// the checkpoint cache.
func (uc *CheckpointUsecase) OlderThanOrEqualIDs(ctx context.Context, c domain.Checkpoint) ([]int64, error) {
	return uc.partitionIDs(ctx, "older", c, uc.repo.OlderThanOrEqual)
}

// NewerThanIDs is the id projection of NewerThan, memoized in the checkpoint
// cache.
func (uc *CheckpointUsecase) NewerThanIDs(ctx context.Context, c domain.Checkpoint) ([]int64, error) {
	return uc.partitionIDs(ctx, "newer", c, uc.repo.NewerThan)
}

// Resolve turns a checkpoint reference into the stored checkpoint.
func (uc *CheckpointUsecase) Resolve(ctx context.Context, b domain.Bound) (domain.Checkpoint, error) {
	switch b.Kind {
	case domain.BoundCheckpoint:
		// only the id of a caller-built checkpoint is trusted
		return uc.repo.Get(ctx, b.Checkpoint.ID)
	case domain.BoundCheckpointRef:
		return uc.repo.Get(ctx, int64(b.Ref))
	default:
		return domain.Checkpoint{}, domain.UnknownTemporalBoundError{Value: b}
	}
}

func (uc *CheckpointUsecase) partitionIDs(
	ctx context.Context,
	direction string,
	c domain.Checkpoint,
	load func(context.Context, domain.Checkpoint) ([]domain.Checkpoint, error),
) ([]int64, error) {
	ctx, span := tracer.Start(ctx, "Checkpoint.Usecase.PartitionIDs")
	defer span.End()

	key := partitionKey(direction, c)
	if uc.cache != nil {
		if ids, ok := uc.cache.Get(ctx, key); ok {
			uc.metrics.RecordCacheLookup(true)
			return ids, nil
		}
		uc.metrics.RecordCacheLookup(false)
	}

	checkpoints, err := load(ctx, c)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ids := make([]int64, len(checkpoints))
	for i, cp := range checkpoints {
		ids[i] = cp.ID
	}

	if uc.cache != nil {
		uc.cache.Set(ctx, key, ids)
	}
	return ids, nil
}

func partitionKey(direction string, c domain.Checkpoint) string {
	return fmt.Sprintf("checkpoint:%s:%d:%d", direction, c.ID, c.CheckpointAt.UnixNano())
}

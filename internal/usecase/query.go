package usecase

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/checkpoint/internal/domain"
	"github.com/totegamma/checkpoint/internal/entitytype"
)

// LatestQuery selects the latest applicable revision per group. Until and
// Since accept anything domain.ParseBound does; Type is a discriminator
// string or a live entity.
type LatestQuery struct {
	Until      any
	Since      any
	Type       any
	TimelineID *int64
}

// QueryUsecase answers read-only temporal questions.
type QueryUsecase struct {
	revisions   RevisionReader
	checkpoints *CheckpointUsecase
	types       *entitytype.Registry
	settings
}

func NewQueryUsecase(
	revisions RevisionReader,
	checkpoints *CheckpointUsecase,
	types *entitytype.Registry,
	opts ...Option,
) *QueryUsecase {
	return &QueryUsecase{
		revisions:   revisions,
		checkpoints: checkpoints,
		types:       types,
		settings:    newSettings(opts),
	}
}

// LatestIDs returns, for every group with a revision inside the window, the
// maximum revision id within that window, in ascending order.
func (uc *QueryUsecase) LatestIDs(ctx context.Context, q LatestQuery) ([]int64, error) {
	ctx, span := tracer.Start(ctx, "Query.Usecase.LatestIDs")
	defer span.End()

	filter, untilKind, sinceKind, err := uc.buildFilter(ctx, q)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ids, err := uc.revisions.LatestIDs(ctx, filter)
	if err != nil {
		span.RecordError(errors.Wrap(err, "failed to query latest revisions"))
		return nil, err
	}
	span.SetAttributes(attribute.Int("Results", len(ids)))

	uc.metrics.RecordTemporalLookup(untilKind, sinceKind, len(ids))
	return ids, nil
}

// Latest loads the revisions selected by LatestIDs.
func (uc *QueryUsecase) Latest(ctx context.Context, q LatestQuery) ([]domain.Revision, error) {
	ids, err := uc.LatestIDs(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Revision{}, nil
	}
	return uc.revisions.GetMany(ctx, ids)
}

// IsNewAt reports whether rev is an origin revision belonging to c.
func (uc *QueryUsecase) IsNewAt(rev domain.Revision, c domain.Checkpoint) bool {
	return rev.IsNewAt(c)
}

// IsUpdatedAt reports whether rev is an update belonging to c.
func (uc *QueryUsecase) IsUpdatedAt(rev domain.Revision, c domain.Checkpoint) bool {
	return rev.IsUpdatedAt(c)
}

// ResolveType normalizes a discriminator or live entity.
func (uc *QueryUsecase) ResolveType(v any) (string, error) {
	return uc.types.Resolve(v)
}

func (uc *QueryUsecase) buildFilter(ctx context.Context, q LatestQuery) (RevisionFilter, string, string, error) {
	var filter RevisionFilter

	entityType, err := uc.types.Resolve(q.Type)
	if err != nil {
		return RevisionFilter{}, "", "", err
	}
	filter.EntityType = entityType
	filter.TimelineID = q.TimelineID

	until, err := domain.ParseBound(q.Until)
	if err != nil {
		return RevisionFilter{}, "", "", err
	}
	since, err := domain.ParseBound(q.Since)
	if err != nil {
		return RevisionFilter{}, "", "", err
	}

	switch until.Kind {
	case domain.BoundTime:
		t := until.Time
		filter.CreatedAtOrBefore = &t
	case domain.BoundCheckpoint, domain.BoundCheckpointRef:
		cp, err := uc.resolveCheckpoint(ctx, until)
		if err != nil {
			return RevisionFilter{}, "", "", err
		}
		ids, err := uc.checkpoints.OlderThanOrEqualIDs(ctx, cp)
		if err != nil {
			return RevisionFilter{}, "", "", err
		}
		filter.RestrictCheckpoints = true
		filter.CheckpointIDs = ids
	}

	switch since.Kind {
	case domain.BoundTime:
		t := since.Time
		filter.CreatedAfter = &t
	case domain.BoundCheckpoint, domain.BoundCheckpointRef:
		cp, err := uc.resolveCheckpoint(ctx, since)
		if err != nil {
			return RevisionFilter{}, "", "", err
		}
		ids, err := uc.checkpoints.NewerThanIDs(ctx, cp)
		if err != nil {
			return RevisionFilter{}, "", "", err
		}
		filter.CheckpointIDs = intersect(filter.RestrictCheckpoints, filter.CheckpointIDs, ids)
		filter.RestrictCheckpoints = true
	}

	return filter, boundLabel(until.Kind), boundLabel(since.Kind), nil
}

func (uc *QueryUsecase) resolveCheckpoint(ctx context.Context, b domain.Bound) (domain.Checkpoint, error) {
	cp, err := uc.checkpoints.Resolve(ctx, b)
	if errors.Is(err, domain.ErrNotFound) {
		if b.Kind == domain.BoundCheckpointRef {
			return domain.Checkpoint{}, domain.UnknownTemporalBoundError{Value: b.Ref}
		}
		return domain.Checkpoint{}, domain.UnknownTemporalBoundError{Value: b.Checkpoint}
	}
	return cp, err
}

// intersect combines an until-partition with a since-partition. When the
// until side was not restricted, the since side is taken as is.
func intersect(restricted bool, current, ids []int64) []int64 {
	if !restricted {
		return ids
	}
	keep := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	out := make([]int64, 0, len(current))
	for _, id := range current {
		if _, ok := keep[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func boundLabel(k domain.BoundKind) string {
	switch k {
	case domain.BoundCheckpoint, domain.BoundCheckpointRef:
		return "checkpoint"
	case domain.BoundTime:
		return "time"
	default:
		return "none"
	}
}

package usecase

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/checkpoint/internal/domain"
)

// TimelineUsecase manages timelines, the branch tags orthogonal to
// checkpoints.
type TimelineUsecase struct {
	repo  TimelineRepository
	query *QueryUsecase
	settings
	log zerolog.Logger
}

func NewTimelineUsecase(repo TimelineRepository, query *QueryUsecase, opts ...Option) *TimelineUsecase {
	s := newSettings(opts)
	return &TimelineUsecase{
		repo:     repo,
		query:    query,
		settings: s,
		log:      s.logger.Component("timeline"),
	}
}

func (uc *TimelineUsecase) Create(ctx context.Context, title string) (domain.Timeline, error) {
	ctx, span := tracer.Start(ctx, "Timeline.Usecase.Create")
	defer span.End()

	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Timeline{}, errors.New("timeline title is required")
	}

	now := uc.timestamp()
	tl := domain.Timeline{Title: title, CreatedAt: now, UpdatedAt: now}
	if err := uc.repo.Create(ctx, &tl); err != nil {
		span.RecordError(errors.Wrap(err, "failed to create timeline"))
		return domain.Timeline{}, err
	}
	span.SetAttributes(attribute.Int64("TimelineID", tl.ID))

	uc.log.Info().Int64("timeline_id", tl.ID).Str("title", tl.Title).Msg("timeline created")
	return tl, nil
}

func (uc *TimelineUsecase) Get(ctx context.Context, id int64) (domain.Timeline, error) {
	ctx, span := tracer.Start(ctx, "Timeline.Usecase.Get")
	defer span.End()

	return uc.repo.Get(ctx, id)
}

func (uc *TimelineUsecase) List(ctx context.Context) ([]domain.Timeline, error) {
	ctx, span := tracer.Start(ctx, "Timeline.Usecase.List")
	defer span.End()

	return uc.repo.List(ctx)
}

// Revisions runs q restricted to the revisions bound to the timeline.
func (uc *TimelineUsecase) Revisions(ctx context.Context, timelineID int64, q LatestQuery) ([]int64, error) {
	ctx, span := tracer.Start(ctx, "Timeline.Usecase.Revisions")
	defer span.End()

	if _, err := uc.repo.Get(ctx, timelineID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	q.TimelineID = &timelineID
	return uc.query.LatestIDs(ctx, q)
}

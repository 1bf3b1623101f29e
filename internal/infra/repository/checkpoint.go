package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/totegamma/checkpoint/internal/domain"
	"github.com/totegamma/checkpoint/internal/infra/database/models"
)

type CheckpointRepository struct {
	db *gorm.DB
}

func NewCheckpointRepository(db *gorm.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

func (r *CheckpointRepository) Create(ctx context.Context, c *domain.Checkpoint) error {
	row := models.Checkpoint{
		Title:        c.Title,
		CheckpointAt: c.CheckpointAt.UTC(),
		TimelineID:   c.TimelineID,
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return domain.NotFoundError{Resource: "timeline"}
		}
		return errors.Wrap(err, "failed to create checkpoint")
	}
	*c = toDomainCheckpoint(row)
	return nil
}

func (r *CheckpointRepository) Get(ctx context.Context, id int64) (domain.Checkpoint, error) {
	var row models.Checkpoint
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Checkpoint{}, domain.NotFoundError{Resource: "checkpoint"}
		}
		return domain.Checkpoint{}, errors.Wrap(err, "failed to get checkpoint")
	}
	return toDomainCheckpoint(row), nil
}

func (r *CheckpointRepository) List(ctx context.Context) ([]domain.Checkpoint, error) {
	return r.find(r.db.WithContext(ctx))
}

// OlderThanOrEqual returns every checkpoint whose (checkpoint_at, id) key is
// not greater than c's.
func (r *CheckpointRepository) OlderThanOrEqual(ctx context.Context, c domain.Checkpoint) ([]domain.Checkpoint, error) {
	at := c.CheckpointAt.UTC()
	return r.find(r.db.WithContext(ctx).
		Where("checkpoint_at < ? OR (checkpoint_at = ? AND id <= ?)", at, at, c.ID))
}

// NewerThan returns every checkpoint whose key is strictly greater than c's.
func (r *CheckpointRepository) NewerThan(ctx context.Context, c domain.Checkpoint) ([]domain.Checkpoint, error) {
	at := c.CheckpointAt.UTC()
	return r.find(r.db.WithContext(ctx).
		Where("checkpoint_at > ? OR (checkpoint_at = ? AND id > ?)", at, at, c.ID))
}

func (r *CheckpointRepository) find(q *gorm.DB) ([]domain.Checkpoint, error) {
	var rows []models.Checkpoint
	if err := q.Order("checkpoint_at, id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list checkpoints")
	}
	out := make([]domain.Checkpoint, len(rows))
	for i, row := range rows {
		out[i] = toDomainCheckpoint(row)
	}
	return out, nil
}

func toDomainCheckpoint(row models.Checkpoint) domain.Checkpoint {
	return domain.Checkpoint{
		ID:           row.ID,
		Title:        row.Title,
		CheckpointAt: row.CheckpointAt,
		TimelineID:   row.TimelineID,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

type TimelineRepository struct {
	db *gorm.DB
}

func NewTimelineRepository(db *gorm.DB) *TimelineRepository {
	return &TimelineRepository{db: db}
}

func (r *TimelineRepository) Create(ctx context.Context, tl *domain.Timeline) error {
	row := models.Timeline{
		Title:     tl.Title,
		CreatedAt: tl.CreatedAt.UTC(),
		UpdatedAt: tl.UpdatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "failed to create timeline")
	}
	*tl = toDomainTimeline(row)
	return nil
}

func (r *TimelineRepository) Get(ctx context.Context, id int64) (domain.Timeline, error) {
	var row models.Timeline
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Timeline{}, domain.NotFoundError{Resource: "timeline"}
		}
		return domain.Timeline{}, errors.Wrap(err, "failed to get timeline")
	}
	return toDomainTimeline(row), nil
}

func (r *TimelineRepository) List(ctx context.Context) ([]domain.Timeline, error) {
	var rows []models.Timeline
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list timelines")
	}
	out := make([]domain.Timeline, len(rows))
	for i, row := range rows {
		out[i] = toDomainTimeline(row)
	}
	return out, nil
}

func toDomainTimeline(row models.Timeline) domain.Timeline {
	return domain.Timeline{
		ID:        row.ID,
		Title:     row.Title,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

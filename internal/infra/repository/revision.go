package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/checkpoint/internal/domain"
	"github.com/totegamma/checkpoint/internal/infra/database/models"
	"github.com/totegamma/checkpoint/internal/usecase"
)

type RevisionRepository struct {
	db *gorm.DB
}

func NewRevisionRepository(db *gorm.DB) *RevisionRepository {
	return &RevisionRepository{db: db}
}

// Transaction runs fn in a database transaction. A second head racing into
// idx_revisions_head surfaces as a chain integrity violation.
func (r *RevisionRepository) Transaction(ctx context.Context, fn func(tx usecase.RevisionTx) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&revisionTx{revisionReader{db: tx}})
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ChainIntegrityError{Reason: "another revision already holds the latest flag"}
	}
	return err
}

func (r *RevisionRepository) reader(ctx context.Context) revisionReader {
	return revisionReader{db: r.db.WithContext(ctx)}
}

func (r *RevisionRepository) Get(ctx context.Context, id int64) (domain.Revision, error) {
	return r.reader(ctx).Get(ctx, id)
}

func (r *RevisionRepository) GetMany(ctx context.Context, ids []int64) ([]domain.Revision, error) {
	return r.reader(ctx).GetMany(ctx, ids)
}

func (r *RevisionRepository) FindNext(ctx context.Context, id int64) (*domain.Revision, error) {
	return r.reader(ctx).FindNext(ctx, id)
}

func (r *RevisionRepository) FindHead(ctx context.Context, g domain.Group) (*domain.Revision, error) {
	return r.reader(ctx).FindHead(ctx, g)
}

func (r *RevisionRepository) ListGroup(ctx context.Context, g domain.Group) ([]domain.Revision, error) {
	return r.reader(ctx).ListGroup(ctx, g)
}

func (r *RevisionRepository) LatestIDs(ctx context.Context, f usecase.RevisionFilter) ([]int64, error) {
	return r.reader(ctx).LatestIDs(ctx, f)
}

type revisionReader struct {
	db *gorm.DB
}

func (r revisionReader) Get(ctx context.Context, id int64) (domain.Revision, error) {
	var row models.Revision
	err := r.db.Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Revision{}, domain.NotFoundError{Resource: "revision"}
		}
		return domain.Revision{}, errors.Wrap(err, "failed to get revision")
	}
	return toDomainRevision(row)
}

func (r revisionReader) GetMany(ctx context.Context, ids []int64) ([]domain.Revision, error) {
	var rows []models.Revision
	err := r.db.Where("id IN ?", ids).Order("id").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get revisions")
	}
	return toDomainRevisions(rows)
}

func (r revisionReader) FindNext(ctx context.Context, id int64) (*domain.Revision, error) {
	var row models.Revision
	err := r.db.Where("previous_revision_id = ?", id).Take(&row).Error
	return optional(row, err)
}

func (r revisionReader) FindHead(ctx context.Context, g domain.Group) (*domain.Revision, error) {
	var row models.Revision
	err := r.db.
		Where("entity_type = ? AND original_entity_id = ? AND latest = ?", g.EntityType, g.OriginalEntityID, true).
		Take(&row).Error
	return optional(row, err)
}

func (r revisionReader) ListGroup(ctx context.Context, g domain.Group) ([]domain.Revision, error) {
	var rows []models.Revision
	err := r.db.
		Where("entity_type = ? AND original_entity_id = ?", g.EntityType, g.OriginalEntityID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list revision group")
	}
	return toDomainRevisions(rows)
}

// LatestIDs selects MAX(id) per (entity_type, original_entity_id) after
// applying the window filters.
func (r revisionReader) LatestIDs(ctx context.Context, f usecase.RevisionFilter) ([]int64, error) {
	if f.RestrictCheckpoints && len(f.CheckpointIDs) == 0 {
		return []int64{}, nil
	}

	q := r.db.Model(&models.Revision{}).Select("MAX(id)")
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.TimelineID != nil {
		q = q.Where("timeline_id = ?", *f.TimelineID)
	}
	if f.RestrictCheckpoints {
		q = q.Where("checkpoint_id IN ?", f.CheckpointIDs)
	}
	if f.CreatedAtOrBefore != nil {
		q = q.Where("created_at <= ?", f.CreatedAtOrBefore.UTC())
	}
	if f.CreatedAfter != nil {
		q = q.Where("created_at > ?", f.CreatedAfter.UTC())
	}

	ids := []int64{}
	err := q.Group("entity_type, original_entity_id").Scan(&ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to select latest revisions")
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type revisionTx struct {
	revisionReader
}

// LockHead serializes writers of g and returns its current head. On postgres
// a transaction-scoped advisory lock keyed by the group is taken first, so
// the head is read in a statement that starts after the previous writer has
// committed. A bare FOR UPDATE would re-check the old head row, find its
// latest flag cleared and return nothing.
func (tx *revisionTx) LockHead(ctx context.Context, g domain.Group) (*domain.Revision, error) {
	if tx.db.Dialector.Name() == "postgres" {
		if err := tx.db.Exec("SELECT pg_advisory_xact_lock(?)", groupLockKey(g)).Error; err != nil {
			return nil, errors.Wrap(err, "failed to lock revision group")
		}
	}

	var row models.Revision
	err := tx.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("entity_type = ? AND original_entity_id = ? AND latest = ?", g.EntityType, g.OriginalEntityID, true).
		Take(&row).Error
	return optional(row, err)
}

func (tx *revisionTx) Create(ctx context.Context, rev *domain.Revision) error {
	row, err := fromDomainRevision(*rev)
	if err != nil {
		return err
	}
	if err := tx.db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return domain.NotFoundError{Resource: "checkpoint or timeline"}
		}
		return err
	}
	rev.ID = row.ID
	return nil
}

func (tx *revisionTx) SetLatest(ctx context.Context, id int64, latest bool) error {
	return tx.update(id, map[string]any{"latest": latest})
}

func (tx *revisionTx) SetPrevious(ctx context.Context, id int64, previous *int64) error {
	return tx.update(id, map[string]any{"previous_revision_id": previous})
}

func (tx *revisionTx) SetCheckpoint(ctx context.Context, id int64, checkpointID int64, timelineID *int64) error {
	err := tx.update(id, map[string]any{"checkpoint_id": checkpointID, "timeline_id": timelineID})
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return domain.NotFoundError{Resource: "checkpoint or timeline"}
	}
	return err
}

func (tx *revisionTx) SetMetadata(ctx context.Context, id int64, meta domain.Metadata, hash uint64) error {
	value, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "failed to encode metadata")
	}
	return tx.update(id, map[string]any{
		"metadata":      datatypes.JSON(value),
		"metadata_hash": int64(hash),
	})
}

func (tx *revisionTx) Delete(ctx context.Context, id int64) error {
	result := tx.db.Where("id = ?", id).Delete(&models.Revision{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "revision"}
	}
	return nil
}

func (tx *revisionTx) update(id int64, values map[string]any) error {
	values["updated_at"] = time.Now().UTC().Truncate(time.Microsecond)
	result := tx.db.Model(&models.Revision{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "revision"}
	}
	return nil
}

// groupLockKey maps g onto the bigint key space of postgres advisory locks.
func groupLockKey(g domain.Group) int64 {
	return int64(xxh3.HashString(fmt.Sprintf("revisions:%s:%d", g.EntityType, g.OriginalEntityID)))
}

func optional(row models.Revision, err error) (*domain.Revision, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rev, err := toDomainRevision(row)
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

func toDomainRevision(row models.Revision) (domain.Revision, error) {
	var meta domain.Metadata
	if len(row.Metadata) > 0 && string(row.Metadata) != "null" {
		if err := json.Unmarshal(row.Metadata, &meta); err != nil {
			return domain.Revision{}, errors.Wrap(err, "failed to decode metadata")
		}
	}
	return domain.Revision{
		ID:                 row.ID,
		EntityType:         row.EntityType,
		EntityID:           row.EntityID,
		OriginalEntityID:   row.OriginalEntityID,
		PreviousRevisionID: row.PreviousRevisionID,
		CheckpointID:       row.CheckpointID,
		TimelineID:         row.TimelineID,
		Latest:             row.Latest,
		Metadata:           meta,
		MetadataHash:       uint64(row.MetadataHash),
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}, nil
}

func toDomainRevisions(rows []models.Revision) ([]domain.Revision, error) {
	out := make([]domain.Revision, 0, len(rows))
	for _, row := range rows {
		rev, err := toDomainRevision(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, nil
}

func fromDomainRevision(rev domain.Revision) (models.Revision, error) {
	row := models.Revision{
		ID:                 rev.ID,
		EntityType:         rev.EntityType,
		EntityID:           rev.EntityID,
		OriginalEntityID:   rev.OriginalEntityID,
		PreviousRevisionID: rev.PreviousRevisionID,
		CheckpointID:       rev.CheckpointID,
		TimelineID:         rev.TimelineID,
		Latest:             rev.Latest,
		MetadataHash:       int64(rev.MetadataHash),
		CreatedAt:          rev.CreatedAt.UTC(),
		UpdatedAt:          rev.UpdatedAt.UTC(),
	}
	if rev.Metadata != nil {
		value, err := json.Marshal(rev.Metadata)
		if err != nil {
			return models.Revision{}, errors.Wrap(err, "failed to encode metadata")
		}
		row.Metadata = datatypes.JSON(value)
	}
	return row, nil
}

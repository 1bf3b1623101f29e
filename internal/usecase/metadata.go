package usecase

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/checkpoint/internal/domain"
	"github.com/totegamma/checkpoint/internal/entitytype"
)

// MetadataUsecase moves declared attributes off live entities and stores them
// on revisions.
type MetadataUsecase struct {
	repo  RevisionRepository
	types *entitytype.Registry
	settings
	log zerolog.Logger
}

func NewMetadataUsecase(repo RevisionRepository, types *entitytype.Registry, opts ...Option) *MetadataUsecase {
	s := newSettings(opts)
	return &MetadataUsecase{
		repo:     repo,
		types:    types,
		settings: s,
		log:      s.logger.Component("metadata"),
	}
}

// Separate extracts the meta attributes of entity and persists them on rev,
// or on the entity's current revision when rev is nil. Calling it again on an
// already scrubbed entity returns the stored mapping without writing.
// A revision with ID 0 only receives the mapping in memory.
func (uc *MetadataUsecase) Separate(ctx context.Context, entity domain.Metadatable, rev *domain.Revision) (domain.Metadata, error) {
	ctx, span := tracer.Start(ctx, "Metadata.Usecase.Separate")
	defer span.End()

	if rev == nil {
		if holder, ok := entity.(domain.RevisionHolder); ok {
			rev = holder.CurrentRevision()
		}
	}
	if rev == nil {
		entityType, _ := uc.types.Resolve(entity)
		err := domain.MissingRevisionContextError{EntityType: entityType}
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("RevisionID", rev.ID))

	if rev.ID == 0 {
		if domain.MetaAttributesCleared(entity) && rev.Metadata != nil {
			return rev.Metadata, nil
		}
		meta := domain.CollectMetadata(entity)
		hash, err := meta.Hash()
		if err != nil {
			return nil, errors.Wrap(err, "failed to hash metadata")
		}
		domain.ClearMetadata(entity)
		rev.Metadata = meta
		rev.MetadataHash = hash
		return meta, nil
	}

	var result domain.Metadata
	var stored domain.Revision
	written := false
	collected := false
	err := uc.repo.Transaction(ctx, func(tx RevisionTx) error {
		current, err := tx.Get(ctx, rev.ID)
		if err != nil {
			return err
		}

		if domain.MetaAttributesCleared(entity) && current.Metadata != nil {
			result = current.Metadata
			stored = current
			return nil
		}

		meta := domain.CollectMetadata(entity)
		hash, err := meta.Hash()
		if err != nil {
			return errors.Wrap(err, "failed to hash metadata")
		}

		unchanged := current.Metadata != nil && current.MetadataHash == hash

		current.Metadata = meta
		current.MetadataHash = hash
		result = meta
		stored = current
		collected = true

		if unchanged {
			return nil
		}
		if err := tx.SetMetadata(ctx, current.ID, meta, hash); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// the entity keeps its attributes until the mapping is committed
	if collected {
		domain.ClearMetadata(entity)
	}
	rev.Metadata = stored.Metadata
	rev.MetadataHash = stored.MetadataHash
	uc.metrics.RecordMetadataWrite(!written)

	if written {
		uc.log.Debug().Int64("revision_id", rev.ID).Int("attributes", len(result)).Msg("metadata stored")
		if uc.publisher != nil {
			if err := uc.publisher.Publish(ctx, domain.RevisionEvent{Type: domain.EventMetadataStored, Revision: stored}); err != nil {
				uc.log.Warn().Err(err).Int64("revision_id", rev.ID).Msg("failed to publish metadata event")
			}
		}
	}

	return result, nil
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

type Timeline struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Title     string    `json:"title" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"type:timestamp with time zone;not null"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"type:timestamp with time zone;not null"`
}

type Checkpoint struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Title        string    `json:"title" gorm:"type:text;not null"`
	CheckpointAt time.Time `json:"checkpointAt" gorm:"type:timestamp with time zone;not null;index"`
	TimelineID   *int64    `json:"timelineID" gorm:"index"`
	Timeline     *Timeline `json:"-" gorm:"foreignKey:TimelineID;references:ID;constraint:OnDelete:SET NULL;"`
	CreatedAt    time.Time `json:"createdAt" gorm:"type:timestamp with time zone;not null"`
	UpdatedAt    time.Time `json:"updatedAt" gorm:"type:timestamp with time zone;not null"`
}

// Revision rows form one chain per (entity_type, original_entity_id).
// idx_revisions_head allows a single latest row per chain.
type Revision struct {
	ID                 int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	EntityType         string         `json:"entityType" gorm:"type:text;not null;index:idx_revisions_group,priority:1;uniqueIndex:idx_revisions_head,priority:1,where:latest = true"`
	OriginalEntityID   int64          `json:"originalEntityID" gorm:"not null;index:idx_revisions_group,priority:2;uniqueIndex:idx_revisions_head,priority:2"`
	EntityID           int64          `json:"entityID" gorm:"not null;index"`
	PreviousRevisionID *int64         `json:"previousRevisionID" gorm:"index"`
	CheckpointID       *int64         `json:"checkpointID" gorm:"index"`
	Checkpoint         *Checkpoint    `json:"-" gorm:"foreignKey:CheckpointID;references:ID;constraint:OnDelete:RESTRICT;"`
	TimelineID         *int64         `json:"timelineID" gorm:"index"`
	Timeline           *Timeline      `json:"-" gorm:"foreignKey:TimelineID;references:ID;constraint:OnDelete:SET NULL;"`
	Latest             bool           `json:"latest" gorm:"type:boolean;not null;default:false"`
	Metadata           datatypes.JSON `json:"metadata"`
	MetadataHash       int64          `json:"metadataHash" gorm:"not null;default:0"`
	CreatedAt          time.Time      `json:"createdAt" gorm:"type:timestamp with time zone;not null;index"`
	UpdatedAt          time.Time      `json:"updatedAt" gorm:"type:timestamp with time zone;not null"`
}

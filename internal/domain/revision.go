package domain

import "time"

// Group identifies one revision chain: every revision descending from the
// same original entity of the same type.
type Group struct {
	EntityType       string `json:"entityType"`
	OriginalEntityID int64  `json:"originalEntityID"`
}

// Revision is a point-in-time snapshot record in an entity's history chain.
type Revision struct {
	ID                 int64     `json:"id"`
	EntityType         string    `json:"entityType"`
	EntityID           int64     `json:"entityID"`
	OriginalEntityID   int64     `json:"originalEntityID"`
	PreviousRevisionID *int64    `json:"previousRevisionID,omitempty"`
	CheckpointID       *int64    `json:"checkpointID,omitempty"`
	TimelineID         *int64    `json:"timelineID,omitempty"`
	Latest             bool      `json:"latest"`
	Metadata           Metadata  `json:"metadata,omitempty"`
	MetadataHash       uint64    `json:"-"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func (r Revision) Group() Group {
	return Group{EntityType: r.EntityType, OriginalEntityID: r.OriginalEntityID}
}

// IsNew reports whether r is the origin of its chain.
func (r Revision) IsNew() bool {
	return r.PreviousRevisionID == nil
}

// IsDraft reports whether r has not been sealed under a checkpoint.
func (r Revision) IsDraft() bool {
	return r.CheckpointID == nil
}

// IsNewAt reports whether r is the origin of its chain and was created for c
// (or is still a draft).
func (r Revision) IsNewAt(c Checkpoint) bool {
	if r.CheckpointID != nil {
		return r.IsNew() && *r.CheckpointID == c.ID
	}
	return r.IsNew()
}

// IsUpdatedAt reports whether r is an update (not an origin) that was created
// for c (or is still a draft).
func (r Revision) IsUpdatedAt(c Checkpoint) bool {
	return !r.IsNew() && (r.CheckpointID == nil || *r.CheckpointID == c.ID)
}

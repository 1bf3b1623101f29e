package domain

import "time"

// Checkpoint is a named, ordered release point. Checkpoints are ordered by
// CheckpointAt, ties broken by ID.
type Checkpoint struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	CheckpointAt time.Time `json:"checkpointAt"`
	TimelineID   *int64    `json:"timelineID,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Before reports whether c sorts strictly before o.
func (c Checkpoint) Before(o Checkpoint) bool {
	if c.CheckpointAt.Equal(o.CheckpointAt) {
		return c.ID < o.ID
	}
	return c.CheckpointAt.Before(o.CheckpointAt)
}

// CheckpointRef refers to a checkpoint by id only.
type CheckpointRef int64

// Timeline is a named branch tag, independent of checkpoints.
type Timeline struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

package domain

const (
	EventRevisionAppended = "revision.appended"
	EventRevisionDeleted  = "revision.deleted"
	EventRevisionSealed   = "revision.sealed"
	EventMetadataStored   = "revision.metadata"
)

// RevisionEvent is published after a chain mutation commits.
type RevisionEvent struct {
	Type     string   `json:"type"`
	Revision Revision `json:"revision"`
	// Promoted is the revision that became head when the head was deleted.
	Promoted *int64 `json:"promoted,omitempty"`
}

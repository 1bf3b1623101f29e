package domain

import (
	"strings"
	"time"
)

type BoundKind int

const (
	BoundNone BoundKind = iota
	BoundCheckpoint
	BoundCheckpointRef
	BoundTime
)

// Bound is a classified until/since argument.
type Bound struct {
	Kind       BoundKind
	Checkpoint Checkpoint
	Ref        CheckpointRef
	Time       time.Time
}

var boundTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseBound classifies v as an absent bound, a checkpoint, a checkpoint
// reference or a timestamp.
func ParseBound(v any) (Bound, error) {
	switch b := v.(type) {
	case nil:
		return Bound{}, nil
	case Bound:
		return b, nil
	case Checkpoint:
		if b.ID == 0 {
			return Bound{}, UnknownTemporalBoundError{Value: v}
		}
		return Bound{Kind: BoundCheckpoint, Checkpoint: b}, nil
	case *Checkpoint:
		if b == nil {
			return Bound{}, nil
		}
		return ParseBound(*b)
	case CheckpointRef:
		if b <= 0 {
			return Bound{}, UnknownTemporalBoundError{Value: v}
		}
		return Bound{Kind: BoundCheckpointRef, Ref: b}, nil
	case time.Time:
		return Bound{Kind: BoundTime, Time: b}, nil
	case *time.Time:
		if b == nil {
			return Bound{}, nil
		}
		return Bound{Kind: BoundTime, Time: *b}, nil
	case string:
		s := strings.TrimSpace(b)
		if s == "" {
			return Bound{}, UnknownTemporalBoundError{Value: v}
		}
		for _, layout := range boundTimeLayouts {
			t, err := time.Parse(layout, s)
			if err == nil {
				return Bound{Kind: BoundTime, Time: t}, nil
			}
		}
		return Bound{}, UnknownTemporalBoundError{Value: v}
	default:
		return Bound{}, UnknownTemporalBoundError{Value: v}
	}
}

package domain

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// MissingRevisionContextError is returned when metadata separation has no
// revision to write to.
type MissingRevisionContextError struct {
	EntityType string
}

func (e MissingRevisionContextError) Error() string {
	if e.EntityType == "" {
		return "missing revision context"
	}
	return fmt.Sprintf("missing revision context for %s", e.EntityType)
}

func (e MissingRevisionContextError) Is(target error) bool {
	_, ok := target.(MissingRevisionContextError)
	if ok {
		return true
	}
	_, ok = target.(*MissingRevisionContextError)
	return ok
}

// ChainIntegrityError reports a chain that has, or would have, zero or
// several heads, or a dangling previous pointer.
type ChainIntegrityError struct {
	Group  Group
	Reason string
}

func (e ChainIntegrityError) Error() string {
	if e.Group == (Group{}) {
		return fmt.Sprintf("chain integrity violation: %s", e.Reason)
	}
	return fmt.Sprintf("chain integrity violation on %s#%d: %s", e.Group.EntityType, e.Group.OriginalEntityID, e.Reason)
}

func (e ChainIntegrityError) Is(target error) bool {
	_, ok := target.(ChainIntegrityError)
	if ok {
		return true
	}
	_, ok = target.(*ChainIntegrityError)
	return ok
}

// UnknownTemporalBoundError is returned when an until/since argument is
// neither a checkpoint nor a comparable timestamp.
type UnknownTemporalBoundError struct {
	Value any
}

func (e UnknownTemporalBoundError) Error() string {
	return fmt.Sprintf("unknown temporal bound: %v (%T)", e.Value, e.Value)
}

func (e UnknownTemporalBoundError) Is(target error) bool {
	_, ok := target.(UnknownTemporalBoundError)
	if ok {
		return true
	}
	_, ok = target.(*UnknownTemporalBoundError)
	return ok
}

// AmbiguousEntityTypeError is returned when no single discriminator can be
// resolved for a value.
type AmbiguousEntityTypeError struct {
	Value      string
	Candidates []string
}

func (e AmbiguousEntityTypeError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("cannot resolve entity type for %s", e.Value)
	}
	return fmt.Sprintf("ambiguous entity type for %s: %s", e.Value, strings.Join(e.Candidates, ", "))
}

func (e AmbiguousEntityTypeError) Is(target error) bool {
	_, ok := target.(AmbiguousEntityTypeError)
	if ok {
		return true
	}
	_, ok = target.(*AmbiguousEntityTypeError)
	return ok
}

var (
	// ErrNotFound is the sentinel error for missing resources.
	ErrNotFound = NotFoundError{}
	// ErrMissingRevisionContext matches any MissingRevisionContextError.
	ErrMissingRevisionContext = MissingRevisionContextError{}
	// ErrChainIntegrity matches any ChainIntegrityError.
	ErrChainIntegrity = ChainIntegrityError{}
	// ErrUnknownTemporalBound matches any UnknownTemporalBoundError.
	ErrUnknownTemporalBound = UnknownTemporalBoundError{}
	// ErrAmbiguousEntityType matches any AmbiguousEntityTypeError.
	ErrAmbiguousEntityType = AmbiguousEntityTypeError{}

	ErrRevisionSealed   = errors.New("revision already sealed under a checkpoint")
	ErrTimelineMismatch = errors.New("timeline does not match the checkpoint timeline")
)

package usecase

import (
	"fmt"

	"github.com/totegamma/checkpoint/internal/domain"
)

// CheckChain validates the members of one group: exactly one origin, exactly
// one head which is also the only latest-flagged revision, no branching and
// no dangling or cyclic previous pointers. The origin may differ from the
// original entity once the first revision has been deleted.
func CheckChain(g domain.Group, members []domain.Revision) error {
	if len(members) == 0 {
		return nil
	}

	violation := func(format string, args ...any) error {
		return domain.ChainIntegrityError{Group: g, Reason: fmt.Sprintf(format, args...)}
	}

	byID := make(map[int64]domain.Revision, len(members))
	for _, m := range members {
		if m.Group() != g {
			return violation("revision %d belongs to %s#%d", m.ID, m.EntityType, m.OriginalEntityID)
		}
		byID[m.ID] = m
	}

	successor := make(map[int64]int64, len(members))
	origins := 0
	var flagged []int64
	for _, m := range members {
		if m.Latest {
			flagged = append(flagged, m.ID)
		}
		if m.PreviousRevisionID == nil {
			origins++
			continue
		}
		prev := *m.PreviousRevisionID
		if _, ok := byID[prev]; !ok {
			return violation("revision %d points at missing revision %d", m.ID, prev)
		}
		if other, ok := successor[prev]; ok {
			return violation("revision %d has two successors: %d and %d", prev, other, m.ID)
		}
		successor[prev] = m.ID
	}

	if origins != 1 {
		return violation("expected one origin, found %d", origins)
	}
	if len(flagged) != 1 {
		return violation("expected one latest revision, found %d", len(flagged))
	}

	head := flagged[0]
	if next, ok := successor[head]; ok {
		return violation("latest revision %d has successor %d", head, next)
	}

	visited := 0
	cur, ok := byID[head]
	for ok {
		visited++
		if visited > len(members) {
			return violation("cycle through revision %d", cur.ID)
		}
		if cur.PreviousRevisionID == nil {
			break
		}
		cur, ok = byID[*cur.PreviousRevisionID]
	}
	if visited != len(members) {
		return violation("%d revisions are unreachable from head %d", len(members)-visited, head)
	}

	return nil
}

// orderChain returns members from origin to head.
func orderChain(g domain.Group, members []domain.Revision) ([]domain.Revision, error) {
	if err := CheckChain(g, members); err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []domain.Revision{}, nil
	}

	byID := make(map[int64]domain.Revision, len(members))
	var head domain.Revision
	for _, m := range members {
		byID[m.ID] = m
		if m.Latest {
			head = m
		}
	}

	ordered := make([]domain.Revision, len(members))
	cur := head
	for i := len(members) - 1; i >= 0; i-- {
		ordered[i] = cur
		if cur.PreviousRevisionID != nil {
			cur = byID[*cur.PreviousRevisionID]
		}
	}
	return ordered, nil
}

package domain

import (
	"encoding/json"

	"github.com/zeebo/xxh3"
)

// Metadata is the per-revision side data moved out of the live entity.
type Metadata map[string]any

// Hash returns the xxh3 digest of the canonical JSON form of m.
// encoding/json sorts map keys, so equal mappings hash equally.
func (m Metadata) Hash() (uint64, error) {
	if m == nil {
		return 0, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return 0, err
	}
	return xxh3.Hash(b), nil
}

// Metadatable is implemented by entities that move some of their attributes
// into revision metadata.
type Metadatable interface {
	MetaAttributes() []string
	Attribute(name string) any
	SetAttribute(name string, value any)
}

// RevisionHolder is implemented by entities that know their current revision.
type RevisionHolder interface {
	CurrentRevision() *Revision
}

// CollectMetadata returns the declared meta attributes of entity without
// touching it.
func CollectMetadata(entity Metadatable) Metadata {
	attrs := entity.MetaAttributes()
	meta := make(Metadata, len(attrs))
	for _, name := range attrs {
		meta[name] = entity.Attribute(name)
	}
	return meta
}

// ClearMetadata sets every declared meta attribute of entity to nil.
func ClearMetadata(entity Metadatable) {
	for _, name := range entity.MetaAttributes() {
		entity.SetAttribute(name, nil)
	}
}

// ExtractMetadata collects the declared meta attributes of entity and clears
// them on the entity.
func ExtractMetadata(entity Metadatable) Metadata {
	meta := CollectMetadata(entity)
	ClearMetadata(entity)
	return meta
}

// MetaAttributesCleared reports whether every declared attribute of entity is
// already nil.
func MetaAttributesCleared(entity Metadatable) bool {
	for _, name := range entity.MetaAttributes() {
		if entity.Attribute(name) != nil {
			return false
		}
	}
	return true
}

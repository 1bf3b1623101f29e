// Package entitytype resolves the discriminator string stored on revisions
// for a type name or a live entity.
package entitytype

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/totegamma/checkpoint/internal/domain"
)

// Typed is implemented by entities that name their own kind.
type Typed interface {
	EntityType() string
}

// Normalizer maps a raw type name to its stored discriminator.
type Normalizer func(string) string

// Registry maps entity kinds to discriminators. Registrations happen at
// configuration time; Resolve never inspects runtime type names.
type Registry struct {
	mu         sync.RWMutex
	namespaces []string
	kinds      map[string]string
	types      map[reflect.Type]string
}

// NewRegistry returns a registry that strips the given storage-namespace
// prefixes (e.g. "models.") from discriminators.
func NewRegistry(namespaces ...string) *Registry {
	return &Registry{
		namespaces: namespaces,
		kinds:      make(map[string]string),
		types:      make(map[reflect.Type]string),
	}
}

// RegisterKind binds a stable kind identifier to a discriminator.
func (r *Registry) RegisterKind(kind, discriminator string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.kinds[kind]; ok && prev != discriminator {
		return domain.AmbiguousEntityTypeError{Value: kind, Candidates: []string{prev, discriminator}}
	}
	r.kinds[kind] = discriminator
	return nil
}

// Register binds the Go type of sample to a discriminator.
func (r *Registry) Register(sample any, discriminator string) error {
	t := indirect(reflect.TypeOf(sample))
	if t == nil {
		return domain.AmbiguousEntityTypeError{Value: "<nil>"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.types[t]; ok && prev != discriminator {
		return domain.AmbiguousEntityTypeError{Value: t.String(), Candidates: []string{prev, discriminator}}
	}
	r.types[t] = discriminator
	return nil
}

// Normalize strips a known namespace prefix and maps registered kinds.
func (r *Registry) Normalize(name string) (string, error) {
	name = strings.TrimSpace(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.kinds[name]; ok {
		return d, nil
	}

	candidates := map[string]struct{}{}
	for _, ns := range r.namespaces {
		if ns != "" && strings.HasPrefix(name, ns) {
			candidates[strings.TrimPrefix(name, ns)] = struct{}{}
		}
	}

	switch len(candidates) {
	case 0:
		return name, nil
	case 1:
		for c := range candidates {
			if d, ok := r.kinds[c]; ok {
				return d, nil
			}
			return c, nil
		}
	}

	list := make([]string, 0, len(candidates))
	for c := range candidates {
		list = append(list, c)
	}
	sort.Strings(list)
	return "", domain.AmbiguousEntityTypeError{Value: name, Candidates: list}
}

// Resolve returns the discriminator for v, which is either a type name or an
// entity registered with Register or implementing Typed.
func (r *Registry) Resolve(v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return r.Normalize(s)
	}

	t := indirect(reflect.TypeOf(v))

	r.mu.RLock()
	registered, hasRegistered := r.types[t]
	r.mu.RUnlock()

	typed, isTyped := v.(Typed)
	if !isTyped {
		if hasRegistered {
			return registered, nil
		}
		return "", domain.AmbiguousEntityTypeError{Value: t.String()}
	}

	declared, err := r.Normalize(typed.EntityType())
	if err != nil {
		return "", err
	}
	if hasRegistered && declared != registered {
		return "", domain.AmbiguousEntityTypeError{Value: t.String(), Candidates: []string{registered, declared}}
	}
	if declared == "" {
		return "", domain.AmbiguousEntityTypeError{Value: t.String()}
	}
	return declared, nil
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

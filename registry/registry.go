// Package registry holds the read-only index of known companies that mentions
// are resolved against.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDuplicateEntity is returned when two entities share an identifier.
	ErrDuplicateEntity = errors.New("registry: duplicate entity id")

	// ErrInvalidEntity is returned for entities missing an id or a name.
	ErrInvalidEntity = errors.New("registry: invalid entity")
)

// Entity is a canonical company record.
type Entity struct {
	ID          string   `json:"id" yaml:"id"` // SEC CIK
	Name        string   `json:"name" yaml:"name"`
	Ticker      string   `json:"ticker,omitempty" yaml:"ticker,omitempty"`
	Aliases     []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Variant is one searchable surface form of an entity.
type Variant struct {
	Text       string // original surface form
	Normalized string
	EntityID   string
}

// Registry is an immutable snapshot of entities. It is safe for concurrent
// use because nothing mutates it after New returns.
type Registry struct {
	entities     []Entity
	byID         map[string]int
	byName       map[string][]int
	byTicker     map[string][]int
	byNormalized map[string][]int
	variants     []Variant
}

// New indexes entities. Input order does not matter; entities are kept sorted
// by id so lookups return deterministic results.
func New(entities []Entity) (*Registry, error) {
	sorted := make([]Entity, len(entities))
	copy(sorted, entities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	r := &Registry{
		entities:     sorted,
		byID:         make(map[string]int, len(sorted)),
		byName:       make(map[string][]int),
		byTicker:     make(map[string][]int),
		byNormalized: make(map[string][]int),
	}

	for i, e := range sorted {
		if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("%w: id=%q name=%q", ErrInvalidEntity, e.ID, e.Name)
		}
		if _, dup := r.byID[e.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEntity, e.ID)
		}
		r.byID[e.ID] = i

		if e.Ticker != "" {
			t := strings.ToUpper(strings.TrimSpace(e.Ticker))
			r.byTicker[t] = append(r.byTicker[t], i)
		}

		forms := append([]string{e.Name}, e.Aliases...)
		seen := make(map[string]bool, len(forms))
		for _, f := range forms {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			lower := strings.ToLower(f)
			if seen[lower] {
				continue
			}
			seen[lower] = true
			r.byName[lower] = appendUnique(r.byName[lower], i)

			n := Normalize(f)
			r.byNormalized[n] = appendUnique(r.byNormalized[n], i)
			r.variants = append(r.variants, Variant{Text: f, Normalized: n, EntityID: e.ID})
		}
	}
	return r, nil
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

// Len returns the number of entities.
func (r *Registry) Len() int { return len(r.entities) }

// Get returns the entity with the given id.
func (r *Registry) Get(id string) (Entity, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Entity{}, false
	}
	return r.entities[i], true
}

// Has reports whether id is present.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Entities returns a copy of all entities sorted by id.
func (r *Registry) Entities() []Entity {
	out := make([]Entity, len(r.entities))
	copy(out, r.entities)
	return out
}

// ByName returns entities whose canonical name or alias equals name,
// ignoring case.
func (r *Registry) ByName(name string) []Entity {
	return r.collect(r.byName[strings.ToLower(strings.TrimSpace(name))])
}

// ByTicker returns entities listed under ticker.
func (r *Registry) ByTicker(ticker string) []Entity {
	return r.collect(r.byTicker[strings.ToUpper(strings.TrimSpace(ticker))])
}

// ByNormalized returns entities whose normalized name or alias equals the
// normalized form of name.
func (r *Registry) ByNormalized(name string) []Entity {
	n := Normalize(name)
	if n == "" {
		return nil
	}
	return r.collect(r.byNormalized[n])
}

// Variants returns a copy of every indexed surface form.
func (r *Registry) Variants() []Variant {
	out := make([]Variant, len(r.variants))
	copy(out, r.variants)
	return out
}

func (r *Registry) collect(idx []int) []Entity {
	if len(idx) == 0 {
		return nil
	}
	out := make([]Entity, len(idx))
	for i, j := range idx {
		out[i] = r.entities[j]
	}
	return out
}

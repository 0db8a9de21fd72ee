// ============================================================================
// Cranium Registry - TypeID factory
// ============================================================================
//
// Package: internal/registry
// File: registry.go
// Function: Issues stable, ordered identifiers for named types
//
// Keys:
//   Every identity is keyed by "category:trimmed-name". The same name in two
//   categories yields two identities; asking twice for one pair yields the
//   same identity.
//
// Allocation:
//   Sequential integers starting at 1, assigned under one mutex. Creation is
//   rare (processors and item types are declared at wiring time) so a single
//   lock is enough.
//
// Persistence:
//   The table can be written to and restored from a Store (see store.go).
//   Restoring into a non-empty registry is refused; tables are never merged.
//   I/O failures are logged and surface as a false result.
//
// ============================================================================

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/opencranium/cranium/pkg/types"
)

var log = slog.Default()

var (
	// ErrBlankName is returned when a name is empty after trimming.
	ErrBlankName = errors.New("type name is blank")
	// ErrNoCategory is returned when no category is given.
	ErrNoCategory = errors.New("type category is not set")
	// ErrUnknownID is returned by Lookup for ids never issued.
	ErrUnknownID = errors.New("unknown type id")
	// ErrNotEmpty is returned when loading into a populated registry.
	ErrNotEmpty = errors.New("registry is not empty")
)

// Registry issues TypeIDs. The zero value is not usable; call New.
type Registry struct {
	mu     sync.Mutex
	ids    map[string]types.TypeID
	lastID int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{ids: make(map[string]types.TypeID)}
}

// ID returns the identity for (name, category), creating it on first use.
func (r *Registry) ID(name string, category types.Category) (types.TypeID, error) {
	if category == "" {
		return types.TypeID{}, ErrNoCategory
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return types.TypeID{}, fmt.Errorf("%w: %q", ErrBlankName, name)
	}

	key := types.QualifiedName(category, trimmed)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.ids[key]; ok {
		return id, nil
	}
	r.lastID++
	id := types.NewTypeID(r.lastID, trimmed, category)
	r.ids[key] = id
	return id, nil
}

// MustID is ID for static wiring; it panics on invalid input.
func (r *Registry) MustID(name string, category types.Category) types.TypeID {
	id, err := r.ID(name, category)
	if err != nil {
		panic(err)
	}
	return id
}

// Lookup finds an identity by its numeric value with a linear scan.
//
// Deprecated: diagnostics only. Keep TypeIDs instead of numbers.
func (r *Registry) Lookup(n int) (types.TypeID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.ids {
		if id.Value() == n {
			return id, nil
		}
	}
	return types.TypeID{}, fmt.Errorf("%w: %d", ErrUnknownID, n)
}

// Len returns the number of issued identities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// All returns every identity ordered by numeric value.
func (r *Registry) All() []types.TypeID {
	r.mu.Lock()
	out := make([]types.TypeID, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, id)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// Reset forgets every identity and restarts numbering at 1. Only meant for
// isolated tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = make(map[string]types.TypeID)
	r.lastID = 0
}

// Save writes the table to store. Failures are logged and reported as false.
func (r *Registry) Save(ctx context.Context, store Store) bool {
	r.mu.Lock()
	table := Table{
		SchemaVer: SchemaVersion,
		Entries:   make(map[string]Entry, len(r.ids)),
	}
	for key, id := range r.ids {
		table.Entries[key] = Entry{ID: id.Value(), Name: id.Name(), Category: id.Category()}
	}
	r.mu.Unlock()

	if err := store.Save(ctx, table); err != nil {
		log.Error("Failed to save type registry", "store", store.String(), "error", err)
		return false
	}
	log.Info("Type registry saved", "store", store.String(), "entries", len(table.Entries))
	return true
}

// Load restores the table from store. It returns ErrNotEmpty, without
// touching anything, when identities were already issued. Storage failures
// are logged and reported as (false, nil), and so is a table whose ids are
// not unique or whose keys do not match their entries.
func (r *Registry) Load(ctx context.Context, store Store) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ids) > 0 {
		return false, fmt.Errorf("%w: %d identities issued", ErrNotEmpty, len(r.ids))
	}

	table, err := store.Load(ctx)
	if err != nil {
		log.Error("Failed to load type registry", "store", store.String(), "error", err)
		return false, nil
	}

	ids := make(map[string]types.TypeID, len(table.Entries))
	seen := make(map[int]string, len(table.Entries))
	last := 0
	for key, e := range table.Entries {
		if e.ID <= 0 || strings.TrimSpace(e.Name) == "" || e.Category == "" {
			log.Error("Rejecting type registry with invalid entry", "store", store.String(), "key", key)
			return false, nil
		}
		if want := types.QualifiedName(e.Category, e.Name); key != want {
			log.Error("Rejecting type registry with mismatched key", "store", store.String(), "key", key, "entry", want)
			return false, nil
		}
		if other, dup := seen[e.ID]; dup {
			log.Error("Rejecting type registry with duplicate id", "store", store.String(), "id", e.ID, "keys", []string{other, key})
			return false, nil
		}
		seen[e.ID] = key
		ids[key] = types.NewTypeID(e.ID, e.Name, e.Category)
		if e.ID > last {
			last = e.ID
		}
	}

	r.ids = ids
	r.lastID = last
	log.Info("Type registry loaded", "store", store.String(), "entries", len(ids), "last_id", last)
	return true, nil
}

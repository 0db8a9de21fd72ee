// Package types defines the core domain model shared by the cranium runtime:
// type identifiers, bounded ranks, ticks and the ranked work item contract.
package types

import (
	"fmt"
	"strconv"
	"time"
)

// Category is the owning type family of a TypeID (percept, action, processor...).
// Two TypeIDs with the same name but different categories never collide.
type Category string

// Categories used by the runtime itself. Embedding layers may define their own.
const (
	CategoryPercept   Category = "percept"
	CategoryAction    Category = "action"
	CategoryProcessor Category = "processor"
)

// TypeID is an immutable, totally ordered identifier bound to a name and a
// category. Instances are issued by a registry; two TypeIDs are equal iff
// their numeric identity matches.
type TypeID struct {
	id       int
	name     string
	category Category
}

// NewTypeID builds a TypeID. Only registries should call this; ad-hoc ids
// bypass the uniqueness guarantee.
func NewTypeID(id int, name string, category Category) TypeID {
	return TypeID{id: id, name: name, category: category}
}

// Value returns the numeric identity.
func (t TypeID) Value() int { return t.id }

// Name returns the human readable name.
func (t TypeID) Name() string { return t.name }

// Category returns the owning category.
func (t TypeID) Category() Category { return t.category }

// IsZero reports whether t was never issued.
func (t TypeID) IsZero() bool { return t.id == 0 }

// Equal compares numeric identities only.
func (t TypeID) Equal(o TypeID) bool { return t.id == o.id }

// Compare orders TypeIDs by numeric identity.
func (t TypeID) Compare(o TypeID) int {
	switch {
	case t.id < o.id:
		return -1
	case t.id > o.id:
		return 1
	}
	return 0
}

// Key is the category-qualified name used by registries.
func (t TypeID) Key() string { return QualifiedName(t.category, t.name) }

func (t TypeID) String() string {
	return strconv.Itoa(t.id) + "+" + t.Key()
}

// QualifiedName joins a category and a name the way registries key them.
func QualifiedName(category Category, name string) string {
	return string(category) + ":" + name
}

// ============================================================================
// Bounded ranks
// ============================================================================

const (
	// RankMin and RankMax bound both Activation and Priority.
	RankMin = 0
	RankMax = 1000
)

func clampRank(v int) int {
	if v > RankMax {
		return RankMax
	}
	if v < RankMin {
		return RankMin
	}
	return v
}

// Activation is the rank of a work item. Out of range values saturate.
type Activation int

// NewActivation clamps v into [RankMin, RankMax].
func NewActivation(v int) Activation { return Activation(clampRank(v)) }

// Value returns the clamped integer value.
func (a Activation) Value() int { return clampRank(int(a)) }

// Priority is the rank of a processor. The rotation scheduler does not
// consult it; it is carried for embedding layers.
type Priority int

// PriorityNormal sits in the middle of the range.
const PriorityNormal Priority = (RankMax + RankMin) / 2

// NewPriority clamps v into [RankMin, RankMax].
func NewPriority(v int) Priority { return Priority(clampRank(v)) }

// Value returns the clamped integer value.
func (p Priority) Value() int { return clampRank(int(p)) }

// ============================================================================
// Ticks
// ============================================================================

// Tick identifies one bounded execution window.
type Tick struct {
	Number int       `json:"number"`
	At     time.Time `json:"at"`
}

// Next returns the tick following t, stamped at now.
func (t Tick) Next(now time.Time) Tick {
	return Tick{Number: t.Number + 1, At: now}
}

func (t Tick) String() string {
	return fmt.Sprintf("%d %d", t.Number, t.At.UnixMilli())
}

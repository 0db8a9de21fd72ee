package types

import (
	"sync"
	"sync/atomic"
	"time"
)

// RankedItem is a unit of work flowing through workspaces and processor
// queues. Implementations must make Activation safe for concurrent reads;
// everything else is expected to be immutable once submitted.
type RankedItem interface {
	// TypeID routes the item to the processors subscribed to it.
	TypeID() TypeID
	// Activation is the current rank.
	Activation() Activation
	// Rank is Activation().Value(); queues sort on it.
	Rank() int
	// CreatedAt is the creation timestamp.
	CreatedAt() time.Time
	// GeneratedBy lists the items that caused this one.
	GeneratedBy() []RankedItem
	// Supersedes reports whether this item is an updated version of other.
	// A queue holding other replaces it when this item arrives.
	Supersedes(other RankedItem) bool
}

// SupersedeFunc decides whether next is an updated version of prev.
type SupersedeFunc func(next, prev RankedItem) bool

// Item is a ready to use RankedItem. The activation is stored atomically so
// it can be adjusted while the item sits in a queue; queues do not reorder
// on such changes.
type Item struct {
	id        TypeID
	createdAt time.Time
	payload   any
	supersede SupersedeFunc

	activation atomic.Int32

	mu          sync.RWMutex
	generatedBy []RankedItem
}

// NewItem creates an item of the given type and activation.
func NewItem(id TypeID, activation int, payload any) *Item {
	it := &Item{
		id:        id,
		createdAt: time.Now(),
		payload:   payload,
	}
	it.activation.Store(int32(NewActivation(activation)))
	return it
}

// WithSupersede sets the supersession predicate and returns the item.
func (it *Item) WithSupersede(fn SupersedeFunc) *Item {
	it.supersede = fn
	return it
}

// WithGeneratedBy records the items that caused this one and returns it.
func (it *Item) WithGeneratedBy(causes ...RankedItem) *Item {
	it.SetGeneratedBy(causes)
	return it
}

func (it *Item) TypeID() TypeID { return it.id }

func (it *Item) Activation() Activation { return Activation(it.activation.Load()) }

func (it *Item) Rank() int { return it.Activation().Value() }

// SetActivation stores a new clamped activation.
func (it *Item) SetActivation(v int) {
	it.activation.Store(int32(NewActivation(v)))
}

func (it *Item) CreatedAt() time.Time { return it.createdAt }

// Payload returns the domain data carried by the item.
func (it *Item) Payload() any { return it.payload }

func (it *Item) GeneratedBy() []RankedItem {
	it.mu.RLock()
	defer it.mu.RUnlock()
	out := make([]RankedItem, len(it.generatedBy))
	copy(out, it.generatedBy)
	return out
}

// SetGeneratedBy replaces the cause list.
func (it *Item) SetGeneratedBy(causes []RankedItem) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.generatedBy = append([]RankedItem(nil), causes...)
}

func (it *Item) Supersedes(other RankedItem) bool {
	if it.supersede == nil || other == nil {
		return false
	}
	return it.supersede(it, other)
}

// SameType is a SupersedeFunc treating any queued item of the same type as
// the predecessor of a newer one.
func SameType(next, prev RankedItem) bool {
	return next.TypeID().Equal(prev.TypeID())
}

// ============================================================================
// Sorted List - bounded priority queue
// ============================================================================
//
// Package: internal/collection
// File: sorted_list.go
// Purpose: Rank-ordered sequence used as every processor's work queue.
//
// Ordering:
//   Highest rank first. An element is inserted before the first element with
//   a strictly lower rank, so equal ranks keep their insertion order.
//
// Capacity:
//   0 means unbounded. When full, an element ranked strictly above the tail
//   evicts the tail; anything else is rejected and Insert returns false.
//
// ============================================================================

package collection

import (
	"errors"
	"fmt"
)

var (
	// ErrEmpty is returned when removing from an empty collection.
	ErrEmpty = errors.New("collection is empty")
	// ErrOutOfRange is returned for positions outside [0, Len()).
	ErrOutOfRange = errors.New("position out of range")
	// ErrInvalidSize is returned for negative or zero sizes where not allowed.
	ErrInvalidSize = errors.New("invalid collection size")
)

// Ranked is anything with an integer rank.
type Ranked interface {
	Rank() int
}

// SortedList keeps elements sorted by descending rank. It is not safe for
// concurrent use; see LockedSortedList.
type SortedList[T Ranked] struct {
	capacity int
	elements []T
}

// NewSortedList creates a list holding at most capacity elements (0 = no cap).
func NewSortedList[T Ranked](capacity int) (*SortedList[T], error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidSize, capacity)
	}
	return &SortedList[T]{capacity: capacity}, nil
}

// Insert places e by rank. Returns false when the list is full and e does
// not outrank the current tail.
func (l *SortedList[T]) Insert(e T) bool {
	if l.capacity > 0 && len(l.elements) == l.capacity {
		if l.elements[len(l.elements)-1].Rank() >= e.Rank() {
			return false
		}
		l.dropLast()
	}

	rank := e.Rank()
	pos := len(l.elements)
	for i, cur := range l.elements {
		if rank > cur.Rank() {
			pos = i
			break
		}
	}

	var zero T
	l.elements = append(l.elements, zero)
	copy(l.elements[pos+1:], l.elements[pos:])
	l.elements[pos] = e
	return true
}

// RemoveHighest pops the front element.
func (l *SortedList[T]) RemoveHighest() (T, error) {
	var zero T
	if len(l.elements) == 0 {
		return zero, ErrEmpty
	}
	e := l.elements[0]
	l.elements[0] = zero
	l.elements = l.elements[1:]
	return e, nil
}

// RemoveLowest pops the tail element.
func (l *SortedList[T]) RemoveLowest() (T, error) {
	var zero T
	if len(l.elements) == 0 {
		return zero, ErrEmpty
	}
	e := l.elements[len(l.elements)-1]
	l.dropLast()
	return e, nil
}

// PeekAt returns the element at position i without removing it.
func (l *SortedList[T]) PeekAt(i int) (T, error) {
	var zero T
	if i < 0 || i >= len(l.elements) {
		return zero, fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, i, len(l.elements))
	}
	return l.elements[i], nil
}

// RemoveAt removes and returns the element at position i.
func (l *SortedList[T]) RemoveAt(i int) (T, error) {
	var zero T
	if i < 0 || i >= len(l.elements) {
		return zero, fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, i, len(l.elements))
	}
	e := l.elements[i]
	copy(l.elements[i:], l.elements[i+1:])
	l.dropLast()
	return e, nil
}

// Len returns the number of elements.
func (l *SortedList[T]) Len() int { return len(l.elements) }

// Cap returns the configured capacity, 0 when unbounded.
func (l *SortedList[T]) Cap() int { return l.capacity }

// IsEmpty reports whether the list holds no element.
func (l *SortedList[T]) IsEmpty() bool { return len(l.elements) == 0 }

// Clear drops every element.
func (l *SortedList[T]) Clear() {
	clear(l.elements)
	l.elements = l.elements[:0]
}

// Items returns a copy of the elements in queue order.
func (l *SortedList[T]) Items() []T {
	out := make([]T, len(l.elements))
	copy(out, l.elements)
	return out
}

func (l *SortedList[T]) dropLast() {
	var zero T
	l.elements[len(l.elements)-1] = zero
	l.elements = l.elements[:len(l.elements)-1]
}

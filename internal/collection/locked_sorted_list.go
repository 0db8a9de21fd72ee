package collection

import (
	"sync"
)

// LockedSortedList wraps a SortedList with a mutex around every method.
//
// Iterate hands out an exclusive Iterator: the list stays locked against all
// other callers until Unlock is called with the same owner token. Unlocking
// with another token, or twice, returns false and changes nothing.
type LockedSortedList[T Ranked] struct {
	mu   sync.Mutex
	list *SortedList[T]

	ownerMu sync.Mutex
	owner   any
}

// NewLockedSortedList creates a thread safe list with the given capacity
// (0 = unbounded).
func NewLockedSortedList[T Ranked](capacity int) (*LockedSortedList[T], error) {
	l, err := NewSortedList[T](capacity)
	if err != nil {
		return nil, err
	}
	return &LockedSortedList[T]{list: l}, nil
}

func (l *LockedSortedList[T]) Insert(e T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.Insert(e)
}

func (l *LockedSortedList[T]) RemoveHighest() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.RemoveHighest()
}

func (l *LockedSortedList[T]) RemoveLowest() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.RemoveLowest()
}

func (l *LockedSortedList[T]) PeekAt(i int) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.PeekAt(i)
}

func (l *LockedSortedList[T]) RemoveAt(i int) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.RemoveAt(i)
}

func (l *LockedSortedList[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.Len()
}

func (l *LockedSortedList[T]) Cap() int {
	return l.list.Cap()
}

func (l *LockedSortedList[T]) IsEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.IsEmpty()
}

func (l *LockedSortedList[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list.Clear()
}

func (l *LockedSortedList[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.Items()
}

// Iterate locks the list for owner and returns an iterator positioned before
// the first element. It blocks while another owner holds the list. owner
// must be a comparable, non-nil token.
func (l *LockedSortedList[T]) Iterate(owner any) *Iterator[T] {
	if owner == nil {
		panic("collection: nil iterator owner")
	}
	l.mu.Lock()
	l.ownerMu.Lock()
	l.owner = owner
	l.ownerMu.Unlock()
	return &Iterator[T]{list: l.list, pos: -1}
}

// Unlock releases the iterator lock taken by owner. Returns false if owner
// does not hold it.
func (l *LockedSortedList[T]) Unlock(owner any) bool {
	l.ownerMu.Lock()
	if owner == nil || l.owner != owner {
		l.ownerMu.Unlock()
		return false
	}
	l.owner = nil
	l.ownerMu.Unlock()
	l.mu.Unlock()
	return true
}

// Iterator walks a locked list front to back. It is only valid between
// Iterate and the matching Unlock.
type Iterator[T Ranked] struct {
	list    *SortedList[T]
	pos     int
	removed bool
}

// Next advances to the next element and reports whether there is one.
func (it *Iterator[T]) Next() bool {
	if !it.removed {
		it.pos++
	}
	it.removed = false
	return it.pos < it.list.Len()
}

// Value returns the current element.
func (it *Iterator[T]) Value() T {
	e, err := it.list.PeekAt(it.pos)
	if err != nil {
		panic("collection: iterator used outside of Next")
	}
	return e
}

// Remove deletes the current element. The following Next moves to the
// element that came after it.
func (it *Iterator[T]) Remove() (T, error) {
	if it.removed {
		var zero T
		return zero, ErrOutOfRange
	}
	e, err := it.list.RemoveAt(it.pos)
	if err != nil {
		return e, err
	}
	it.removed = true
	return e, nil
}

// Insert adds e to the locked list. Iteration after an insert is not
// meaningful; callers insert once they are done scanning.
func (it *Iterator[T]) Insert(e T) bool {
	return it.list.Insert(e)
}

package collection

import (
	"fmt"
)

// CircularList is a ring buffer of distinct-by-design elements used for the
// pool's rotation lists. When full it grows by increment slots; an increment
// of 0 makes it fixed size and Add fails instead.
//
// CircularList is not safe for concurrent use.
type CircularList[T comparable] struct {
	buf       []T
	head      int
	size      int
	increment int
}

// NewCircularList creates a list with room for capacity elements.
func NewCircularList[T comparable](capacity, increment int) (*CircularList[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidSize, capacity)
	}
	if increment < 0 {
		return nil, fmt.Errorf("%w: increment %d", ErrInvalidSize, increment)
	}
	return &CircularList[T]{
		buf:       make([]T, capacity),
		increment: increment,
	}, nil
}

// Add appends e at the tail. Returns false when the list is full and cannot
// grow.
func (c *CircularList[T]) Add(e T) bool {
	if c.size == len(c.buf) && !c.grow(1) {
		return false
	}
	c.buf[(c.head+c.size)%len(c.buf)] = e
	c.size++
	return true
}

// AddList appends every element of other, in order, growing as needed.
// Returns false (adding nothing) when the elements do not fit a fixed size
// list.
func (c *CircularList[T]) AddList(other *CircularList[T]) bool {
	if other == nil || other.size == 0 {
		return true
	}
	if free := len(c.buf) - c.size; free < other.size && !c.grow(other.size-free) {
		return false
	}
	for i := 0; i < other.size; i++ {
		c.buf[(c.head+c.size)%len(c.buf)] = other.at(i)
		c.size++
	}
	return true
}

// PopFirst removes and returns the head element.
func (c *CircularList[T]) PopFirst() (T, error) {
	var zero T
	if c.size == 0 {
		return zero, ErrEmpty
	}
	e := c.buf[c.head]
	c.buf[c.head] = zero
	c.head = (c.head + 1) % len(c.buf)
	c.size--
	return e, nil
}

// Remove deletes the first occurrence of e, keeping the order of the rest.
func (c *CircularList[T]) Remove(e T) bool {
	idx := c.indexOf(e)
	if idx < 0 {
		return false
	}
	for i := idx; i < c.size-1; i++ {
		c.buf[(c.head+i)%len(c.buf)] = c.at(i + 1)
	}
	var zero T
	c.buf[(c.head+c.size-1)%len(c.buf)] = zero
	c.size--
	return true
}

// Contains reports whether e is in the list.
func (c *CircularList[T]) Contains(e T) bool {
	return c.indexOf(e) >= 0
}

// Clear empties the list, keeping its capacity.
func (c *CircularList[T]) Clear() {
	clear(c.buf)
	c.head = 0
	c.size = 0
}

func (c *CircularList[T]) Len() int { return c.size }

func (c *CircularList[T]) Cap() int { return len(c.buf) }

func (c *CircularList[T]) IsEmpty() bool { return c.size == 0 }

// Items returns the elements head first.
func (c *CircularList[T]) Items() []T {
	out := make([]T, c.size)
	for i := range out {
		out[i] = c.at(i)
	}
	return out
}

func (c *CircularList[T]) at(i int) T {
	return c.buf[(c.head+i)%len(c.buf)]
}

func (c *CircularList[T]) indexOf(e T) int {
	for i := 0; i < c.size; i++ {
		if c.at(i) == e {
			return i
		}
	}
	return -1
}

// grow adds room for at least n more elements, rounded up to the increment.
func (c *CircularList[T]) grow(n int) bool {
	if c.increment == 0 {
		return false
	}
	steps := (n + c.increment - 1) / c.increment
	buf := make([]T, len(c.buf)+steps*c.increment)
	for i := 0; i < c.size; i++ {
		buf[i] = c.at(i)
	}
	c.buf = buf
	c.head = 0
	return true
}

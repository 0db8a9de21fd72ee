package collection

// ============================================================================
// Collection Test File
// Purpose: Verify rank ordering, capacity eviction, iterator locking, rotation
// ============================================================================

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rankedInt struct {
	rank int
	tag  string
}

func (r *rankedInt) Rank() int { return r.rank }

func item(rank int, tag string) *rankedInt { return &rankedInt{rank: rank, tag: tag} }

func drain(t *testing.T, l *SortedList[*rankedInt]) []string {
	t.Helper()
	var tags []string
	for !l.IsEmpty() {
		e, err := l.RemoveHighest()
		require.NoError(t, err)
		tags = append(tags, e.tag)
	}
	return tags
}

// ============================================================================
// SortedList
// ============================================================================

// TestSortedListOrdering tests descending rank with stable ties
func TestSortedListOrdering(t *testing.T) {
	l, err := NewSortedList[*rankedInt](0)
	require.NoError(t, err)

	l.Insert(item(5, "a"))
	l.Insert(item(9, "b"))
	l.Insert(item(5, "c"))
	l.Insert(item(1, "d"))
	l.Insert(item(9, "e"))
	l.Insert(item(5, "f"))

	assert.Equal(t, 6, l.Len())
	assert.Equal(t, []string{"b", "e", "a", "c", "f", "d"}, drain(t, l))
}

// TestSortedListCapacity tests eviction and rejection at a full list
func TestSortedListCapacity(t *testing.T) {
	l, err := NewSortedList[*rankedInt](3)
	require.NoError(t, err)

	require.True(t, l.Insert(item(1, "1")))
	require.True(t, l.Insert(item(2, "2")))
	require.True(t, l.Insert(item(3, "3")))

	t.Run("lower rank is rejected", func(t *testing.T) {
		assert.False(t, l.Insert(item(0, "0")))
		assert.Equal(t, 3, l.Len())
	})

	t.Run("equal to tail is rejected", func(t *testing.T) {
		assert.False(t, l.Insert(item(1, "1b")))
		assert.Equal(t, 3, l.Len())
	})

	t.Run("higher rank evicts tail", func(t *testing.T) {
		assert.True(t, l.Insert(item(4, "4")))
		assert.Equal(t, 3, l.Len())
		assert.Equal(t, []string{"4", "3", "2"}, drain(t, l))
	})
}

// TestSortedListScenarioRejectZero tests a capped-to-3 list refusing rank 0
func TestSortedListScenarioRejectZero(t *testing.T) {
	l, err := NewSortedList[*rankedInt](3)
	require.NoError(t, err)

	for _, r := range []int{1, 2, 3} {
		require.True(t, l.Insert(item(r, string(rune('0'+r)))))
	}
	assert.False(t, l.Insert(item(0, "0")))
	assert.Equal(t, []string{"3", "2", "1"}, drain(t, l))
}

// TestSortedListPositional tests PeekAt, RemoveAt and RemoveLowest
func TestSortedListPositional(t *testing.T) {
	l, err := NewSortedList[*rankedInt](0)
	require.NoError(t, err)

	_, err = l.RemoveHighest()
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = l.RemoveLowest()
	assert.ErrorIs(t, err, ErrEmpty)

	l.Insert(item(10, "x"))
	l.Insert(item(20, "y"))
	l.Insert(item(30, "z"))

	e, err := l.PeekAt(1)
	require.NoError(t, err)
	assert.Equal(t, "y", e.tag)
	assert.Equal(t, 3, l.Len())

	_, err = l.PeekAt(3)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = l.RemoveAt(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	e, err = l.RemoveAt(1)
	require.NoError(t, err)
	assert.Equal(t, "y", e.tag)

	e, err = l.RemoveLowest()
	require.NoError(t, err)
	assert.Equal(t, "x", e.tag)

	l.Clear()
	assert.True(t, l.IsEmpty())
}

// TestNewSortedListInvalid tests negative capacity
func TestNewSortedListInvalid(t *testing.T) {
	_, err := NewSortedList[*rankedInt](-1)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

// ============================================================================
// LockedSortedList
// ============================================================================

// TestIteratorRemove tests removing while scanning
func TestIteratorRemove(t *testing.T) {
	l, err := NewLockedSortedList[*rankedInt](0)
	require.NoError(t, err)
	for i, tag := range []string{"a", "b", "c", "d"} {
		l.Insert(item(10-i, tag))
	}

	owner := new(int)
	it := l.Iterate(owner)
	var seen []string
	for it.Next() {
		v := it.Value()
		seen = append(seen, v.tag)
		if v.tag == "b" || v.tag == "c" {
			_, err := it.Remove()
			require.NoError(t, err)
		}
	}
	require.True(t, l.Unlock(owner))

	assert.Equal(t, []string{"a", "b", "c", "d"}, seen)
	assert.Equal(t, 2, l.Len())
}

// TestUnlockMisuse tests wrong owner and double unlock
func TestUnlockMisuse(t *testing.T) {
	l, err := NewLockedSortedList[*rankedInt](0)
	require.NoError(t, err)

	owner, stranger := new(int), new(int)
	assert.False(t, l.Unlock(owner), "unlock without lock")

	l.Iterate(owner)
	assert.False(t, l.Unlock(stranger))
	assert.False(t, l.Unlock(nil))
	assert.True(t, l.Unlock(owner))
	assert.False(t, l.Unlock(owner), "double unlock")

	// the list must be usable again
	assert.True(t, l.Insert(item(1, "a")))
}

// TestIteratorExcludesOthers tests that iteration blocks other callers
func TestIteratorExcludesOthers(t *testing.T) {
	l, err := NewLockedSortedList[*rankedInt](0)
	require.NoError(t, err)

	owner := new(int)
	l.Iterate(owner)

	inserted := make(chan struct{})
	go func() {
		l.Insert(item(1, "late"))
		close(inserted)
	}()

	select {
	case <-inserted:
		t.Fatal("insert went through while iterator held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	require.True(t, l.Unlock(owner))
	select {
	case <-inserted:
	case <-time.After(time.Second):
		t.Fatal("insert never completed after unlock")
	}
	assert.Equal(t, 1, l.Len())
}

// TestLockedSortedListConcurrent tests concurrent inserts and removals
func TestLockedSortedListConcurrent(t *testing.T) {
	l, err := NewLockedSortedList[*rankedInt](0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Insert(item(i%50, "x"))
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 800, l.Len())

	prev := 1 << 30
	for !l.IsEmpty() {
		e, err := l.RemoveHighest()
		require.NoError(t, err)
		assert.LessOrEqual(t, e.rank, prev)
		prev = e.rank
	}
}

// ============================================================================
// CircularList
// ============================================================================

// TestCircularListFIFO tests wrap-around order
func TestCircularListFIFO(t *testing.T) {
	c, err := NewCircularList[int](3, 0)
	require.NoError(t, err)

	assert.True(t, c.Add(1))
	assert.True(t, c.Add(2))
	assert.True(t, c.Add(3))
	assert.False(t, c.Add(4), "fixed size list is full")

	v, err := c.PopFirst()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	assert.True(t, c.Add(4))
	assert.Equal(t, []int{2, 3, 4}, c.Items())
}

// TestCircularListGrow tests growth by increment
func TestCircularListGrow(t *testing.T) {
	c, err := NewCircularList[int](2, 3)
	require.NoError(t, err)

	for i := 1; i <= 6; i++ {
		require.True(t, c.Add(i))
	}
	assert.Equal(t, 8, c.Cap())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, c.Items())
}

// TestCircularListAddList tests bulk append across capacity
func TestCircularListAddList(t *testing.T) {
	dst, err := NewCircularList[string](2, 2)
	require.NoError(t, err)
	src, err := NewCircularList[string](4, 0)
	require.NoError(t, err)

	dst.Add("a")
	for _, s := range []string{"b", "c", "d", "e"} {
		src.Add(s)
	}

	require.True(t, dst.AddList(src))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, dst.Items())
	assert.Equal(t, 4, src.Len(), "source is left untouched")

	fixed, err := NewCircularList[string](2, 0)
	require.NoError(t, err)
	assert.False(t, fixed.AddList(src))
	assert.True(t, fixed.IsEmpty())
}

// TestCircularListRemove tests removal keeps order
func TestCircularListRemove(t *testing.T) {
	c, err := NewCircularList[int](4, 1)
	require.NoError(t, err)

	c.Add(1)
	c.Add(2)
	c.PopFirst()
	c.Add(3)
	c.Add(4)
	c.Add(5) // wraps

	assert.True(t, c.Remove(3))
	assert.False(t, c.Remove(3))
	assert.Equal(t, []int{2, 4, 5}, c.Items())
	assert.True(t, c.Contains(5))

	c.Clear()
	assert.True(t, c.IsEmpty())
	_, err = c.PopFirst()
	assert.ErrorIs(t, err, ErrEmpty)
}

// TestNewCircularListInvalid tests bad sizes
func TestNewCircularListInvalid(t *testing.T) {
	_, err := NewCircularList[int](0, 1)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = NewCircularList[int](1, -1)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkSortedListInsert(b *testing.B) {
	l, _ := NewSortedList[*rankedInt](100)
	for i := 0; i < b.N; i++ {
		if !l.Insert(item(i%1000, "")) {
			l.RemoveLowest()
		}
	}
}

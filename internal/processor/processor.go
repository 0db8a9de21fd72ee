// ============================================================================
// Cranium Processor - queued unit of work
// ============================================================================
//
// Package: internal/processor
// File: processor.go
// Function: Owns a rank ordered queue of items and runs one of them per
//           Process call through a Handler.
//
// Queue discipline:
//   - Highest activation first, ties in arrival order
//   - Optional capacity: a full queue evicts its lowest item for a strictly
//     higher one and rejects everything else
//   - Supersession: an arriving item replaces at most one queued item it is
//     an updated version of; scan, removal and insertion happen under the
//     queue's iterator lock
//
// Process:
//   item queued  → Handler.ProcessNext(item, cycle)
//   queue empty  → Handler.ProcessNone(cycle)
//
// Statistics (only while the recorder is enabled):
//   - the processor's own processing time, with the current tick
//   - cross entries between the item type and the processor
//   - a discard for every item the queue rejects
//   - a pause for every time the cycle actually blocked
//
// ============================================================================

package processor

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opencranium/cranium/internal/collection"
	"github.com/opencranium/cranium/internal/stats"
	"github.com/opencranium/cranium/internal/worker"
	"github.com/opencranium/cranium/pkg/types"
)

var (
	// ErrNoID is returned when a processor is built without a TypeID.
	ErrNoID = errors.New("processor id is not set")
	// ErrNoHandler is returned when a processor is built without a Handler.
	ErrNoHandler = errors.New("processor handler is not set")
)

// Handler does the actual work of a Processor.
type Handler interface {
	// ProcessNext handles the highest ranked queued item.
	ProcessNext(item types.RankedItem, c *worker.Cycle)
	// ProcessNone runs when the processor was scheduled with an empty queue.
	ProcessNone(c *worker.Cycle)
}

// HandlerFuncs adapts two functions to a Handler. Nil functions are no-ops.
type HandlerFuncs struct {
	Next func(item types.RankedItem, c *worker.Cycle)
	None func(c *worker.Cycle)
}

func (h HandlerFuncs) ProcessNext(item types.RankedItem, c *worker.Cycle) {
	if h.Next != nil {
		h.Next(item, c)
	}
}

func (h HandlerFuncs) ProcessNone(c *worker.Cycle) {
	if h.None != nil {
		h.None(c)
	}
}

type options struct {
	capacity int
	priority types.Priority
	recorder *stats.Recorder
}

// Option configures a Processor.
type Option func(*options)

// WithCapacity caps the queue (0 = unbounded).
func WithCapacity(n int) Option { return func(o *options) { o.capacity = n } }

// WithPriority sets the processor priority.
func WithPriority(p types.Priority) Option { return func(o *options) { o.priority = p } }

// WithRecorder attaches a statistics recorder.
func WithRecorder(r *stats.Recorder) Option { return func(o *options) { o.recorder = r } }

// Processor is a worker.Schedulable backed by a priority queue.
type Processor struct {
	id       types.TypeID
	handler  Handler
	queue    *collection.LockedSortedList[types.RankedItem]
	recorder *stats.Recorder

	priority atomic.Int32
	tick     atomic.Int64
}

// New creates a processor identified by id.
func New(id types.TypeID, h Handler, opts ...Option) (*Processor, error) {
	if id.IsZero() {
		return nil, ErrNoID
	}
	if h == nil {
		return nil, ErrNoHandler
	}

	o := options{priority: types.PriorityNormal}
	for _, opt := range opts {
		opt(&o)
	}

	q, err := collection.NewLockedSortedList[types.RankedItem](o.capacity)
	if err != nil {
		return nil, fmt.Errorf("processor %s: %w", id, err)
	}

	p := &Processor{
		id:       id,
		handler:  h,
		queue:    q,
		recorder: o.recorder,
	}
	p.priority.Store(int32(types.NewPriority(int(o.priority))))
	return p, nil
}

func (p *Processor) ID() types.TypeID { return p.id }

func (p *Processor) String() string { return "processor " + p.id.String() }

// Priority is carried for embedding layers; the pool rotation ignores it.
func (p *Processor) Priority() types.Priority { return types.Priority(p.priority.Load()) }

func (p *Processor) SetPriority(v types.Priority) {
	p.priority.Store(int32(types.NewPriority(int(v))))
}

// CurrentTick returns the tick number last pushed by the workspace.
func (p *Processor) CurrentTick() int { return int(p.tick.Load()) }

func (p *Processor) SetCurrentTick(t types.Tick) { p.tick.Store(int64(t.Number)) }

// Recorder returns the attached statistics recorder, possibly nil.
func (p *Processor) Recorder() *stats.Recorder { return p.recorder }

// Process runs the handler once.
func (p *Processor) Process(c *worker.Cycle) {
	start := time.Now()

	item, err := p.queue.RemoveHighest()
	if err != nil {
		item = nil
		p.handler.ProcessNone(c)
	} else {
		p.handler.ProcessNext(item, c)
	}

	if !p.recorder.Enabled() {
		return
	}
	var itemID types.TypeID
	if item != nil {
		itemID = item.TypeID()
	}
	p.recorder.RecordProcessed(p.id, itemID, time.Since(start), p.CurrentTick())
	for i := 0; i < c.Pauses(); i++ {
		p.recorder.RecordPaused(p.id)
	}
}

// AddProcessable queues item, first dropping one queued item it supersedes.
// Returns false when a full queue rejected it.
func (p *Processor) AddProcessable(item types.RankedItem) bool {
	it := p.queue.Iterate(p)
	for it.Next() {
		if item.Supersedes(it.Value()) {
			if _, err := it.Remove(); err != nil {
				p.queue.Unlock(p)
				panic(fmt.Sprintf("processor %s: supersede removal failed: %v", p, err))
			}
			break
		}
	}
	added := it.Insert(item)
	p.queue.Unlock(p)

	if !added {
		p.recorder.RecordDiscarded(item.TypeID(), p.id)
	}
	return added
}

// HasWork reports whether an item is queued.
func (p *Processor) HasWork() bool { return !p.queue.IsEmpty() }

// Len returns the queue length.
func (p *Processor) Len() int { return p.queue.Len() }

// Cap returns the queue capacity, 0 when unbounded.
func (p *Processor) Cap() int { return p.queue.Cap() }

// Items returns the queued items, highest first.
func (p *Processor) Items() []types.RankedItem { return p.queue.Items() }

// Clear drops every queued item.
func (p *Processor) Clear() { p.queue.Clear() }

// PurgeTo drops the lowest ranked items until at most n remain.
func (p *Processor) PurgeTo(n int) {
	if n < 0 {
		n = 0
	}
	for p.queue.Len() > n {
		if _, err := p.queue.RemoveLowest(); err != nil {
			return
		}
	}
}

// Stats returns the processor's own totals. ok is false without a recorder.
func (p *Processor) Stats() (s stats.Snapshot, ok bool) {
	if p.recorder == nil {
		return stats.Snapshot{}, false
	}
	return p.recorder.Own(p.id).Snapshot(), true
}

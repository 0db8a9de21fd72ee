// ============================================================================
// Cranium Statistics - processing time accounting
// ============================================================================
//
// Package: internal/stats
// File: stats.go
// Function: Counts how long, how often and how many times things were
//           processed, paused, created and discarded.
//
// Layout:
//   Recorder
//     ├─ enabled flag (best effort toggle, not linearizable)
//     ├─ own[TypeID]      -> ProcessingTime   (a processor's own totals)
//     └─ ledgers[TypeID]  -> Ledger           (cross entries)
//                              └─ by[TypeID] -> ProcessingTime
//
//   A processed item produces two cross entries: the item type's ledger gets
//   an entry keyed by the processor, and the processor's ledger gets one
//   keyed by the item type.
//
// Concurrency:
//   Every ProcessingTime has its own mutex. Entries are updated one after
//   the other, so two related entries may briefly disagree.
//
// ============================================================================

package stats

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencranium/cranium/pkg/types"
)

// ProcessingTime accumulates counters for one element.
type ProcessingTime struct {
	id types.TypeID

	mu         sync.Mutex
	processing time.Duration
	processed  int
	paused     int
	created    int
	discarded  int
	gameTicks  int
	lastTick   int
}

// NewProcessingTime creates zeroed counters for id.
func NewProcessingTime(id types.TypeID) *ProcessingTime {
	return &ProcessingTime{id: id}
}

// AddProcessing records one processing run. A tick number different from
// the last one seen counts as a new game tick; tick <= 0 is ignored.
func (p *ProcessingTime) AddProcessing(d time.Duration, tick int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processing += d
	p.processed++
	if tick > 0 && tick != p.lastTick {
		p.lastTick = tick
		p.gameTicks++
	}
}

func (p *ProcessingTime) AddPaused() {
	p.mu.Lock()
	p.paused++
	p.mu.Unlock()
}

func (p *ProcessingTime) AddCreated() {
	p.mu.Lock()
	p.created++
	p.mu.Unlock()
}

func (p *ProcessingTime) AddDiscarded() {
	p.mu.Lock()
	p.discarded++
	p.mu.Unlock()
}

// Snapshot is a consistent copy of one ProcessingTime.
type Snapshot struct {
	ID                types.TypeID
	Processing        time.Duration
	Processed         int
	Paused            int
	Created           int
	Discarded         int
	GameTicks         int
	LastTick          int
	Average           time.Duration
	AverageWithPauses time.Duration
	AveragePerTick    time.Duration
}

// Snapshot copies the counters and derives averages.
func (p *ProcessingTime) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		ID:         p.id,
		Processing: p.processing,
		Processed:  p.processed,
		Paused:     p.paused,
		Created:    p.created,
		Discarded:  p.discarded,
		GameTicks:  p.gameTicks,
		LastTick:   p.lastTick,
	}
	if p.processed > 0 {
		s.Average = p.processing / time.Duration(p.processed)
	}
	if n := p.processed + p.paused; n > 0 {
		s.AverageWithPauses = p.processing / time.Duration(n)
	}
	if p.gameTicks > 0 {
		s.AveragePerTick = p.processing / time.Duration(p.gameTicks)
	}
	return s
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%s processed=%d paused=%d created=%d discarded=%d ticks=%d total=%s avg=%s",
		s.ID, s.Processed, s.Paused, s.Created, s.Discarded, s.GameTicks, s.Processing, s.Average)
}

// ============================================================================
// Ledger
// ============================================================================

// Ledger maps counterpart TypeIDs to counters.
type Ledger struct {
	mu sync.Mutex
	by map[types.TypeID]*ProcessingTime
}

func newLedger() *Ledger {
	return &Ledger{by: make(map[types.TypeID]*ProcessingTime)}
}

// Entry returns the counters for id, creating them on first use.
func (l *Ledger) Entry(id types.TypeID) *ProcessingTime {
	l.mu.Lock()
	defer l.mu.Unlock()
	pt, ok := l.by[id]
	if !ok {
		pt = NewProcessingTime(id)
		l.by[id] = pt
	}
	return pt
}

// Snapshots returns every entry ordered by TypeID.
func (l *Ledger) Snapshots() []Snapshot {
	l.mu.Lock()
	entries := make([]*ProcessingTime, 0, len(l.by))
	for _, pt := range l.by {
		entries = append(entries, pt)
	}
	l.mu.Unlock()

	out := make([]Snapshot, len(entries))
	for i, pt := range entries {
		out[i] = pt.Snapshot()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out
}

// ============================================================================
// Recorder
// ============================================================================

// Recorder owns every statistics table of one runtime. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	enabled atomic.Bool

	mu      sync.Mutex
	own     map[types.TypeID]*ProcessingTime
	ledgers map[types.TypeID]*Ledger
}

// NewRecorder creates a recorder, initially enabled or not.
func NewRecorder(enabled bool) *Recorder {
	r := &Recorder{
		own:     make(map[types.TypeID]*ProcessingTime),
		ledgers: make(map[types.TypeID]*Ledger),
	}
	r.enabled.Store(enabled)
	return r
}

func (r *Recorder) Enable() { r.enabled.Store(true) }

func (r *Recorder) Disable() { r.enabled.Store(false) }

// Enabled reports whether recording is on.
func (r *Recorder) Enabled() bool {
	return r != nil && r.enabled.Load()
}

// Own returns the processor totals for id.
func (r *Recorder) Own(id types.TypeID) *ProcessingTime {
	r.mu.Lock()
	defer r.mu.Unlock()
	pt, ok := r.own[id]
	if !ok {
		pt = NewProcessingTime(id)
		r.own[id] = pt
	}
	return pt
}

// Ledger returns the cross entries owned by id.
func (r *Recorder) Ledger(id types.TypeID) *Ledger {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[id]
	if !ok {
		l = newLedger()
		r.ledgers[id] = l
	}
	return l
}

// RecordProcessed books one Process call of processor. item is the zero
// TypeID when the processor ran without an element.
func (r *Recorder) RecordProcessed(processor, item types.TypeID, d time.Duration, tick int) {
	if !r.Enabled() {
		return
	}
	r.Own(processor).AddProcessing(d, tick)
	if item.IsZero() {
		return
	}
	r.Ledger(item).Entry(processor).AddProcessing(d, tick)
	r.Ledger(processor).Entry(item).AddProcessing(d, tick)
}

// RecordPaused books a cooperative pause taken by processor.
func (r *Recorder) RecordPaused(processor types.TypeID) {
	if !r.Enabled() {
		return
	}
	r.Own(processor).AddPaused()
}

// RecordCreated books an item of type item produced by processor.
func (r *Recorder) RecordCreated(item, processor types.TypeID) {
	if !r.Enabled() {
		return
	}
	r.Ledger(item).Entry(processor).AddCreated()
}

// RecordDiscarded books an item of type item rejected by processor's queue.
func (r *Recorder) RecordDiscarded(item, processor types.TypeID) {
	if !r.Enabled() {
		return
	}
	r.Ledger(item).Entry(processor).AddDiscarded()
}

// Processors returns the own totals of every processor seen so far.
func (r *Recorder) Processors() []Snapshot {
	r.mu.Lock()
	entries := make([]*ProcessingTime, 0, len(r.own))
	for _, pt := range r.own {
		entries = append(entries, pt)
	}
	r.mu.Unlock()

	out := make([]Snapshot, len(entries))
	for i, pt := range entries {
		out[i] = pt.Snapshot()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out
}

// Reset drops every table. The enabled flag is kept.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.own = make(map[types.TypeID]*ProcessingTime)
	r.ledgers = make(map[types.TypeID]*Ledger)
}

// ============================================================================
// Cranium Worker Pool - rotation scheduler
// ============================================================================
//
// Package: internal/worker
// File: pool.go
// Function: Owns N worker threads and decides which processor runs next
//
// Rotation lists:
//
//   ┌────────────┐  no work   ┌─────────┐  no work   ┌──────────┐
//   │ to_execute │ ─────────▶ │ waiting │ ─────────▶ │ executed │
//   └────────────┘            └─────────┘            └──────────┘
//         ▲   │ has work           │ has work              │  ▲
//         │   └──────────┬─────────┘                       │  │ finished run
//         │              ▼                                 │  │
//         │        ┌───────────┐                           │  │
//         │        │ executing │ ──────────────────────────┼──┘
//         │        └───────────┘                           │
//         └────────────── bulk move when both are empty ───┘
//
//   A fetch gives up after the executed list has been moved back twice in a
//   row without finding work, so a "nobody has work" scan visits every
//   processor a bounded number of times.
//
// Membership invariant:
//   Every registered processor sits in exactly one rotation list or is run
//   by exactly one thread. A processor removed while it runs is dropped when
//   its run finishes.
//
// Locks:
//   - ctlMu: lifecycle (start / stop / pause / resume / thread count)
//   - execMu: serializes ExecuteDuring windows
//   - mu: rotation lists, executing and member sets; never held while a
//     processor runs
//
// Errors:
//   - Lifecycle misuse returns *types.StateError (errors.Is ErrInvalidState)
//   - Handing out a processor twice, or finishing one that was not handed
//     out, is a scheduler bug and panics
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencranium/cranium/internal/collection"
	"github.com/opencranium/cranium/internal/metrics"
	"github.com/opencranium/cranium/pkg/types"
)

var log = slog.Default()

// Defaults for the rotation lists.
const (
	DefaultListSize      = 10
	DefaultListIncrement = 10
)

var (
	// ErrInvalidThreads is returned for a thread count below 1.
	ErrInvalidThreads = errors.New("number of threads must be greater than 0")
	// ErrInvalidListSize is returned for list sizes or increments below 1.
	ErrInvalidListSize = errors.New("list sizes must be 1 or greater")
	// ErrNegativeDuration is returned by ExecuteDuring for d < 0.
	ErrNegativeDuration = errors.New("duration cannot be negative")
)

// DefaultThreads is one worker per CPU plus one.
func DefaultThreads() int { return runtime.NumCPU() + 1 }

// ============================================================================
// Options
// ============================================================================

type options struct {
	threads     int
	name        string
	initialSize int
	increment   int
	metrics     *metrics.Collector
	now         func() time.Time
}

// Option configures a Pool.
type Option func(*options)

// WithThreads sets the number of worker threads.
func WithThreads(n int) Option { return func(o *options) { o.threads = n } }

// WithName sets the name used in logs and metric labels.
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithListSizes sets the initial size and growth increment of the rotation
// lists.
func WithListSizes(initial, increment int) Option {
	return func(o *options) {
		o.initialSize = initial
		o.increment = increment
	}
}

// WithMetrics attaches a Prometheus collector.
func WithMetrics(c *metrics.Collector) Option { return func(o *options) { o.metrics = c } }

// WithClock replaces time.Now for deadline computations.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// ============================================================================
// Pool
// ============================================================================

// Pool schedules Schedulables onto worker threads.
type Pool struct {
	name    string
	now     func() time.Time
	metrics *metrics.Collector
	log     *slog.Logger

	ctlMu   sync.Mutex
	execMu  sync.Mutex
	started bool
	threads atomic.Pointer[[]*Thread]

	mu           sync.Mutex
	toExecute    *collection.CircularList[Schedulable]
	waiting      *collection.CircularList[Schedulable]
	executedList *collection.CircularList[Schedulable]
	executing    map[Schedulable]struct{}
	members      map[Schedulable]struct{}
}

// NewPool builds a stopped pool.
func NewPool(opts ...Option) (*Pool, error) {
	o := options{
		threads:     DefaultThreads(),
		name:        "default",
		initialSize: DefaultListSize,
		increment:   DefaultListIncrement,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.initialSize < 1 || o.increment < 1 {
		return nil, fmt.Errorf("%w: initial %d, increment %d", ErrInvalidListSize, o.initialSize, o.increment)
	}
	if o.threads <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreads, o.threads)
	}

	p := &Pool{
		name:      o.name,
		now:       o.now,
		metrics:   o.metrics,
		log:       log.With("pool", o.name),
		executing: make(map[Schedulable]struct{}),
		members:   make(map[Schedulable]struct{}),
	}
	// sizes were validated above
	p.toExecute, _ = collection.NewCircularList[Schedulable](o.initialSize, o.increment)
	p.waiting, _ = collection.NewCircularList[Schedulable](o.initialSize, o.increment)
	p.executedList, _ = collection.NewCircularList[Schedulable](o.initialSize, o.increment)

	p.replaceThreads(o.threads)
	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

func (p *Pool) String() string { return "pool " + p.name }

// Threads returns the number of worker threads.
func (p *Pool) Threads() int { return len(p.threadList()) }

// ThreadStates returns the state of every thread.
func (p *Pool) ThreadStates() []State {
	ts := p.threadList()
	out := make([]State, len(ts))
	for i, t := range ts {
		out[i] = t.State()
	}
	return out
}

// IsStarted reports whether StartAll ran without a matching StopAll.
func (p *Pool) IsStarted() bool {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()
	return p.started
}

func (p *Pool) threadList() []*Thread {
	if ts := p.threads.Load(); ts != nil {
		return *ts
	}
	return nil
}

func (p *Pool) replaceThreads(n int) {
	ts := make([]*Thread, n)
	for i := range ts {
		ts[i] = newThread(i, p.name, p, p.now, nil)
	}
	p.threads.Store(&ts)
	p.metrics.SetThreads(p.name, n)
}

// ============================================================================
// Lifecycle
// ============================================================================

// StartAll starts every thread. Threads begin paused.
func (p *Pool) StartAll() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.started {
		return types.NewStateError("start all", p, "threads have already been started")
	}
	for _, t := range p.threadList() {
		if err := t.Start(); err != nil {
			return fmt.Errorf("failed to start %s: %w", t, err)
		}
	}
	p.started = true
	p.log.Info("Worker pool started", "threads", p.Threads())
	return nil
}

// StopAll kills every thread and waits for them to exit. Threads finish the
// Process call they are in first.
func (p *Pool) StopAll() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if !p.started {
		return types.NewStateError("stop all", p, "threads have not been started")
	}
	p.stopAllLocked()
	return nil
}

func (p *Pool) stopAllLocked() {
	ts := p.threadList()
	for _, t := range ts {
		if err := t.Kill(); err != nil {
			p.log.Warn("Failed to kill thread", "thread", t.ID(), "error", err)
		}
	}
	for _, t := range ts {
		t.Wait()
	}
	p.started = false
	p.log.Info("Worker pool stopped", "threads", len(ts))
}

// PauseAll asks every running thread to pause.
func (p *Pool) PauseAll() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if !p.started {
		return types.NewStateError("pause all", p, "threads have not been started")
	}
	for _, t := range p.threadList() {
		t.pauseIfRunning()
	}
	return nil
}

// ResumeAll lets every thread run without a deadline.
func (p *Pool) ResumeAll() error {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if !p.started {
		return types.NewStateError("resume all", p, "threads have not been started")
	}
	return p.resumeAllLocked(time.Time{})
}

func (p *Pool) resumeAllLocked(deadline time.Time) error {
	for _, t := range p.threadList() {
		if err := t.Resume(deadline); err != nil {
			return fmt.Errorf("failed to resume %s: %w", t, err)
		}
	}
	return nil
}

// ExecuteDuring resumes every thread until now+d and blocks until that
// deadline. Windows are serialized, so a running window is never shortened
// by another caller. A cancelled ctx ends the wait early; threads still stop
// at the deadline.
func (p *Pool) ExecuteDuring(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeDuration, d)
	}

	p.execMu.Lock()
	defer p.execMu.Unlock()

	p.ctlMu.Lock()
	if !p.started {
		p.ctlMu.Unlock()
		return types.NewStateError("execute during", p, "threads have not been started")
	}
	deadline := p.now().Add(d)
	err := p.resumeAllLocked(deadline)
	p.ctlMu.Unlock()
	if err != nil {
		return err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.reportStats()
	return nil
}

// SetThreads replaces the workers with n fresh, unstarted threads. A started
// pool is stopped first and stays stopped.
func (p *Pool) SetThreads(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidThreads, n)
	}

	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.started {
		p.stopAllLocked()
	}
	p.replaceThreads(n)
	return nil
}

// Wake lifts the idle pause of threads that stopped for lack of work.
func (p *Pool) Wake() {
	for _, t := range p.threadList() {
		t.wake()
	}
}

// ============================================================================
// Membership
// ============================================================================

// AddProcessor registers s. Returns false if it already was.
func (p *Pool) AddProcessor(s Schedulable) bool {
	p.mu.Lock()
	if _, ok := p.members[s]; ok {
		p.mu.Unlock()
		return false
	}
	p.members[s] = struct{}{}
	// a processor removed and re-added during its run rejoins via executed()
	if _, running := p.executing[s]; !running {
		p.toExecute.Add(s)
	}
	p.mu.Unlock()

	p.Wake()
	return true
}

// RemoveProcessor unregisters s. Returns false if it was not registered.
func (p *Pool) RemoveProcessor(s Schedulable) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.members[s]; !ok {
		return false
	}
	delete(p.members, s)
	p.toExecute.Remove(s)
	p.waiting.Remove(s)
	p.executedList.Remove(s)
	return true
}

// Contains reports whether s is registered.
func (p *Pool) Contains(s Schedulable) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.members[s]
	return ok
}

// PoolStats is a point in time view of the rotation lists.
type PoolStats struct {
	Name      string
	Started   bool
	Threads   int
	Members   int
	ToExecute int
	Waiting   int
	Executed  int
	Executing int
}

// Snapshot returns the list sizes. Executing only counts registered
// processors, so the four lists always add up to Members.
func (p *Pool) Snapshot() PoolStats {
	started := p.IsStarted()

	p.mu.Lock()
	s := PoolStats{
		Name:      p.name,
		Started:   started,
		Threads:   p.Threads(),
		Members:   len(p.members),
		ToExecute: p.toExecute.Len(),
		Waiting:   p.waiting.Len(),
		Executed:  p.executedList.Len(),
	}
	for e := range p.executing {
		if _, ok := p.members[e]; ok {
			s.Executing++
		}
	}
	p.mu.Unlock()
	return s
}

func (p *Pool) reportStats() {
	if p.metrics == nil {
		return
	}
	s := p.Snapshot()
	p.metrics.UpdatePoolStats(p.name, s.ToExecute, s.Waiting, s.Executed, s.Executing)
}

// ============================================================================
// Scheduling core (source implementation)
// ============================================================================

// next returns the next processor with work, or nil.
func (p *Pool) next() Schedulable {
	p.mu.Lock()
	defer p.mu.Unlock()

	var found Schedulable
	rotated := false
	for found == nil {
		if !p.toExecute.IsEmpty() {
			c := p.mustPop(p.toExecute)
			if c.HasWork() {
				found = c
			} else {
				p.waiting.Add(c)
			}
		} else if !p.waiting.IsEmpty() {
			c := p.mustPop(p.waiting)
			if c.HasWork() {
				found = c
			} else {
				p.executedList.Add(c)
			}
		} else if !p.executedList.IsEmpty() {
			p.toExecute.AddList(p.executedList)
			p.executedList.Clear()
			if rotated {
				break
			}
			rotated = true
		} else {
			break
		}
	}

	if found == nil {
		p.metrics.RecordIdleFetch(p.name)
		return nil
	}
	if _, dup := p.executing[found]; dup {
		panic(fmt.Sprintf("worker: %s handed out %v twice", p, found))
	}
	p.executing[found] = struct{}{}
	return found
}

// executed takes s back from a thread.
func (p *Pool) executed(s Schedulable, took time.Duration, panicked bool) {
	p.mu.Lock()
	if _, ok := p.executing[s]; !ok {
		p.mu.Unlock()
		panic(fmt.Sprintf("worker: %s got back %v which was not executing", p, s))
	}
	delete(p.executing, s)
	if _, member := p.members[s]; member {
		p.executedList.Add(s)
	}
	p.mu.Unlock()

	p.metrics.RecordRun(p.name, took)
	if panicked {
		p.metrics.RecordPanic(p.name)
	}
}

func (p *Pool) mustPop(l *collection.CircularList[Schedulable]) Schedulable {
	s, err := l.PopFirst()
	if err != nil {
		panic(fmt.Sprintf("worker: %s popped an empty rotation list", p))
	}
	return s
}

// ============================================================================
// Cranium Worker - Thread state machine
// ============================================================================
//
// Package: internal/worker
// File: thread.go
// Function: A long lived goroutine that pulls processors from its source and
//           runs them inside the current execution window.
//
// States:
//
//   uninitialized ──new──▶ initialized ──Start──▶ pausing ──▶ paused
//                                                    ▲            │
//                                    Pause / no work │            │ Resume(deadline)
//                                    deadline passed │            ▼
//                                                    └──────── running
//
//   running / paused ──Kill──▶ killing ──(no assignment)──▶ dead
//
// Run loop:
//   for {
//     pause check        (blocks while deadline passed, pausing or paused)
//     killing?           → exit
//     fetch from source  → nothing: pause self (idle) and loop
//     Process(cycle)     (panics are recovered and logged)
//     hand back          → source.executed
//   }
//
// Pause check:
//   The only place a thread blocks. It is also reachable from inside
//   Process through Cycle.Pause so a long running processor can yield.
//
// Idle pauses:
//   A thread that paused itself because nothing had work remembers it. Wake
//   lifts such pauses without touching the deadline; explicit pauses and
//   expired deadlines are left alone. A resume generation counter keeps a
//   Wake or Resume racing with the idle pause from being lost.
//
// ============================================================================

package worker

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/opencranium/cranium/pkg/types"
)

// State is the lifecycle state of a Thread.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StatePausing
	StatePaused
	StateKilling
	StateDead
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StatePausing:
		return "pausing"
	case StatePaused:
		return "paused"
	case StateKilling:
		return "killing"
	case StateDead:
		return "dead"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Thread runs processors handed out by its source.
type Thread struct {
	id   int
	name string
	src  source
	now  func() time.Time
	log  *slog.Logger

	mu          sync.Mutex
	cond        *sync.Cond
	initialized bool
	started     bool
	killing     bool
	pausing     bool
	paused      bool
	idle        bool
	dead        bool
	deadline    time.Time
	gen         uint64
	current     Schedulable
	done        chan struct{}
}

// newThread builds an initialized, unstarted thread. init, when not nil,
// runs before the thread is marked initialized.
func newThread(id int, name string, src source, now func() time.Time, init func(*Thread)) *Thread {
	if now == nil {
		now = time.Now
	}
	t := &Thread{
		id:   id,
		name: name,
		src:  src,
		now:  now,
		log:  log.With("pool", name, "thread", id),
	}
	t.cond = sync.NewCond(&t.mu)
	if init != nil {
		init(t)
	}
	t.initialized = true
	return t
}

// ID returns the index of the thread in its pool.
func (t *Thread) ID() int { return t.id }

func (t *Thread) String() string {
	return fmt.Sprintf("thread %s/%d", t.name, t.id)
}

// State returns a snapshot of the lifecycle state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case !t.initialized:
		return StateUninitialized
	case t.killing:
		return StateKilling
	case !t.started && t.dead:
		return StateDead
	case !t.started:
		return StateInitialized
	case t.paused:
		return StatePaused
	case t.pausing:
		return StatePausing
	}
	return StateRunning
}

// Current returns the processor being run, nil between runs.
func (t *Thread) Current() Schedulable {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Deadline returns the end of the current window, zero when unbounded.
func (t *Thread) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// Start launches the goroutine. The thread begins paused and waits for a
// Resume.
func (t *Thread) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return types.NewStateError("start", t, "thread has not been initialized")
	}
	if t.started {
		return types.NewStateError("start", t, "thread was already started")
	}

	t.started = true
	t.dead = false
	t.killing = false
	t.paused = false
	t.idle = false
	t.pausing = true
	t.done = make(chan struct{})

	go t.run(t.done)
	return nil
}

// Pause asks the thread to stop at its next pause check.
func (t *Thread) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case !t.started:
		return types.NewStateError("pause", t, "thread was not started")
	case t.pausing:
		return types.NewStateError("pause", t, "thread is already pausing")
	case t.paused:
		return types.NewStateError("pause", t, "thread is already paused")
	}
	t.pausing = true
	t.idle = false
	return nil
}

// Resume lets the thread run until deadline. A zero deadline means
// unbounded.
func (t *Thread) Resume(deadline time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return types.NewStateError("resume", t, "thread was not started")
	}
	t.deadline = deadline
	t.paused = false
	t.pausing = false
	t.idle = false
	t.gen++
	t.cond.Broadcast()
	return nil
}

// Kill asks the thread to exit once it holds no assignment.
func (t *Thread) Kill() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return types.NewStateError("kill", t, "thread was not started")
	}
	if t.killing {
		return types.NewStateError("kill", t, "thread is already being killed")
	}
	t.killing = true
	t.cond.Broadcast()
	return nil
}

// Wait blocks until the goroutine started by the last Start has exited.
// It returns at once for a thread that never started.
func (t *Thread) Wait() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

// pauseIfRunning is the pool wide pause: already pausing or paused threads
// are left alone, but an idle pause becomes a regular one.
func (t *Thread) pauseIfRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	t.idle = false
	if !t.pausing && !t.paused {
		t.pausing = true
	}
}

// wake lifts an idle pause. The deadline is kept.
func (t *Thread) wake() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	t.gen++
	if t.idle {
		t.idle = false
		t.pausing = false
		t.paused = false
		t.cond.Broadcast()
	}
}

// pauseCheck blocks while the deadline has passed or a pause is pending.
func (t *Thread) pauseCheck() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pauseCheckLocked()
}

func (t *Thread) expiredLocked() bool {
	return !t.deadline.IsZero() && !t.now().Before(t.deadline)
}

func (t *Thread) pauseCheckLocked() bool {
	blocked := false
	for !t.killing && (t.expiredLocked() || t.pausing || t.paused) {
		t.paused = true
		t.pausing = false
		blocked = true
		t.cond.Wait()
	}
	return blocked
}

func (t *Thread) run(done chan struct{}) {
	for {
		t.mu.Lock()
		t.pauseCheckLocked()
		if t.killing {
			t.started = false
			t.killing = false
			t.pausing = false
			t.paused = false
			t.idle = false
			t.dead = true
			t.current = nil
			t.mu.Unlock()
			close(done)
			t.log.Debug("Thread exited")
			return
		}
		gen := t.gen
		t.mu.Unlock()

		p := t.src.next()
		if p == nil {
			t.mu.Lock()
			if t.gen == gen && !t.killing && !t.pausing && !t.paused {
				t.pausing = true
				t.idle = true
			}
			t.mu.Unlock()
			continue
		}

		t.mu.Lock()
		t.current = p
		t.mu.Unlock()

		took, panicked := t.process(p)

		t.mu.Lock()
		t.current = nil
		t.mu.Unlock()

		t.src.executed(p, took, panicked)
	}
}

func (t *Thread) process(p Schedulable) (took time.Duration, panicked bool) {
	start := time.Now()
	defer func() {
		took = time.Since(start)
		if r := recover(); r != nil {
			panicked = true
			t.log.Error("Processor panicked", "processor", p, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	p.Process(&Cycle{thread: t})
	return
}

// ============================================================================
// Cranium Workspace - typed publish/subscribe router
// ============================================================================
//
// Package: internal/workspace
// File: workspace.go
// Function: Routes submitted items to every listener registered for their
//           type, and hands listeners to a worker pool for execution.
//
// Routing:
//
//   Submit(item)
//     │ RLock: copy listeners[item.TypeID()]
//     │ RUnlock
//     ▼
//   for each listener (outside the lock):
//     AddProcessable(item)  ── error / panic ──▶ logged, next listener
//     │
//     ▼
//   pool.Wake()  (idle workers pick the new work up)
//
// Invariant:
//   A listener subscribed to a type is a member of the pool. Register and
//   Unregister update both under the workspace lock.
//
// Lock order:
//   workspace lock → pool lock. The workspace lock is never held while a
//   listener queues or processes an item.
//
// ============================================================================

package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/opencranium/cranium/internal/metrics"
	"github.com/opencranium/cranium/internal/worker"
	"github.com/opencranium/cranium/pkg/types"
)

var log = slog.Default()

var (
	// ErrNoPool is returned when a workspace is built without a pool.
	ErrNoPool = errors.New("workspace pool is not set")
	// ErrNilListener is returned when registering a nil listener.
	ErrNilListener = errors.New("listener is nil")
)

// Listener is anything a workspace can route items to and schedule.
type Listener interface {
	worker.Schedulable
	// InputTypes lists the item types the listener subscribes to.
	InputTypes() []types.TypeID
	// AddProcessable queues item. false means the item was dropped.
	AddProcessable(item types.RankedItem) (bool, error)
}

// Attachable listeners are told which workspace they joined. Attach may
// refuse, e.g. when the listener already belongs to another workspace.
type Attachable interface {
	Attach(ws *Workspace) error
	Detach(ws *Workspace)
}

// Resetter listeners drop their queued state on Workspace.Reset.
type Resetter interface {
	Reset()
}

// TickSetter listeners receive the current tick.
type TickSetter interface {
	SetCurrentTick(t types.Tick)
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithMetrics attaches a Prometheus collector.
func WithMetrics(c *metrics.Collector) Option { return func(w *Workspace) { w.metrics = c } }

// Workspace is a typed router over the listeners of one pool.
type Workspace struct {
	name    string
	pool    *worker.Pool
	metrics *metrics.Collector
	log     *slog.Logger

	mu         sync.RWMutex
	listeners  map[types.TypeID][]Listener
	registered []Listener
	tick       types.Tick
}

// New creates a workspace scheduling its listeners on pool.
func New(name string, pool *worker.Pool, opts ...Option) (*Workspace, error) {
	if pool == nil {
		return nil, ErrNoPool
	}
	w := &Workspace{
		name:      name,
		pool:      pool,
		log:       log.With("workspace", name),
		listeners: make(map[types.TypeID][]Listener),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Workspace) Name() string { return w.name }

func (w *Workspace) String() string { return "workspace " + w.name }

// Pool returns the pool running this workspace's listeners.
func (w *Workspace) Pool() *worker.Pool { return w.pool }

// Register subscribes l to its input types and adds it to the pool.
// Returns false if l is already registered here.
func (w *Workspace) Register(l Listener) (bool, error) {
	if l == nil {
		return false, ErrNilListener
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.indexOf(l) >= 0 {
		return false, nil
	}
	if a, ok := l.(Attachable); ok {
		if err := a.Attach(w); err != nil {
			return false, err
		}
	}
	if !w.pool.AddProcessor(l) {
		if a, ok := l.(Attachable); ok {
			a.Detach(w)
		}
		return false, types.NewStateError("register", l, fmt.Sprintf("already scheduled by %s", w.pool))
	}

	for _, id := range l.InputTypes() {
		w.listeners[id] = append(w.listeners[id], l)
	}
	w.registered = append(w.registered, l)
	if ts, ok := l.(TickSetter); ok {
		ts.SetCurrentTick(w.tick)
	}
	w.log.Debug("Listener registered", "listener", l, "inputs", len(l.InputTypes()))
	return true, nil
}

// Unregister removes l from the pool and from every subscription.
func (w *Workspace) Unregister(l Listener) bool {
	if l == nil {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	idx := w.indexOf(l)
	if idx < 0 {
		return false
	}
	if !w.pool.RemoveProcessor(l) {
		w.log.Warn("Registered listener was not a pool member", "listener", l, "pool", w.pool.Name())
	}

	for _, id := range l.InputTypes() {
		subs := w.listeners[id]
		for i, s := range subs {
			if s == l {
				subs = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(subs) == 0 {
			delete(w.listeners, id)
		} else {
			w.listeners[id] = subs
		}
	}
	w.registered = append(w.registered[:idx], w.registered[idx+1:]...)

	if a, ok := l.(Attachable); ok {
		a.Detach(w)
	}
	return true
}

func (w *Workspace) indexOf(l Listener) int {
	for i, r := range w.registered {
		if r == l {
			return i
		}
	}
	return -1
}

// Submit delivers item to every listener of its type. Listener failures
// are logged and do not stop delivery to the others. An item nobody
// listens to is dropped silently.
func (w *Workspace) Submit(item types.RankedItem) {
	if item == nil {
		return
	}

	w.mu.RLock()
	subs := w.listeners[item.TypeID()]
	targets := make([]Listener, len(subs))
	copy(targets, subs)
	w.mu.RUnlock()

	w.metrics.RecordSubmit(w.name)

	accepted := false
	for _, l := range targets {
		if w.deliver(l, item) {
			accepted = true
		}
	}
	if accepted {
		w.pool.Wake()
	}
}

func (w *Workspace) deliver(l Listener, item types.RankedItem) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			w.metrics.RecordListenerFailure(w.name)
			w.log.Error("Listener panicked during delivery", "listener", l, "item", item.TypeID(), "panic", r)
		}
	}()

	ok, err := l.AddProcessable(item)
	if err != nil {
		w.metrics.RecordListenerFailure(w.name)
		w.log.Error("Listener rejected item", "listener", l, "item", item.TypeID(), "error", err)
		return false
	}
	w.metrics.RecordDelivery(w.name, ok)
	return ok
}

// Listeners returns the listeners subscribed to id.
func (w *Workspace) Listeners(id types.TypeID) []Listener {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Listener, len(w.listeners[id]))
	copy(out, w.listeners[id])
	return out
}

// Types returns every subscribed type, ordered.
func (w *Workspace) Types() []types.TypeID {
	w.mu.RLock()
	out := make([]types.TypeID, 0, len(w.listeners))
	for id := range w.listeners {
		out = append(out, id)
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// Processors returns every registered listener in registration order.
func (w *Workspace) Processors() []Listener {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Listener, len(w.registered))
	copy(out, w.registered)
	return out
}

// HasWork reports whether any registered listener has queued work.
func (w *Workspace) HasWork() bool {
	for _, l := range w.Processors() {
		if l.HasWork() {
			return true
		}
	}
	return false
}

// Reset clears the queued state of every listener that supports it.
func (w *Workspace) Reset() {
	for _, l := range w.Processors() {
		if r, ok := l.(Resetter); ok {
			r.Reset()
		}
	}
}

// SetCurrentTick stores t and pushes it to every listener.
func (w *Workspace) SetCurrentTick(t types.Tick) {
	w.mu.Lock()
	w.tick = t
	w.mu.Unlock()

	for _, l := range w.Processors() {
		if ts, ok := l.(TickSetter); ok {
			ts.SetCurrentTick(t)
		}
	}
}

// CurrentTick returns the last tick set.
func (w *Workspace) CurrentTick() types.Tick {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tick
}

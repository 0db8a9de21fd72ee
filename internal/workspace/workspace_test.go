package workspace

// ============================================================================
// Workspace Test File
// Purpose: Verify typed routing, listener isolation, result fan-out
// ============================================================================

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencranium/cranium/internal/metrics"
	"github.com/opencranium/cranium/internal/processor"
	"github.com/opencranium/cranium/internal/stats"
	"github.com/opencranium/cranium/internal/worker"
	"github.com/opencranium/cranium/pkg/types"
)

var (
	trackerID = types.NewTypeID(1, "tracker", types.CategoryProcessor)
	plannerID = types.NewTypeID(2, "planner", types.CategoryProcessor)
	targetID  = types.NewTypeID(10, "target", types.CategoryPercept)
	noiseID   = types.NewTypeID(11, "noise", types.CategoryPercept)
	bogusID   = types.NewTypeID(12, "bogus", types.CategoryPercept)
)

// recordingExecutor remembers its inputs and returns whatever produce
// makes of them.
type recordingExecutor struct {
	produce func(item types.RankedItem) []types.RankedItem

	mu      sync.Mutex
	seen    []types.RankedItem
	idle    int
	cleaned int
	memory  []types.RankedItem
}

func (e *recordingExecutor) Execute(item types.RankedItem, _ *worker.Cycle) []types.RankedItem {
	e.mu.Lock()
	e.seen = append(e.seen, item)
	e.memory = append(e.memory, item)
	e.mu.Unlock()
	if e.produce == nil {
		return nil
	}
	return e.produce(item)
}

func (e *recordingExecutor) ExecuteIdle(*worker.Cycle) []types.RankedItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idle++
	return nil
}

func (e *recordingExecutor) CleanMemory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleaned++
	e.memory = nil
}

func (e *recordingExecutor) ShortTermMemory() []types.RankedItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.RankedItem(nil), e.memory...)
}

func (e *recordingExecutor) seenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}

// brokenListener fails every delivery.
type brokenListener struct {
	panics bool
}

func (b *brokenListener) HasWork() bool { return false }

func (b *brokenListener) Process(*worker.Cycle) {}

func (b *brokenListener) InputTypes() []types.TypeID { return []types.TypeID{targetID} }

func (b *brokenListener) AddProcessable(types.RankedItem) (bool, error) {
	if b.panics {
		panic("listener exploded")
	}
	return false, errors.New("listener refused")
}

func newTestWorkspace(t *testing.T, opts ...Option) *Workspace {
	t.Helper()
	pool, err := worker.NewPool(worker.WithThreads(2), worker.WithName(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if pool.IsStarted() {
			pool.StopAll()
		}
	})
	ws, err := New("test", pool, opts...)
	require.NoError(t, err)
	return ws
}

func newTestProcessor(t *testing.T, id types.TypeID, exec Executor, inputs, outputs []types.TypeID, opts ...ProcessorOption) *Processor {
	t.Helper()
	p, err := NewProcessor(id, exec, inputs, outputs, opts...)
	require.NoError(t, err)
	return p
}

func counterSum(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	mfs, err := g.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

// ============================================================================
// Construction and registration
// ============================================================================

// TestNewWithoutPool tests the constructor precondition
func TestNewWithoutPool(t *testing.T) {
	_, err := New("x", nil)
	assert.ErrorIs(t, err, ErrNoPool)

	_, err = NewProcessor(trackerID, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoExecutor)

	_, err = NewProcessor(types.TypeID{}, &recordingExecutor{}, nil, nil)
	assert.ErrorIs(t, err, processor.ErrNoID)
}

// TestSubmitWithoutListeners tests an unrouted item is dropped silently
func TestSubmitWithoutListeners(t *testing.T) {
	ws := newTestWorkspace(t)

	assert.NotPanics(t, func() {
		ws.Submit(types.NewItem(targetID, 100, nil))
		ws.Submit(nil)
	})
	assert.Empty(t, ws.Listeners(targetID))
	assert.False(t, ws.HasWork())
}

// TestRegisterRoutesByType tests fan-out to every subscriber of a type
func TestRegisterRoutesByType(t *testing.T) {
	ws := newTestWorkspace(t)
	tracker := newTestProcessor(t, trackerID, &recordingExecutor{}, []types.TypeID{targetID}, nil)
	planner := newTestProcessor(t, plannerID, &recordingExecutor{}, []types.TypeID{targetID, noiseID}, nil)

	for _, p := range []*Processor{tracker, planner} {
		ok, err := ws.Register(p)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Same(t, ws, p.Workspace())
		assert.True(t, ws.Pool().Contains(p))
	}

	ws.Submit(types.NewItem(targetID, 100, nil))
	ws.Submit(types.NewItem(noiseID, 100, nil))

	assert.Equal(t, 1, tracker.Len())
	assert.Equal(t, 2, planner.Len())
	assert.Len(t, ws.Listeners(targetID), 2)
	assert.Len(t, ws.Listeners(noiseID), 1)
	assert.Equal(t, []types.TypeID{targetID, noiseID}, ws.Types())
	assert.Len(t, ws.Processors(), 2)
	assert.True(t, ws.HasWork())
}

// TestRegisterTwice tests duplicate and cross-workspace registration
func TestRegisterTwice(t *testing.T) {
	ws := newTestWorkspace(t)
	p := newTestProcessor(t, trackerID, &recordingExecutor{}, []types.TypeID{targetID}, nil)

	ok, err := ws.Register(p)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ws.Register(p)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, ws.Listeners(targetID), 1)

	other := newTestWorkspace(t)
	ok, err = other.Register(p)
	assert.False(t, ok)
	assert.ErrorIs(t, err, types.ErrInvalidState)
	var se *types.StateError
	require.True(t, errors.As(err, &se))
	assert.Same(t, p, se.Subject)
	assert.False(t, other.Pool().Contains(p))

	_, err = ws.Register(nil)
	assert.ErrorIs(t, err, ErrNilListener)
}

// TestUnregister tests subscriptions and pool membership are both dropped
func TestUnregister(t *testing.T) {
	ws := newTestWorkspace(t)
	p := newTestProcessor(t, trackerID, &recordingExecutor{}, []types.TypeID{targetID, noiseID}, nil)
	_, err := ws.Register(p)
	require.NoError(t, err)

	assert.True(t, ws.Unregister(p))
	assert.False(t, ws.Unregister(p))
	assert.False(t, ws.Unregister(nil))

	assert.Empty(t, ws.Listeners(targetID))
	assert.Empty(t, ws.Types())
	assert.Empty(t, ws.Processors())
	assert.False(t, ws.Pool().Contains(p))
	assert.Nil(t, p.Workspace())

	// free to join another workspace now
	other := newTestWorkspace(t)
	ok, err := other.Register(p)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestUnregisterAfterPoolRemoval tests subscriptions are cleaned up even when
// the pool no longer holds the listener
func TestUnregisterAfterPoolRemoval(t *testing.T) {
	ws := newTestWorkspace(t)
	p := newTestProcessor(t, trackerID, &recordingExecutor{}, []types.TypeID{targetID}, nil)
	_, err := ws.Register(p)
	require.NoError(t, err)

	require.True(t, ws.Pool().RemoveProcessor(p))

	assert.True(t, ws.Unregister(p))
	assert.Empty(t, ws.Listeners(targetID))
	assert.Empty(t, ws.Processors())
	assert.Nil(t, p.Workspace())
	assert.False(t, ws.Pool().Contains(p))
}

// ============================================================================
// Delivery
// ============================================================================

// TestFailingListenersAreIsolated tests errors and panics do not stop fan-out
func TestFailingListenersAreIsolated(t *testing.T) {
	reg := prometheus.NewRegistry()
	ws := newTestWorkspace(t, WithMetrics(metrics.NewCollectorWith(reg)))

	_, err := ws.Register(&brokenListener{panics: true})
	require.NoError(t, err)
	_, err = ws.Register(&brokenListener{})
	require.NoError(t, err)
	good := newTestProcessor(t, trackerID, &recordingExecutor{}, []types.TypeID{targetID}, nil)
	_, err = ws.Register(good)
	require.NoError(t, err)

	assert.NotPanics(t, func() { ws.Submit(types.NewItem(targetID, 10, nil)) })
	assert.Equal(t, 1, good.Len())

	assert.Equal(t, 2.0, counterSum(t, reg, "cranium_listener_failures_total"))
	assert.Equal(t, 1.0, counterSum(t, reg, "cranium_items_submitted_total"))
	assert.Equal(t, 1.0, counterSum(t, reg, "cranium_items_delivered_total"))
}

// TestInvalidInput tests type checking and input disabling
func TestInvalidInput(t *testing.T) {
	p := newTestProcessor(t, trackerID, &recordingExecutor{}, []types.TypeID{targetID}, nil)

	_, err := p.AddProcessable(types.NewItem(noiseID, 1, nil))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = p.AddProcessable(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	ok, err := p.AddProcessable(types.NewItem(targetID, 1, nil))
	require.NoError(t, err)
	assert.True(t, ok)

	p.SetInputEnabled(false)
	assert.False(t, p.InputEnabled())
	assert.Equal(t, 0, p.Len(), "disabling input clears the queue")

	ok, err = p.AddProcessable(types.NewItem(targetID, 1, nil))
	assert.NoError(t, err)
	assert.False(t, ok)

	p.SetInputEnabled(true)
	ok, _ = p.AddProcessable(types.NewItem(targetID, 1, nil))
	assert.True(t, ok)
}

// TestTypeSets tests duplicates and zero ids are ignored
func TestTypeSets(t *testing.T) {
	p := newTestProcessor(t, trackerID, &recordingExecutor{},
		[]types.TypeID{noiseID, targetID, noiseID, {}},
		[]types.TypeID{bogusID})

	assert.Equal(t, []types.TypeID{targetID, noiseID}, p.InputTypes())
	assert.Equal(t, []types.TypeID{bogusID}, p.OutputTypes())
	assert.True(t, p.IsValidOutput(bogusID))
	assert.False(t, p.IsValidOutput(targetID))
}

// ============================================================================
// Results
// ============================================================================

// TestResultsRoutedBack tests results reach the next processor through the pool
func TestResultsRoutedBack(t *testing.T) {
	rec := stats.NewRecorder(true)
	ws := newTestWorkspace(t)

	trackerExec := &recordingExecutor{produce: func(item types.RankedItem) []types.RankedItem {
		return []types.RankedItem{
			types.NewItem(noiseID, item.Rank(), nil).WithGeneratedBy(item),
			types.NewItem(bogusID, 1, nil),
			nil,
		}
	}}
	tracker := newTestProcessor(t, trackerID, trackerExec,
		[]types.TypeID{targetID}, []types.TypeID{noiseID},
		WithQueue(processor.WithRecorder(rec)))
	plannerExec := &recordingExecutor{}
	planner := newTestProcessor(t, plannerID, plannerExec, []types.TypeID{noiseID, bogusID}, nil)

	_, err := ws.Register(tracker)
	require.NoError(t, err)
	_, err = ws.Register(planner)
	require.NoError(t, err)

	require.NoError(t, ws.Pool().StartAll())
	require.NoError(t, ws.Pool().ResumeAll())

	ws.Submit(types.NewItem(targetID, 200, nil))

	assert.Eventually(t, func() bool { return plannerExec.seenCount() == 1 },
		time.Second, 5*time.Millisecond)

	plannerExec.mu.Lock()
	got := plannerExec.seen[0]
	plannerExec.mu.Unlock()
	assert.Equal(t, noiseID, got.TypeID())
	assert.Equal(t, 200, got.Rank())

	// the invalid output never reached the planner
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, plannerExec.seenCount())

	assert.Equal(t, 1, rec.Ledger(noiseID).Entry(trackerID).Snapshot().Created)
}

// TestOutputDisabled tests results are withheld while output is off
func TestOutputDisabled(t *testing.T) {
	var handled []types.RankedItem
	exec := &recordingExecutor{produce: func(types.RankedItem) []types.RankedItem {
		return []types.RankedItem{types.NewItem(noiseID, 1, nil)}
	}}
	p := newTestProcessor(t, trackerID, exec, []types.TypeID{targetID}, []types.TypeID{noiseID},
		WithResultHandler(func(_ *Processor, r types.RankedItem) { handled = append(handled, r) }))

	p.AddProcessable(types.NewItem(targetID, 1, nil))
	p.AddProcessable(types.NewItem(targetID, 2, nil))

	p.SetOutputEnabled(false)
	p.Process(nil)
	assert.Empty(t, handled)

	p.SetOutputEnabled(true)
	p.Process(nil)
	assert.Len(t, handled, 1)
	assert.Equal(t, 2, exec.seenCount())
}

// TestResultWithoutWorkspace tests the default handler tolerates no workspace
func TestResultWithoutWorkspace(t *testing.T) {
	exec := &recordingExecutor{produce: func(types.RankedItem) []types.RankedItem {
		return []types.RankedItem{types.NewItem(noiseID, 1, nil)}
	}}
	p := newTestProcessor(t, trackerID, exec, []types.TypeID{targetID}, []types.TypeID{noiseID})
	p.AddProcessable(types.NewItem(targetID, 1, nil))

	assert.NotPanics(t, func() { p.Process(nil) })
}

// ============================================================================
// Idle path, memory, reset and ticks
// ============================================================================

// TestIdleAndMemory tests the empty queue path and memory hooks
func TestIdleAndMemory(t *testing.T) {
	exec := &recordingExecutor{}
	p := newTestProcessor(t, trackerID, exec, []types.TypeID{targetID}, nil)

	p.Process(nil)
	assert.Equal(t, 1, exec.idle)

	p.AddProcessable(types.NewItem(targetID, 1, nil))
	p.Process(nil)
	assert.Len(t, p.ShortTermMemory(), 1)

	p.AddProcessable(types.NewItem(targetID, 1, nil))
	p.Reset()
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 1, exec.cleaned)
	assert.Empty(t, p.ShortTermMemory())

	plain := newTestProcessor(t, plannerID, ExecutorFunc(func(types.RankedItem, *worker.Cycle) []types.RankedItem {
		return nil
	}), nil, nil)
	assert.NotPanics(t, func() {
		plain.Process(nil)
		plain.Reset()
	})
	assert.Nil(t, plain.ShortTermMemory())
}

// TestResetAndTick tests workspace wide reset and tick propagation
func TestResetAndTick(t *testing.T) {
	ws := newTestWorkspace(t)
	exec := &recordingExecutor{}
	p := newTestProcessor(t, trackerID, exec, []types.TypeID{targetID}, nil)

	ws.SetCurrentTick(types.Tick{Number: 4})
	_, err := ws.Register(p)
	require.NoError(t, err)
	assert.Equal(t, 4, p.CurrentTick(), "late registration picks up the tick")

	ws.SetCurrentTick(types.Tick{Number: 5})
	assert.Equal(t, 5, ws.CurrentTick().Number)
	assert.Equal(t, 5, p.CurrentTick())

	ws.Submit(types.NewItem(targetID, 1, nil))
	require.True(t, ws.HasWork())
	ws.Reset()
	assert.False(t, ws.HasWork())
	assert.Equal(t, 1, exec.cleaned)
}

// TestConcurrentSubmitAndRegister tests routing under concurrent mutation
func TestConcurrentSubmitAndRegister(t *testing.T) {
	ws := newTestWorkspace(t)
	stable := newTestProcessor(t, trackerID, &recordingExecutor{}, []types.TypeID{targetID}, nil)
	_, err := ws.Register(stable)
	require.NoError(t, err)

	churn := make([]*Processor, 50)
	for i := range churn {
		churn[i] = newTestProcessor(t, plannerID, &recordingExecutor{}, []types.TypeID{targetID}, nil)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			ws.Submit(types.NewItem(targetID, i%100, nil))
		}
	}()
	go func() {
		defer wg.Done()
		for _, p := range churn {
			ws.Register(p)
			ws.Unregister(p)
		}
	}()
	wg.Wait()

	assert.Equal(t, 200, stable.Len())
	assert.Len(t, ws.Processors(), 1)
	assert.Len(t, ws.Listeners(targetID), 1)
}

func BenchmarkSubmit(b *testing.B) {
	pool, _ := worker.NewPool(worker.WithThreads(1))
	ws, _ := New("bench", pool)
	for i := 0; i < 4; i++ {
		p, _ := NewProcessor(types.NewTypeID(100+i, "p", types.CategoryProcessor),
			ExecutorFunc(func(types.RankedItem, *worker.Cycle) []types.RankedItem { return nil }),
			[]types.TypeID{targetID}, nil, WithQueue(processor.WithCapacity(32)))
		ws.Register(p)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ws.Submit(types.NewItem(targetID, i%1000, nil))
	}
}

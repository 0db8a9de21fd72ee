package core

// ============================================================================
// Core Test File
// Purpose: Verify pool layouts, lifecycle, tick windows and the tick loop
// ============================================================================

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencranium/cranium/internal/metrics"
	"github.com/opencranium/cranium/internal/registry"
	"github.com/opencranium/cranium/internal/worker"
	"github.com/opencranium/cranium/internal/workspace"
	"github.com/opencranium/cranium/pkg/types"
)

func newTestCore(t *testing.T, multi bool, opts ...Option) *Core {
	t.Helper()
	c, err := New(Config{Threads: 2, MultiPool: multi}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if c.IsStarted() && !c.IsRunning() {
			c.Stop()
		}
	})
	return c
}

// countingProcessor registers a processor on layer l that counts the items
// of type in it handles.
func countingProcessor(t *testing.T, c *Core, l Layer, name string, in types.TypeID, opts ...workspace.ProcessorOption) (*workspace.Processor, *atomic.Int32) {
	t.Helper()
	var n atomic.Int32
	id := c.Registry().MustID(name, types.CategoryProcessor)
	p, err := workspace.NewProcessor(id, workspace.ExecutorFunc(func(types.RankedItem, *worker.Cycle) []types.RankedItem {
		n.Add(1)
		return nil
	}), []types.TypeID{in}, nil, opts...)
	require.NoError(t, err)
	_, err = c.MustLayer(l).Register(p)
	require.NoError(t, err)
	return p, &n
}

// ============================================================================
// Construction
// ============================================================================

// TestNewSinglePool tests every layer shares one pool
func TestNewSinglePool(t *testing.T) {
	c := newTestCore(t, false)

	require.Len(t, c.Pools(), 1)
	assert.Equal(t, SharedPool, c.Pools()[0].Name())
	assert.Equal(t, 2, c.Pools()[0].Threads())
	for _, l := range Layers() {
		p, err := c.Pool(l)
		require.NoError(t, err)
		assert.Same(t, c.Pools()[0], p)
		assert.Equal(t, string(l), c.MustLayer(l).Name())
	}
	assert.False(t, c.MultiPool())
	assert.NotEmpty(t, c.ID())
	assert.NotNil(t, c.Registry())
}

// TestNewMultiPool tests one pool per layer
func TestNewMultiPool(t *testing.T) {
	c := newTestCore(t, true)

	require.Len(t, c.Pools(), 4)
	for i, l := range Layers() {
		p, err := c.Pool(l)
		require.NoError(t, err)
		assert.Same(t, c.Pools()[i], p)
		assert.Equal(t, string(l), p.Name())
	}
}

// TestNewValidation tests configuration and lookups
func TestNewValidation(t *testing.T) {
	_, err := New(Config{Threads: -1})
	assert.ErrorIs(t, err, worker.ErrInvalidThreads)

	c, err := New(Config{ListSize: 4})
	require.NoError(t, err)
	assert.Equal(t, worker.DefaultThreads(), c.Pools()[0].Threads())

	_, err = c.Layer("cortex")
	assert.ErrorIs(t, err, ErrUnknownLayer)
	assert.Panics(t, func() { c.MustLayer("cortex") })

	l, err := ParseLayer("mission")
	require.NoError(t, err)
	assert.Equal(t, LayerMission, l)
	_, err = ParseLayer("")
	assert.ErrorIs(t, err, ErrUnknownLayer)
}

// TestSharedRegistry tests an injected registry is used
func TestSharedRegistry(t *testing.T) {
	reg := registry.New()
	id := reg.MustID("tracker", types.CategoryProcessor)

	c := newTestCore(t, false, WithRegistry(reg))
	assert.Equal(t, id, c.Registry().MustID("tracker", types.CategoryProcessor))
}

// ============================================================================
// Lifecycle
// ============================================================================

// TestLifecycleOrder tests start/stop state checks
func TestLifecycleOrder(t *testing.T) {
	c := newTestCore(t, false)

	assert.ErrorIs(t, c.Stop(), types.ErrInvalidState)
	assert.ErrorIs(t, c.ExecuteDuring(context.Background(), time.Millisecond), types.ErrInvalidState)
	assert.ErrorIs(t, c.Execute(), types.ErrInvalidState)
	assert.ErrorIs(t, c.Pause(), types.ErrInvalidState)

	require.NoError(t, c.Start())
	assert.True(t, c.IsStarted())
	assert.ErrorIs(t, c.Start(), types.ErrInvalidState)

	require.NoError(t, c.Stop())
	assert.False(t, c.IsStarted())
	for _, p := range c.Pools() {
		assert.False(t, p.IsStarted())
	}
}

// TestExecuteModeChecks tests mode specific execute calls
func TestExecuteModeChecks(t *testing.T) {
	single := newTestCore(t, false)
	require.NoError(t, single.Start())
	assert.ErrorIs(t, single.ExecuteLayers(context.Background(), LayerBudget{}), types.ErrInvalidState)
	assert.ErrorIs(t, single.ExecuteDuring(context.Background(), -time.Millisecond), ErrNegativeBudget)

	multi := newTestCore(t, true)
	require.NoError(t, multi.Start())
	assert.ErrorIs(t, multi.ExecuteDuring(context.Background(), time.Millisecond), types.ErrInvalidState)
	assert.ErrorIs(t, multi.ExecuteLayers(context.Background(), LayerBudget{Mission: -1}), ErrNegativeBudget)
}

// ============================================================================
// Execution
// ============================================================================

// TestExecuteDuringRunsLayers tests one window processes queued work
func TestExecuteDuringRunsLayers(t *testing.T) {
	c := newTestCore(t, false)
	percept := c.Registry().MustID("obstacle", types.CategoryPercept)
	p, n := countingProcessor(t, c, LayerPhysical, "avoider", percept)

	for i := 0; i < 5; i++ {
		c.MustLayer(LayerPhysical).Submit(types.NewItem(percept, i, nil))
	}
	require.True(t, c.HasWork())

	require.NoError(t, c.Start())
	start := time.Now()
	require.NoError(t, c.ExecuteDuring(context.Background(), 40*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	assert.Equal(t, int32(5), n.Load())
	assert.Equal(t, 1, c.Tick().Number)
	assert.Equal(t, 1, p.CurrentTick())
	assert.Equal(t, 1, c.MustLayer(LayerCore).CurrentTick().Number)
	assert.False(t, c.HasWork())
}

// TestExecuteLayers tests sequential per layer windows
func TestExecuteLayers(t *testing.T) {
	c := newTestCore(t, true)
	percept := c.Registry().MustID("wall", types.CategoryPercept)
	_, sensed := countingProcessor(t, c, LayerSensoryMotor, "sensor", percept)
	_, planned := countingProcessor(t, c, LayerMission, "planner", percept)

	c.MustLayer(LayerSensoryMotor).Submit(types.NewItem(percept, 1, nil))
	c.MustLayer(LayerMission).Submit(types.NewItem(percept, 1, nil))

	require.NoError(t, c.Start())
	b := LayerBudget{
		SensoryMotor: 10 * time.Millisecond,
		Physical:     10 * time.Millisecond,
		Mission:      10 * time.Millisecond,
		Core:         10 * time.Millisecond,
	}
	start := time.Now()
	require.NoError(t, c.ExecuteLayers(context.Background(), b))
	assert.GreaterOrEqual(t, time.Since(start), b.Total())

	assert.Equal(t, int32(1), sensed.Load())
	assert.Equal(t, int32(1), planned.Load())
	assert.Equal(t, 1, c.Tick().Number)
}

// TestCrossLayerRouting tests a result handler forwarding to another layer
func TestCrossLayerRouting(t *testing.T) {
	c := newTestCore(t, false)
	raw := c.Registry().MustID("raw", types.CategoryPercept)
	obstacle := c.Registry().MustID("obstacle", types.CategoryPercept)

	forward := workspace.WithResultHandler(func(_ *workspace.Processor, r types.RankedItem) {
		c.MustLayer(LayerPhysical).Submit(r)
	})
	sensor, err := workspace.NewProcessor(c.Registry().MustID("sensor", types.CategoryProcessor),
		workspace.ExecutorFunc(func(item types.RankedItem, _ *worker.Cycle) []types.RankedItem {
			return []types.RankedItem{types.NewItem(obstacle, item.Rank(), nil).WithGeneratedBy(item)}
		}),
		[]types.TypeID{raw}, []types.TypeID{obstacle}, forward)
	require.NoError(t, err)
	_, err = c.MustLayer(LayerSensoryMotor).Register(sensor)
	require.NoError(t, err)
	_, avoided := countingProcessor(t, c, LayerPhysical, "avoider", obstacle)

	require.NoError(t, c.Start())
	c.MustLayer(LayerSensoryMotor).Submit(types.NewItem(raw, 50, nil))
	require.NoError(t, c.ExecuteDuring(context.Background(), 50*time.Millisecond))

	assert.Equal(t, int32(1), avoided.Load())
}

// TestExecuteUnbounded tests Execute and Pause
func TestExecuteUnbounded(t *testing.T) {
	c := newTestCore(t, true)
	percept := c.Registry().MustID("light", types.CategoryPercept)
	_, n := countingProcessor(t, c, LayerCore, "watcher", percept)

	require.NoError(t, c.Start())
	require.NoError(t, c.Execute())
	c.MustLayer(LayerCore).Submit(types.NewItem(percept, 1, nil))

	assert.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Pause())
	assert.Equal(t, 1, c.Tick().Number)
}

// TestReset tests queued work is dropped and processors are kept
func TestReset(t *testing.T) {
	c := newTestCore(t, false)
	percept := c.Registry().MustID("sound", types.CategoryPercept)
	countingProcessor(t, c, LayerMission, "listener", percept)

	c.MustLayer(LayerMission).Submit(types.NewItem(percept, 1, nil))
	require.True(t, c.HasWork())

	c.Reset()
	assert.False(t, c.HasWork())
	assert.Len(t, c.MustLayer(LayerMission).Processors(), 1)
}

// ============================================================================
// Tick loop
// ============================================================================

// TestRunMaxTicks tests the loop stops after the requested ticks
func TestRunMaxTicks(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestCore(t, false, WithMetrics(metrics.NewCollectorWith(reg)))

	var seen []int
	err := c.Run(context.Background(), Schedule{
		Execution: 5 * time.Millisecond,
		Pause:     time.Millisecond,
		MaxTicks:  3,
		OnTick:    func(tk types.Tick) { seen = append(seen, tk.Number) },
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.False(t, c.IsStarted())
	assert.False(t, c.IsRunning())
	n, err := testutil.GatherAndCount(reg, "cranium_tick_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestRunMultiPool tests the loop in multi pool mode
func TestRunMultiPool(t *testing.T) {
	c := newTestCore(t, true)
	ticks := 0
	err := c.Run(context.Background(), Schedule{
		Layers:   LayerBudget{SensoryMotor: time.Millisecond, Core: time.Millisecond},
		MaxTicks: 2,
		OnTick:   func(types.Tick) { ticks++ },
	})
	require.NoError(t, err)
	assert.Equal(t, 2, ticks)
}

// TestRunCancel tests cancellation ends the loop without error
func TestRunCancel(t *testing.T) {
	c := newTestCore(t, false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, Schedule{Execution: 10 * time.Millisecond})
	}()

	require.Eventually(t, func() bool { return c.IsRunning() && c.Tick().Number > 0 },
		time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Stop(), types.ErrInvalidState, "Run owns the core")
	assert.ErrorIs(t, c.Run(ctx, Schedule{}), types.ErrInvalidState, "one loop at a time")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, c.IsStarted())
	assert.Positive(t, c.Tick().Number)
}

// TestRunValidation tests bad schedules and a started core
func TestRunValidation(t *testing.T) {
	c := newTestCore(t, false)
	assert.ErrorIs(t, c.Run(context.Background(), Schedule{Execution: -1}), ErrNegativeBudget)
	assert.ErrorIs(t, c.Run(context.Background(), Schedule{Layers: LayerBudget{Core: -1}}), ErrNegativeBudget)

	require.NoError(t, c.Start())
	assert.ErrorIs(t, c.Run(context.Background(), Schedule{MaxTicks: 1}), types.ErrInvalidState)
}

// ============================================================================
// Status
// ============================================================================

// TestStatus tests the runtime report
func TestStatus(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := newTestCore(t, true, WithClock(func() time.Time { return now }))
	percept := c.Registry().MustID("heat", types.CategoryPercept)
	countingProcessor(t, c, LayerPhysical, "cooler", percept)

	s := c.Status()
	assert.Equal(t, c.ID(), s.ID)
	assert.False(t, s.Started)
	assert.True(t, s.MultiPool)
	assert.Len(t, s.Pools, 4)
	assert.Equal(t, 1, s.Layers[LayerPhysical])
	assert.Equal(t, 0, s.Layers[LayerCore])

	require.NoError(t, c.Start())
	now = now.Add(3 * time.Second)
	s = c.Status()
	assert.True(t, s.Started)
	assert.Equal(t, 3*time.Second, s.Uptime)
	assert.Equal(t, 1, s.Pools[1].Members)
}

// ============================================================================
// Cranium Core - runtime context
// ============================================================================
//
// Package: internal/core
// File: core.go
// Function: Owns the worker pools and the four layer workspaces, and drives
//           them in bounded execution windows (ticks).
//
// Pool layouts:
//
//   single pool (default)              multi pool
//   ┌──────────────────────────┐       sensory_motor ── pool sensory_motor
//   │ pool "shared"            │       physical      ── pool physical
//   │  sensory_motor physical  │       mission       ── pool mission
//   │  mission       core      │       core          ── pool core
//   └──────────────────────────┘
//
//   ExecuteDuring(d)        single pool only: one window of d
//   ExecuteLayers(budget)   multi pool only: one window per layer, in
//                           layer order, each with its own budget
//   Execute()               resume every pool without a deadline
//
// Tick loop (Run):
//   Start → [advance tick → execute window → OnTick → pause]* → Stop
//   The loop ends when ctx is cancelled or MaxTicks is reached.
//
// Every execute call advances the tick counter once and pushes the new tick
// to every workspace before the window opens.
//
// ============================================================================

package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencranium/cranium/internal/metrics"
	"github.com/opencranium/cranium/internal/registry"
	"github.com/opencranium/cranium/internal/stats"
	"github.com/opencranium/cranium/internal/worker"
	"github.com/opencranium/cranium/internal/workspace"
	"github.com/opencranium/cranium/pkg/types"
)

var log = slog.Default()

// ============================================================================
// Layers
// ============================================================================

// Layer names one level of the architecture.
type Layer string

const (
	LayerSensoryMotor Layer = "sensory_motor"
	LayerPhysical     Layer = "physical"
	LayerMission      Layer = "mission"
	LayerCore         Layer = "core"
)

// Layers returns every layer in execution order.
func Layers() []Layer {
	return []Layer{LayerSensoryMotor, LayerPhysical, LayerMission, LayerCore}
}

// SharedPool is the pool name used in single pool mode.
const SharedPool = "shared"

var (
	// ErrUnknownLayer is returned for a layer name outside Layers().
	ErrUnknownLayer = errors.New("unknown layer")
	// ErrNegativeBudget is returned for a negative execution time.
	ErrNegativeBudget = errors.New("execution time must not be negative")
)

// ParseLayer maps a name to a Layer.
func ParseLayer(name string) (Layer, error) {
	for _, l := range Layers() {
		if string(l) == name {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLayer, name)
}

// LayerBudget is the per layer execution time of one multi pool tick.
type LayerBudget struct {
	SensoryMotor time.Duration
	Physical     time.Duration
	Mission      time.Duration
	Core         time.Duration
}

// For returns the budget of l.
func (b LayerBudget) For(l Layer) time.Duration {
	switch l {
	case LayerSensoryMotor:
		return b.SensoryMotor
	case LayerPhysical:
		return b.Physical
	case LayerMission:
		return b.Mission
	case LayerCore:
		return b.Core
	}
	return 0
}

// Total is the wall clock length of one tick under b.
func (b LayerBudget) Total() time.Duration {
	return b.SensoryMotor + b.Physical + b.Mission + b.Core
}

func (b LayerBudget) validate() error {
	for _, l := range Layers() {
		if b.For(l) < 0 {
			return fmt.Errorf("%w: %s %s", ErrNegativeBudget, l, b.For(l))
		}
	}
	return nil
}

// ============================================================================
// Configuration
// ============================================================================

// Config sizes the runtime.
type Config struct {
	Threads       int  // per pool; 0 = worker.DefaultThreads()
	MultiPool     bool // one pool per layer
	ListSize      int  // rotation list initial size; 0 = default
	ListIncrement int  // rotation list growth; 0 = default
}

// Schedule drives Run.
type Schedule struct {
	Execution time.Duration    // single pool window
	Layers    LayerBudget      // multi pool windows
	Pause     time.Duration    // sleep between ticks, 0 = none
	MaxTicks  int              // 0 = until ctx is cancelled
	OnTick    func(types.Tick) // called after every window
}

// Option configures a Core.
type Option func(*Core)

// WithRegistry shares an identity registry.
func WithRegistry(r *registry.Registry) Option { return func(c *Core) { c.registry = r } }

// WithRecorder attaches a statistics recorder.
func WithRecorder(r *stats.Recorder) Option { return func(c *Core) { c.recorder = r } }

// WithMetrics attaches a Prometheus collector to every pool and workspace.
func WithMetrics(m *metrics.Collector) Option { return func(c *Core) { c.metrics = m } }

// WithClock replaces time.Now for tick timestamps.
func WithClock(now func() time.Time) Option { return func(c *Core) { c.now = now } }

// ============================================================================
// Core
// ============================================================================

// Core is the runtime context. It replaces process wide singletons: every
// collaborator is reached through it.
type Core struct {
	id       string
	cfg      Config
	registry *registry.Registry
	recorder *stats.Recorder
	metrics  *metrics.Collector
	now      func() time.Time
	log      *slog.Logger

	pools  []*worker.Pool
	layers map[Layer]*workspace.Workspace

	mu        sync.Mutex
	started   bool
	running   bool
	startTime time.Time
	tick      types.Tick
}

// New builds the pools and layer workspaces. Nothing runs until Start.
func New(cfg Config, opts ...Option) (*Core, error) {
	if cfg.Threads < 0 {
		return nil, fmt.Errorf("%w: %d", worker.ErrInvalidThreads, cfg.Threads)
	}
	if cfg.Threads == 0 {
		cfg.Threads = worker.DefaultThreads()
	}

	c := &Core{
		id:     uuid.NewString(),
		cfg:    cfg,
		now:    time.Now,
		layers: make(map[Layer]*workspace.Workspace, 4),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = registry.New()
	}
	c.log = log.With("core", c.id)
	c.tick = types.Tick{At: c.now()}

	newPool := func(name string) (*worker.Pool, error) {
		popts := []worker.Option{
			worker.WithThreads(cfg.Threads),
			worker.WithName(name),
			worker.WithMetrics(c.metrics),
		}
		if cfg.ListSize > 0 || cfg.ListIncrement > 0 {
			size, inc := cfg.ListSize, cfg.ListIncrement
			if size == 0 {
				size = worker.DefaultListSize
			}
			if inc == 0 {
				inc = worker.DefaultListIncrement
			}
			popts = append(popts, worker.WithListSizes(size, inc))
		}
		return worker.NewPool(popts...)
	}

	var shared *worker.Pool
	if !cfg.MultiPool {
		p, err := newPool(SharedPool)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool: %w", err)
		}
		shared = p
		c.pools = append(c.pools, p)
	}
	for _, l := range Layers() {
		p := shared
		if cfg.MultiPool {
			var err error
			if p, err = newPool(string(l)); err != nil {
				return nil, fmt.Errorf("failed to create pool for %s: %w", l, err)
			}
			c.pools = append(c.pools, p)
		}
		ws, err := workspace.New(string(l), p, workspace.WithMetrics(c.metrics))
		if err != nil {
			return nil, err
		}
		c.layers[l] = ws
	}

	c.log.Info("Core created",
		"multi_pool", cfg.MultiPool,
		"pools", len(c.pools),
		"threads", cfg.Threads)
	return c, nil
}

// ID is the instance id, unique per process start.
func (c *Core) ID() string { return c.id }

func (c *Core) String() string { return "core " + c.id }

func (c *Core) MultiPool() bool { return c.cfg.MultiPool }

func (c *Core) Registry() *registry.Registry { return c.registry }

// Recorder returns the statistics recorder, possibly nil.
func (c *Core) Recorder() *stats.Recorder { return c.recorder }

// Layer returns the workspace of l.
func (c *Core) Layer(l Layer) (*workspace.Workspace, error) {
	ws, ok := c.layers[l]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayer, l)
	}
	return ws, nil
}

// MustLayer is Layer for the constants above. It panics on an unknown layer.
func (c *Core) MustLayer(l Layer) *workspace.Workspace {
	ws, err := c.Layer(l)
	if err != nil {
		panic(err)
	}
	return ws
}

// Pools returns the pools, one or one per layer in layer order.
func (c *Core) Pools() []*worker.Pool {
	return append([]*worker.Pool(nil), c.pools...)
}

// Pool returns the pool running l.
func (c *Core) Pool(l Layer) (*worker.Pool, error) {
	ws, err := c.Layer(l)
	if err != nil {
		return nil, err
	}
	return ws.Pool(), nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start starts every pool. Threads stay paused until an execute call.
func (c *Core) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked()
}

func (c *Core) startLocked() error {
	if c.started {
		return types.NewStateError("start", c, "core started previously")
	}
	for i, p := range c.pools {
		if err := p.StartAll(); err != nil {
			for _, started := range c.pools[:i] {
				started.StopAll()
			}
			return fmt.Errorf("failed to start %s: %w", p, err)
		}
		c.metrics.SetThreads(p.Name(), p.Threads())
	}
	c.started = true
	c.startTime = c.now()
	c.log.Info("Core started", "pools", len(c.pools))
	return nil
}

// Stop kills every worker. It fails while Run owns the core.
func (c *Core) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return types.NewStateError("stop", c, "core is running a tick loop; cancel its context")
	}
	return c.stopLocked()
}

func (c *Core) stopLocked() error {
	if !c.started {
		return types.NewStateError("stop", c, "core was not previously started")
	}
	var errs []error
	for _, p := range c.pools {
		if err := p.StopAll(); err != nil {
			errs = append(errs, err)
		}
	}
	c.started = false
	c.log.Info("Core stopped", "ticks", c.tick.Number)
	return errors.Join(errs...)
}

// IsStarted reports whether the pools are started.
func (c *Core) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// IsRunning reports whether Run is driving the core.
func (c *Core) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Core) checkStarted(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return types.NewStateError(op, c, "core was not previously started")
	}
	return nil
}

// ============================================================================
// Execution
// ============================================================================

// ExecuteDuring runs the shared pool for d. Single pool mode only.
func (c *Core) ExecuteDuring(ctx context.Context, d time.Duration) error {
	if err := c.checkStarted("execute during"); err != nil {
		return err
	}
	if c.cfg.MultiPool {
		return types.NewStateError("execute during", c, "only available in single pool mode")
	}
	if d < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeBudget, d)
	}

	start := c.advanceTick()
	err := c.pools[0].ExecuteDuring(ctx, d)
	c.metrics.RecordTick(c.Tick().Number, time.Since(start))
	return err
}

// ExecuteLayers runs the layer pools one after the other, each for its
// budget. Multi pool mode only.
func (c *Core) ExecuteLayers(ctx context.Context, b LayerBudget) error {
	if err := c.checkStarted("execute layers"); err != nil {
		return err
	}
	if !c.cfg.MultiPool {
		return types.NewStateError("execute layers", c, "only available in multi pool mode")
	}
	if err := b.validate(); err != nil {
		return err
	}

	start := c.advanceTick()
	defer func() { c.metrics.RecordTick(c.Tick().Number, time.Since(start)) }()

	for _, l := range Layers() {
		if err := c.layers[l].Pool().ExecuteDuring(ctx, b.For(l)); err != nil {
			return fmt.Errorf("layer %s: %w", l, err)
		}
	}
	return nil
}

// Execute resumes every pool without a deadline. Workers run until paused,
// stopped or out of work.
func (c *Core) Execute() error {
	if err := c.checkStarted("execute"); err != nil {
		return err
	}
	c.advanceTick()
	for _, p := range c.pools {
		if err := p.ResumeAll(); err != nil {
			return err
		}
	}
	return nil
}

// Pause pauses every pool.
func (c *Core) Pause() error {
	if err := c.checkStarted("pause"); err != nil {
		return err
	}
	for _, p := range c.pools {
		if err := p.PauseAll(); err != nil {
			return err
		}
	}
	return nil
}

// Run starts the core, executes ticks per s until ctx is cancelled or
// s.MaxTicks windows ran, then stops it. Cancellation is a normal exit.
func (c *Core) Run(ctx context.Context, s Schedule) error {
	if s.Execution < 0 || s.Pause < 0 {
		return fmt.Errorf("%w: execution %s pause %s", ErrNegativeBudget, s.Execution, s.Pause)
	}
	if err := s.Layers.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return types.NewStateError("run", c, "core can only run one tick loop")
	}
	if err := c.startLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		if err := c.stopLocked(); err != nil {
			c.log.Error("Failed to stop core", "error", err)
		}
		c.mu.Unlock()
	}()

	c.log.Info("Tick loop started",
		"execution", s.Execution,
		"layers", s.Layers.Total(),
		"pause", s.Pause,
		"max_ticks", s.MaxTicks)

	for ticks := 0; s.MaxTicks == 0 || ticks < s.MaxTicks; ticks++ {
		var err error
		if c.cfg.MultiPool {
			err = c.ExecuteLayers(ctx, s.Layers)
		} else {
			err = c.ExecuteDuring(ctx, s.Execution)
		}
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			return err
		}
		if s.OnTick != nil {
			s.OnTick(c.Tick())
		}

		if s.Pause > 0 {
			timer := time.NewTimer(s.Pause)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	c.log.Info("Tick loop finished", "ticks", c.Tick().Number)
	return nil
}

// ============================================================================
// Ticks and state
// ============================================================================

// Tick returns the current tick.
func (c *Core) Tick() types.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// advanceTick moves to the next tick, pushes it to every layer and returns
// the time the tick began.
func (c *Core) advanceTick() time.Time {
	now := c.now()
	c.mu.Lock()
	c.tick = c.tick.Next(now)
	t := c.tick
	c.mu.Unlock()

	for _, l := range Layers() {
		c.layers[l].SetCurrentTick(t)
	}
	return time.Now()
}

// Reset clears the queued state of every layer. Registered processors and
// identities are kept.
func (c *Core) Reset() {
	for _, l := range Layers() {
		c.layers[l].Reset()
	}
	c.log.Info("Core reset")
}

// HasWork reports whether any layer has queued work.
func (c *Core) HasWork() bool {
	for _, l := range Layers() {
		if c.layers[l].HasWork() {
			return true
		}
	}
	return false
}

// Status is a point in time view of the runtime.
type Status struct {
	ID        string
	Started   bool
	Running   bool
	MultiPool bool
	Uptime    time.Duration
	Tick      types.Tick
	Pools     []worker.PoolStats
	Layers    map[Layer]int // registered processors per layer
}

// Status reports the runtime state.
func (c *Core) Status() Status {
	c.mu.Lock()
	s := Status{
		ID:        c.id,
		Started:   c.started,
		Running:   c.running,
		MultiPool: c.cfg.MultiPool,
		Tick:      c.tick,
		Layers:    make(map[Layer]int, 4),
	}
	if c.started {
		s.Uptime = c.now().Sub(c.startTime)
	}
	c.mu.Unlock()

	for _, p := range c.pools {
		s.Pools = append(s.Pools, p.Snapshot())
	}
	for _, l := range Layers() {
		s.Layers[l] = len(c.layers[l].Processors())
	}
	return s
}

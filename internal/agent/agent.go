// ============================================================================
// Cranium Agent - reference layer policy
// ============================================================================
//
// Package: internal/agent
// File: agent.go
// Function: Wires a small percept pipeline through the four layers of a
//           core, so the runtime has something to schedule.
//
// Pipeline:
//
//   Feed(tick) ──proximity──▶ sensor   (sensory_motor)
//                               │ obstacle
//                               ▼
//                             avoider  (physical)
//                               │ goal
//                               ▼
//                             planner  (mission)
//                               │ intent
//                               ▼
//                             arbiter  (core)  keeps the last intents
//
// Routing policy: every output type is bound to the layer that consumes it;
// the shared result handler submits results there.
//
// ============================================================================

package agent

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/opencranium/cranium/internal/core"
	"github.com/opencranium/cranium/internal/processor"
	"github.com/opencranium/cranium/internal/worker"
	"github.com/opencranium/cranium/internal/workspace"
	"github.com/opencranium/cranium/pkg/types"
)

var log = slog.Default()

// MemorySize is how many intents the arbiter remembers.
const MemorySize = 8

// Stage names.
const (
	Sensor  = "sensor"
	Avoider = "avoider"
	Planner = "planner"
	Arbiter = "arbiter"
)

// Types are the identities the agent registers.
type Types struct {
	Proximity types.TypeID
	Obstacle  types.TypeID
	Goal      types.TypeID
	Intent    types.TypeID
}

// Agent owns the pipeline processors.
type Agent struct {
	core   *core.Core
	types  Types
	routes map[types.TypeID]core.Layer
	stages map[string]*workspace.Processor

	handled map[string]*atomic.Int64
	arbiter *intentMemory
}

// Install registers the pipeline on c.
func Install(c *core.Core) (*Agent, error) {
	reg := c.Registry()
	id := func(name string, cat types.Category) (types.TypeID, error) {
		t, err := reg.ID(name, cat)
		if err != nil {
			return types.TypeID{}, fmt.Errorf("failed to register %s: %w", name, err)
		}
		return t, nil
	}

	var (
		ts  Types
		err error
	)
	if ts.Proximity, err = id("proximity", types.CategoryPercept); err != nil {
		return nil, err
	}
	if ts.Obstacle, err = id("obstacle", types.CategoryPercept); err != nil {
		return nil, err
	}
	if ts.Goal, err = id("goal", types.CategoryPercept); err != nil {
		return nil, err
	}
	if ts.Intent, err = id("intent", types.CategoryAction); err != nil {
		return nil, err
	}

	a := &Agent{
		core:  c,
		types: ts,
		routes: map[types.TypeID]core.Layer{
			ts.Proximity: core.LayerSensoryMotor,
			ts.Obstacle:  core.LayerPhysical,
			ts.Goal:      core.LayerMission,
			ts.Intent:    core.LayerCore,
		},
		stages:  make(map[string]*workspace.Processor, 4),
		handled: make(map[string]*atomic.Int64, 4),
		arbiter: &intentMemory{},
	}

	stages := []struct {
		name  string
		layer core.Layer
		in    types.TypeID
		out   []types.TypeID
		exec  workspace.Executor
	}{
		{Sensor, core.LayerSensoryMotor, ts.Proximity, []types.TypeID{ts.Obstacle}, a.transform(Sensor, ts.Obstacle)},
		{Avoider, core.LayerPhysical, ts.Obstacle, []types.TypeID{ts.Goal}, a.transform(Avoider, ts.Goal)},
		{Planner, core.LayerMission, ts.Goal, []types.TypeID{ts.Intent}, a.transform(Planner, ts.Intent)},
		{Arbiter, core.LayerCore, ts.Intent, nil, a.arbiter},
	}

	for _, s := range stages {
		pid, err := id(s.name, types.CategoryProcessor)
		if err != nil {
			return nil, err
		}
		a.handled[s.name] = &atomic.Int64{}
		if s.name == Arbiter {
			a.arbiter.handled = a.handled[s.name]
		}

		p, err := workspace.NewProcessor(pid, s.exec, []types.TypeID{s.in}, s.out,
			workspace.WithResultHandler(a.route),
			workspace.WithQueue(processor.WithRecorder(c.Recorder())))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", s.name, err)
		}
		if _, err := c.MustLayer(s.layer).Register(p); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", s.name, err)
		}
		a.stages[s.name] = p
	}

	log.Info("Agent installed", "core", c.ID(), "stages", len(a.stages))
	return a, nil
}

// Types returns the registered identities.
func (a *Agent) Types() Types { return a.types }

// Stage returns a pipeline processor by name.
func (a *Agent) Stage(name string) *workspace.Processor { return a.stages[name] }

// Handled returns how many items stage name has processed.
func (a *Agent) Handled(name string) int64 {
	if n, ok := a.handled[name]; ok {
		return n.Load()
	}
	return 0
}

// Intents returns the arbiter's remembered intents, oldest first.
func (a *Agent) Intents() []types.RankedItem { return a.arbiter.ShortTermMemory() }

// Feed submits one proximity percept for tick t. Its activation follows a
// slow wave so queues see varying ranks. A newer reading supersedes an
// unprocessed older one.
func (a *Agent) Feed(t types.Tick) {
	activation := int(float64(types.RankMax) * (0.5 + 0.5*math.Sin(float64(t.Number)/4)))
	item := types.NewItem(a.types.Proximity, activation, t.Number).WithSupersede(types.SameType)
	a.core.MustLayer(core.LayerSensoryMotor).Submit(item)
}

func (a *Agent) route(p *workspace.Processor, r types.RankedItem) {
	l, ok := a.routes[r.TypeID()]
	if !ok {
		log.Warn("No route for result", "processor", p, "type", r.TypeID())
		return
	}
	a.core.MustLayer(l).Submit(r)
}

// transform forwards every input as one item of type out with the same
// activation and payload.
func (a *Agent) transform(stage string, out types.TypeID) workspace.ExecutorFunc {
	return func(item types.RankedItem, c *worker.Cycle) []types.RankedItem {
		a.handled[stage].Add(1)
		// hold the result back until the next window
		if c.Expired() {
			c.Pause()
		}
		var payload any
		if it, ok := item.(*types.Item); ok {
			payload = it.Payload()
		}
		return []types.RankedItem{
			types.NewItem(out, item.Rank(), payload).WithGeneratedBy(item).WithSupersede(types.SameType),
		}
	}
}

// intentMemory is the arbiter: it keeps the last MemorySize intents.
type intentMemory struct {
	handled *atomic.Int64

	mu     sync.Mutex
	recent []types.RankedItem
}

func (m *intentMemory) Execute(item types.RankedItem, _ *worker.Cycle) []types.RankedItem {
	m.handled.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = append(m.recent, item)
	if len(m.recent) > MemorySize {
		m.recent = m.recent[len(m.recent)-MemorySize:]
	}
	return nil
}

func (m *intentMemory) CleanMemory() {
	m.mu.Lock()
	m.recent = nil
	m.mu.Unlock()
}

func (m *intentMemory) ShortTermMemory() []types.RankedItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.RankedItem(nil), m.recent...)
}

package workspace

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/opencranium/cranium/internal/processor"
	"github.com/opencranium/cranium/internal/worker"
	"github.com/opencranium/cranium/pkg/types"
)

var (
	// ErrInvalidInput is returned when an item is offered to a processor
	// that does not accept its type.
	ErrInvalidInput = errors.New("invalid input type")
	// ErrNoExecutor is returned when a workspace processor has no Executor.
	ErrNoExecutor = errors.New("processor executor is not set")
)

// Executor turns one input item into zero or more results.
type Executor interface {
	Execute(item types.RankedItem, c *worker.Cycle) []types.RankedItem
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(item types.RankedItem, c *worker.Cycle) []types.RankedItem

func (f ExecutorFunc) Execute(item types.RankedItem, c *worker.Cycle) []types.RankedItem {
	return f(item, c)
}

// IdleExecutor is implemented by executors that also do work when their
// processor is scheduled with an empty queue.
type IdleExecutor interface {
	ExecuteIdle(c *worker.Cycle) []types.RankedItem
}

// Memory is implemented by executors that keep short term state.
type Memory interface {
	CleanMemory()
	ShortTermMemory() []types.RankedItem
}

// ResultHandler receives every valid result while output is enabled.
type ResultHandler func(p *Processor, result types.RankedItem)

// SubmitToWorkspace is the default ResultHandler: results go back into
// the processor's own workspace.
func SubmitToWorkspace(p *Processor, result types.RankedItem) {
	if ws := p.Workspace(); ws != nil {
		ws.Submit(result)
	}
}

type processorOptions struct {
	handler ResultHandler
	base    []processor.Option
}

// ProcessorOption configures a workspace Processor.
type ProcessorOption func(*processorOptions)

// WithResultHandler replaces SubmitToWorkspace.
func WithResultHandler(h ResultHandler) ProcessorOption {
	return func(o *processorOptions) { o.handler = h }
}

// WithQueue passes options to the underlying queue processor.
func WithQueue(opts ...processor.Option) ProcessorOption {
	return func(o *processorOptions) { o.base = append(o.base, opts...) }
}

// Processor is a queue processor with declared input and output types.
// It implements Listener.
type Processor struct {
	*processor.Processor

	exec    Executor
	inputs  []types.TypeID
	outputs []types.TypeID
	inSet   map[types.TypeID]struct{}
	outSet  map[types.TypeID]struct{}
	handler ResultHandler

	inputEnabled  atomic.Bool
	outputEnabled atomic.Bool

	mu sync.Mutex
	ws *Workspace
}

// NewProcessor builds a processor accepting inputs and producing outputs.
// Input and output are enabled.
func NewProcessor(id types.TypeID, exec Executor, inputs, outputs []types.TypeID, opts ...ProcessorOption) (*Processor, error) {
	if exec == nil {
		return nil, ErrNoExecutor
	}
	o := processorOptions{handler: SubmitToWorkspace}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Processor{
		exec:    exec,
		handler: o.handler,
	}
	p.inputs, p.inSet = typeSet(inputs)
	p.outputs, p.outSet = typeSet(outputs)
	p.inputEnabled.Store(true)
	p.outputEnabled.Store(true)

	base, err := processor.New(id, p, o.base...)
	if err != nil {
		return nil, err
	}
	p.Processor = base
	return p, nil
}

func typeSet(ids []types.TypeID) ([]types.TypeID, map[types.TypeID]struct{}) {
	set := make(map[types.TypeID]struct{}, len(ids))
	list := make([]types.TypeID, 0, len(ids))
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		if _, dup := set[id]; dup {
			continue
		}
		set[id] = struct{}{}
		list = append(list, id)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Compare(list[j]) < 0 })
	return list, set
}

func (p *Processor) InputTypes() []types.TypeID { return append([]types.TypeID(nil), p.inputs...) }

func (p *Processor) OutputTypes() []types.TypeID { return append([]types.TypeID(nil), p.outputs...) }

func (p *Processor) IsValidInput(id types.TypeID) bool {
	_, ok := p.inSet[id]
	return ok
}

func (p *Processor) IsValidOutput(id types.TypeID) bool {
	_, ok := p.outSet[id]
	return ok
}

func (p *Processor) InputEnabled() bool { return p.inputEnabled.Load() }

// SetInputEnabled toggles input. Disabling drops everything queued.
func (p *Processor) SetInputEnabled(on bool) {
	p.inputEnabled.Store(on)
	if !on {
		p.Clear()
	}
}

func (p *Processor) OutputEnabled() bool { return p.outputEnabled.Load() }

func (p *Processor) SetOutputEnabled(on bool) { p.outputEnabled.Store(on) }

// AddProcessable queues item. Items of a type the processor does not
// accept return ErrInvalidInput; while input is disabled items are
// dropped without error.
func (p *Processor) AddProcessable(item types.RankedItem) (bool, error) {
	if item == nil {
		return false, fmt.Errorf("%s: %w: nil item", p, ErrInvalidInput)
	}
	if !p.IsValidInput(item.TypeID()) {
		return false, fmt.Errorf("%s: %w: %s", p, ErrInvalidInput, item.TypeID())
	}
	if !p.InputEnabled() {
		return false, nil
	}
	return p.Processor.AddProcessable(item), nil
}

// ProcessNext implements processor.Handler.
func (p *Processor) ProcessNext(item types.RankedItem, c *worker.Cycle) {
	p.handleResults(p.exec.Execute(item, c))
}

// ProcessNone implements processor.Handler.
func (p *Processor) ProcessNone(c *worker.Cycle) {
	if idle, ok := p.exec.(IdleExecutor); ok {
		p.handleResults(idle.ExecuteIdle(c))
	}
}

func (p *Processor) handleResults(results []types.RankedItem) {
	for _, r := range results {
		if r == nil {
			continue
		}
		if !p.IsValidOutput(r.TypeID()) {
			log.Error("Invalid output type dropped", "processor", p, "output", r.TypeID())
			continue
		}
		if !p.OutputEnabled() {
			continue
		}
		p.Recorder().RecordCreated(r.TypeID(), p.ID())
		p.handler(p, r)
	}
}

// Reset drops queued items and short term memory.
func (p *Processor) Reset() {
	p.Clear()
	if m, ok := p.exec.(Memory); ok {
		m.CleanMemory()
	}
}

// ShortTermMemory returns the executor's short term memory, if any.
func (p *Processor) ShortTermMemory() []types.RankedItem {
	if m, ok := p.exec.(Memory); ok {
		return m.ShortTermMemory()
	}
	return nil
}

// Workspace returns the workspace the processor is registered in.
func (p *Processor) Workspace() *Workspace {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ws
}

// Attach implements Attachable. A processor belongs to one workspace.
func (p *Processor) Attach(ws *Workspace) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ws != nil && p.ws != ws {
		return types.NewStateError("register", p, "already registered in "+p.ws.String())
	}
	p.ws = ws
	return nil
}

// Detach implements Attachable.
func (p *Processor) Detach(ws *Workspace) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ws == ws {
		p.ws = nil
	}
}

package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// StageFunc is one named unit of work. It receives the run so it can read
// outputs of stages that already finished; while branch stages are active
// they only ever see the start stage's output.
type StageFunc func(ctx context.Context, run *Run) (interface{}, error)

// RouterFunc inspects the start stage's output and returns the set of branch
// stages to activate. Returning an empty set routes straight to the join.
type RouterFunc func(run *Run) []string

// Engine executes a small directed graph: one start stage, a router that
// fans out to zero or more branch stages running concurrently, and a join
// stage gated on exactly the set of branches that were activated. There are
// no cycles and no stage re-invocation within one run.
type Engine struct {
	stages map[string]StageFunc
	start  string
	router RouterFunc
	join   string
}

func NewEngine() *Engine {
	return &Engine{stages: map[string]StageFunc{}}
}

// AddStage registers a named stage. Registering the same name twice is a
// wiring bug and returns an error.
func (e *Engine) AddStage(name string, fn StageFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("workflow: stage requires a name and a function")
	}
	if _, exists := e.stages[name]; exists {
		return fmt.Errorf("workflow: stage %q already registered", name)
	}
	e.stages[name] = fn
	return nil
}

func (e *Engine) SetStart(name string, router RouterFunc) {
	e.start = name
	e.router = router
}

func (e *Engine) SetJoin(name string) {
	e.join = name
}

// Run is the per-email state owned by the engine executing it. It is
// discarded once Execute returns.
type Run struct {
	ID uuid.UUID

	mu        sync.Mutex
	outputs   map[string]interface{}
	errors    map[string]error
	activated []string
}

// Output returns a finished stage's output, if it succeeded.
func (r *Run) Output(stage string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, ok := r.outputs[stage]
	return out, ok
}

// Err returns the recorded failure for a stage, if any.
func (r *Run) Err(stage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors[stage]
}

// Activated reports the branch stages the router selected for this run.
func (r *Run) Activated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.activated...)
}

// StageErrors flattens the error map for reporting.
func (r *Run) StageErrors() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errors) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.errors))
	for stage, err := range r.errors {
		out[stage] = err.Error()
	}
	return out
}

func (r *Run) setOutput(stage string, out interface{}) {
	r.mu.Lock()
	r.outputs[stage] = out
	r.mu.Unlock()
}

func (r *Run) setErr(stage string, err error) {
	r.mu.Lock()
	r.errors[stage] = err
	r.mu.Unlock()
}

// Execute routes one run through the graph. Failures never propagate past
// stage boundaries: every stage's result lands in the run's output or error
// map. If the start stage fails, the run ends without invoking the join. The
// join runs exactly once, only after every activated branch reached a
// terminal state, and proceeds with whichever predecessors succeeded.
func (e *Engine) Execute(ctx context.Context) (*Run, error) {
	startFn, ok := e.stages[e.start]
	if !ok {
		return nil, fmt.Errorf("workflow: start stage %q not registered", e.start)
	}
	joinFn, joinOK := e.stages[e.join]
	if e.join != "" && !joinOK {
		return nil, fmt.Errorf("workflow: join stage %q not registered", e.join)
	}

	run := &Run{
		ID:      uuid.New(),
		outputs: map[string]interface{}{},
		errors:  map[string]error{},
	}

	out, err := runStage(ctx, run, startFn)
	if err != nil {
		run.setErr(e.start, err)
		return run, nil
	}
	run.setOutput(e.start, out)

	// Fan-out: the router returns a set, not a single branch choice.
	activated := dedupe(e.router(run))
	for _, name := range activated {
		if _, ok := e.stages[name]; !ok {
			return nil, fmt.Errorf("workflow: routed to unregistered stage %q", name)
		}
	}
	run.mu.Lock()
	run.activated = activated
	run.mu.Unlock()

	// Fan-in barrier keyed to exactly the activated set; a stage never
	// scheduled is never waited on.
	var wg sync.WaitGroup
	for _, name := range activated {
		wg.Add(1)
		go func(name string, fn StageFunc) {
			defer wg.Done()
			out, err := runStage(ctx, run, fn)
			if err != nil {
				run.setErr(name, err)
				return
			}
			run.setOutput(name, out)
		}(name, e.stages[name])
	}
	wg.Wait()

	if joinOK {
		out, err := runStage(ctx, run, joinFn)
		if err != nil {
			run.setErr(e.join, err)
		} else {
			run.setOutput(e.join, out)
		}
	}
	return run, nil
}

// runStage invokes one stage, converting a panic into a recorded error so a
// misbehaving collaborator cannot take down sibling branches or the process.
func runStage(ctx context.Context, run *Run, fn StageFunc) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return fn(ctx, run)
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

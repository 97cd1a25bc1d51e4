package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reconmaster/internal/journal"
)

// StageOutcome is what the engine reports per stage after the run.
type StageOutcome struct {
	Name     string
	State    State
	Reason   string
	Duration time.Duration
	Resumed  bool
}

// Engine executes a stage set against one RunContext.
type Engine struct {
	rc     *RunContext
	stages map[string]Stage
	order  []string // deterministic planning order

	mu       sync.Mutex
	states   map[string]State
	reasons  map[string]string
	times    map[string]time.Duration
	resumed  map[string]bool
	started  map[string]bool
	finished chan string
}

// NewEngine plans the DAG. It fails fast on duplicate names, unknown
// dependencies, and cycles: a malformed stage set is a programming error
// surfaced before any tool runs.
func NewEngine(rc *RunContext, stages []Stage) (*Engine, error) {
	e := &Engine{
		rc:       rc,
		stages:   make(map[string]Stage, len(stages)),
		states:   make(map[string]State, len(stages)),
		reasons:  make(map[string]string),
		times:    make(map[string]time.Duration),
		resumed:  make(map[string]bool),
		started:  make(map[string]bool),
		finished: make(chan string, len(stages)),
	}
	for _, s := range stages {
		name := s.Name()
		if _, dup := e.stages[name]; dup {
			return nil, fmt.Errorf("pipeline: duplicate stage %q", name)
		}
		e.stages[name] = s
		e.states[name] = Pending
		e.order = append(e.order, name)
	}
	sort.Strings(e.order)

	for _, s := range stages {
		for _, dep := range allDeps(s) {
			if _, ok := e.stages[dep]; !ok {
				return nil, fmt.Errorf("pipeline: stage %q depends on unknown %q", s.Name(), dep)
			}
		}
	}
	if err := e.checkAcyclic(); err != nil {
		return nil, err
	}
	return e, nil
}

// StageNames returns the planned stage names, sorted.
func (e *Engine) StageNames() []string {
	return append([]string(nil), e.order...)
}

func allDeps(s Stage) []string {
	deps := append([]string(nil), s.DependsOn()...)
	if sd, ok := s.(SoftDepender); ok {
		deps = append(deps, sd.SoftDepends()...)
	}
	return deps
}

func (e *Engine) checkAcyclic() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(e.stages))
	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case grey:
			return fmt.Errorf("pipeline: dependency cycle through %q", name)
		case black:
			return nil
		}
		color[name] = grey
		for _, dep := range allDeps(e.stages[name]) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}
	for _, name := range e.order {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// Resume marks stages OK from the journal when their recorded outputs
// still exist under the run root.
func (e *Engine) Resume() {
	if e.rc.Journal == nil {
		return
	}
	for _, name := range e.order {
		rec, ok := e.rc.Journal.Lookup(name)
		if !ok || ParseState(rec.State) != OK {
			continue
		}
		intact := true
		for _, out := range rec.Outputs {
			if !e.rc.Store.Exists(out) {
				intact = false
				break
			}
		}
		if !intact {
			e.rc.Log.Warnf("resume: %s outputs missing, re-running", name)
			continue
		}
		e.states[name] = OK
		e.resumed[name] = true
		e.rc.Log.Infof("resume: %s already complete, skipping", name)
	}
}

// Run executes the DAG until every stage is terminal or ctx is cancelled.
// It returns the outcomes in planning order; cancellation is reported as
// the context error.
func (e *Engine) Run(ctx context.Context) ([]StageOutcome, error) {
	var wg sync.WaitGroup
	for !e.allTerminal() {
		if ctx.Err() != nil {
			break
		}
		launched := e.launchReady(ctx, &wg)
		if launched == 0 && !e.anyRunning() {
			// Nothing runnable and nothing in flight: remaining stages
			// wait on deps that will never complete. Resolve skips.
			if !e.resolveBlocked() {
				break
			}
			continue
		}
		select {
		case <-e.finished:
		case <-ctx.Done():
		}
	}
	wg.Wait()
	if ctx.Err() != nil {
		e.skipRemaining("cancelled")
		return e.outcomes(), ctx.Err()
	}
	return e.outcomes(), nil
}

// launchReady starts every pending stage whose dependencies are settled.
func (e *Engine) launchReady(ctx context.Context, wg *sync.WaitGroup) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	launched := 0
	for _, name := range e.order {
		if e.states[name] != Pending || e.started[name] {
			continue
		}
		stage := e.stages[name]

		ready, skip, reason := e.depStatusLocked(stage)
		if skip {
			e.finishLocked(name, Result{State: Skipped, Reason: reason}, 0)
			continue
		}
		if !ready {
			continue
		}

		if missing := e.rc.Tools.Missing(stage.RequiredTools()); len(missing) > 0 {
			e.finishLocked(name, Result{State: Skipped, Reason: fmt.Sprintf("tool missing: %v", missing)}, 0)
			continue
		}

		e.started[name] = true
		e.states[name] = Running
		wg.Add(1)
		launched++
		go func(name string, stage Stage) {
			defer wg.Done()
			e.execute(ctx, name, stage)
		}(name, stage)
	}
	return launched
}

// depStatusLocked reports whether a stage may start, must be skipped, or
// still waits. Hard deps propagate skips; soft deps only gate ordering.
func (e *Engine) depStatusLocked(stage Stage) (ready, skip bool, reason string) {
	for _, dep := range stage.DependsOn() {
		switch e.states[dep] {
		case OK:
		case Failed:
			return false, true, fmt.Sprintf("dependency %s failed", dep)
		case Skipped:
			return false, true, fmt.Sprintf("dependency %s skipped", dep)
		default:
			return false, false, ""
		}
	}
	if sd, ok := stage.(SoftDepender); ok {
		for _, dep := range sd.SoftDepends() {
			switch e.states[dep] {
			case OK, Failed, Skipped:
			default:
				return false, false, ""
			}
		}
	}
	return true, false, ""
}

func (e *Engine) execute(ctx context.Context, name string, stage Stage) {
	budget := e.rc.Cfg.Limits.StageTimeout
	if b, ok := stage.(Budgeter); ok && b.Budget() > 0 {
		budget = b.Budget()
	}
	stageCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	e.rc.Log.Infof("stage %s: starting", name)
	start := time.Now()
	res := stage.Run(stageCtx, e.rc)
	elapsed := time.Since(start)

	if res.State == Failed && stageCtx.Err() == context.DeadlineExceeded {
		res = Result{State: Skipped, Reason: "timeout"}
	}
	if ctx.Err() == context.Canceled {
		res = Result{State: Skipped, Reason: "cancelled"}
	}

	// OK means every declared output actually landed inside the run root.
	if res.State == OK {
		for _, out := range res.Outputs {
			if !e.rc.Store.Exists(out) {
				res = Fail(fmt.Errorf("stage %s: declared output %s missing", name, out))
				break
			}
		}
	}

	e.mu.Lock()
	e.finishLocked(name, res, elapsed)
	e.mu.Unlock()
}

// finishLocked records a terminal transition, journals it, and wakes the
// scheduler.
func (e *Engine) finishLocked(name string, res Result, elapsed time.Duration) {
	e.states[name] = res.State
	e.reasons[name] = res.Reason
	e.times[name] = elapsed

	switch res.State {
	case OK:
		e.rc.Log.Infof("stage %s: ok (%s)", name, elapsed.Round(time.Millisecond))
	case Skipped:
		e.rc.Log.Warnf("stage %s: skipped (%s)", name, res.Reason)
	case Failed:
		e.rc.Log.Errorf("stage %s: failed: %v", name, res.Err)
	}

	if e.rc.Journal != nil && res.Reason != "cancelled" {
		_ = e.rc.Journal.Append(journal.StageRecord{
			Name:       name,
			State:      res.State.String(),
			Reason:     res.Reason,
			Outputs:    res.Outputs,
			FinishedAt: time.Now().UTC(),
			Duration:   elapsed.Round(time.Millisecond).String(),
		})
	}

	select {
	case e.finished <- name:
	default:
	}
}

func (e *Engine) allTerminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range e.order {
		if e.states[name] == Pending || e.states[name] == Running {
			return false
		}
	}
	return true
}

func (e *Engine) anyRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range e.order {
		if e.states[name] == Running {
			return true
		}
	}
	return false
}

// resolveBlocked settles pending stages that can never start. Returns
// true if it changed anything.
func (e *Engine) resolveBlocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := false
	for _, name := range e.order {
		if e.states[name] != Pending || e.started[name] {
			continue
		}
		_, skip, reason := e.depStatusLocked(e.stages[name])
		if !skip {
			reason = "unreachable"
		}
		e.finishLocked(name, Result{State: Skipped, Reason: reason}, 0)
		changed = true
	}
	return changed
}

func (e *Engine) skipRemaining(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range e.order {
		if e.states[name] == Pending || e.states[name] == Running {
			e.states[name] = Skipped
			e.reasons[name] = reason
		}
	}
}

func (e *Engine) outcomes() []StageOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StageOutcome, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, StageOutcome{
			Name:     name,
			State:    e.states[name],
			Reason:   e.reasons[name],
			Duration: e.times[name],
			Resumed:  e.resumed[name],
		})
	}
	return out
}

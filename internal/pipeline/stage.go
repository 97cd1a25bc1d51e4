// Package pipeline builds the stage DAG and executes it: dependencies
// strictly order stages, independent stages fan out through the governor,
// and every terminal transition is journaled for resume.
package pipeline

import (
	"context"
	"time"
)

// State is a stage's lifecycle state. Transitions are monotonic within a
// run; only resume may reload a prior OK.
type State int

const (
	Pending State = iota
	Running
	OK
	Failed
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case OK:
		return "ok"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// ParseState is the inverse of State.String, for journal records.
func ParseState(s string) State {
	switch s {
	case "running":
		return Running
	case "ok":
		return OK
	case "failed":
		return Failed
	case "skipped":
		return Skipped
	}
	return Pending
}

// Result is a stage's terminal outcome.
type Result struct {
	State   State
	Reason  string   // populated for Skipped and Failed
	Err     error    // populated for Failed
	Outputs []string // artifact paths relative to the run root
}

// Ok builds an OK result over the given outputs.
func Ok(outputs ...string) Result {
	return Result{State: OK, Outputs: outputs}
}

// Skip builds a Skipped result with a reason.
func Skip(reason string) Result {
	return Result{State: Skipped, Reason: reason}
}

// Fail builds a Failed result.
func Fail(err error) Result {
	return Result{State: Failed, Err: err, Reason: err.Error()}
}

// Stage is one named, resumable unit of work.
type Stage interface {
	Name() string
	// DependsOn lists hard dependencies: the stage is skipped when any
	// of them fails or is skipped.
	DependsOn() []string
	// RequiredTools lists binaries that must resolve for the stage to
	// run; any missing tool skips the stage with a recorded reason.
	RequiredTools() []string
	Run(ctx context.Context, rc *RunContext) Result
}

// SoftDepender marks stages whose extra dependencies only order
// execution: the stage still runs after they reach a terminal state,
// whatever that state is. The aggregate stage depends on everything
// this way.
type SoftDepender interface {
	SoftDepends() []string
}

// Budgeter overrides the default wall-clock budget for a stage.
type Budgeter interface {
	Budget() time.Duration
}

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"reconmaster/internal/artifact"
	"reconmaster/internal/config"
	"reconmaster/internal/govern"
	"reconmaster/internal/journal"
	"reconmaster/internal/logging"
	"reconmaster/internal/runner"
	"reconmaster/internal/target"
	"reconmaster/internal/toolreg"
)

// RunContext carries everything a stage needs. It replaces global state:
// config, logger, registry, governor, and store all travel together.
type RunContext struct {
	Cfg       *config.Config
	Target    string
	Scope     *target.Scope
	Log       *logging.Logger
	Tools     *toolreg.Registry
	Runner    runner.Exec
	Governor  *govern.Governor
	Breakers  *govern.BreakerSet
	Store     *artifact.Store
	Journal   *journal.Journal
	RunID     string
	StartedAt time.Time
}

// Invoke runs one tool invocation through the governor. host may be empty
// for invocations that do not touch a single target host (passive
// enumeration); when set, the per-host breaker and pacing apply. The
// caller still owns interpretation of exit codes.
func (rc *RunContext) Invoke(ctx context.Context, host string, inv runner.Invocation) (*runner.Result, error) {
	if host != "" {
		if err := rc.Breakers.Allow(host); err != nil {
			return nil, err
		}
	}

	if err := rc.Governor.Acquire(ctx); err != nil {
		return nil, err
	}
	defer rc.Governor.Release()

	if host != "" {
		if err := rc.Governor.Pace(ctx, host); err != nil {
			return nil, err
		}
	}

	if inv.MaxOutput == 0 {
		inv.MaxOutput = rc.Cfg.Limits.MaxOutputBytes
	}
	if inv.Deadline == 0 {
		inv.Deadline = rc.Cfg.Limits.ToolTimeout
	}

	id := uuid.NewString()[:8]
	rc.Log.Debugf("invoke %s: %v (host=%s)", id, inv.Argv, host)

	res, err := rc.Runner.Run(ctx, inv)
	// The breaker verdict is the calling stage's job: only it can tell a
	// clean run from a 403/429 buried in tool output. Invoke never
	// records, so a stage's failure verdict is not reset underneath it.
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return res, err
		}
		rc.Log.Warnf("invoke %s failed: %v", id, err)
		return res, err
	}
	if res.TimedOut {
		rc.Log.Warnf("invoke %s: kill-reason=%s after %s", id, res.KillReason, res.Duration.Round(time.Millisecond))
	} else {
		rc.Log.Debugf("invoke %s: exit=%d duration=%s stdout=%dB", id, res.ExitCode, res.Duration.Round(time.Millisecond), len(res.Stdout))
	}
	return res, nil
}

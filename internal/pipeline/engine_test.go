package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"reconmaster/internal/artifact"
	"reconmaster/internal/config"
	"reconmaster/internal/govern"
	"reconmaster/internal/journal"
	"reconmaster/internal/logging"
	"reconmaster/internal/runner"
	"reconmaster/internal/target"
	"reconmaster/internal/toolreg"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubStage is a scriptable stage for engine tests.
type stubStage struct {
	name    string
	deps    []string
	soft    []string
	tools   []string
	budget  time.Duration
	run     func(ctx context.Context, rc *RunContext) Result
	started atomic.Bool
}

func (s *stubStage) Name() string            { return s.name }
func (s *stubStage) DependsOn() []string     { return s.deps }
func (s *stubStage) SoftDepends() []string   { return s.soft }
func (s *stubStage) RequiredTools() []string { return s.tools }
func (s *stubStage) Budget() time.Duration   { return s.budget }

func (s *stubStage) Run(ctx context.Context, rc *RunContext) Result {
	s.started.Store(true)
	if s.run != nil {
		return s.run(ctx, rc)
	}
	return Ok()
}

// countingRunner counts spawns and pretends everything succeeds.
type countingRunner struct {
	spawns atomic.Int64
}

func (r *countingRunner) Run(ctx context.Context, inv runner.Invocation) (*runner.Result, error) {
	r.spawns.Add(1)
	return &runner.Result{ExitCode: 0}, nil
}

func testContext(t *testing.T, run runner.Exec) *RunContext {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	cfg.Scan.Targets = []string{"example.com"}
	scope, err := target.NewScope(nil, nil)
	require.NoError(t, err)
	if run == nil {
		run = &countingRunner{}
	}
	return &RunContext{
		Cfg:       cfg,
		Target:    "example.com",
		Scope:     scope,
		Log:       logging.NewDiscard(),
		Tools:     toolreg.New(nil, t.TempDir()),
		Runner:    run,
		Governor:  govern.New(cfg.Limits.Threads, 0),
		Breakers:  govern.NewBreakerSet(govern.DefaultBreakerConfig()),
		Store:     store,
		Journal:   journal.New(filepath.Join(store.Root(), artifact.JournalFile), "run", "hash"),
		StartedAt: time.Now(),
	}
}

func TestDependencyOrdering(t *testing.T) {
	rc := testContext(t, nil)

	var mu sync.Mutex
	var order []string
	note := func(name string) func(context.Context, *RunContext) Result {
		return func(context.Context, *RunContext) Result {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return Ok()
		}
	}

	e, err := NewEngine(rc, []Stage{
		&stubStage{name: "b", deps: []string{"a"}, run: note("b")},
		&stubStage{name: "a", run: note("a")},
		&stubStage{name: "c", deps: []string{"b"}, run: note("c")},
	})
	require.NoError(t, err)

	outcomes, err := e.Run(context.Background())
	require.NoError(t, err)
	for _, o := range outcomes {
		assert.Equal(t, OK, o.State, o.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestSkipPropagation(t *testing.T) {
	rc := testContext(t, nil)

	downstream := &stubStage{name: "probe", deps: []string{"enum"}}
	further := &stubStage{name: "crawl", deps: []string{"probe"}}
	e, err := NewEngine(rc, []Stage{
		&stubStage{name: "enum", tools: []string{"no-such-enumerator"}},
		downstream,
		further,
	})
	require.NoError(t, err)

	outcomes, err := e.Run(context.Background())
	require.NoError(t, err)

	byName := map[string]StageOutcome{}
	for _, o := range outcomes {
		byName[o.Name] = o
	}
	assert.Equal(t, Skipped, byName["enum"].State)
	assert.Contains(t, byName["enum"].Reason, "tool missing")
	assert.Equal(t, Skipped, byName["probe"].State)
	assert.Contains(t, byName["probe"].Reason, "enum")
	assert.Equal(t, Skipped, byName["crawl"].State)
	assert.False(t, downstream.started.Load(), "skipped stage must not run")
	assert.False(t, further.started.Load())
}

func TestSoftDepsRunAfterSkips(t *testing.T) {
	rc := testContext(t, nil)

	agg := &stubStage{name: "aggregate", soft: []string{"good", "bad"}}
	e, err := NewEngine(rc, []Stage{
		&stubStage{name: "good"},
		&stubStage{name: "bad", tools: []string{"no-such-tool"}},
		agg,
	})
	require.NoError(t, err)

	outcomes, err := e.Run(context.Background())
	require.NoError(t, err)

	byName := map[string]StageOutcome{}
	for _, o := range outcomes {
		byName[o.Name] = o
	}
	assert.Equal(t, OK, byName["aggregate"].State, "soft dep skip must not cascade")
	assert.True(t, agg.started.Load())
}

func TestFailureDoesNotAbortIndependentStages(t *testing.T) {
	rc := testContext(t, nil)

	e, err := NewEngine(rc, []Stage{
		&stubStage{name: "broken", run: func(context.Context, *RunContext) Result {
			return Fail(assert.AnError)
		}},
		&stubStage{name: "independent"},
		&stubStage{name: "dependent", deps: []string{"broken"}},
	})
	require.NoError(t, err)

	outcomes, err := e.Run(context.Background())
	require.NoError(t, err)

	byName := map[string]StageOutcome{}
	for _, o := range outcomes {
		byName[o.Name] = o
	}
	assert.Equal(t, Failed, byName["broken"].State)
	assert.Equal(t, OK, byName["independent"].State)
	assert.Equal(t, Skipped, byName["dependent"].State)
}

func TestCycleDetected(t *testing.T) {
	rc := testContext(t, nil)
	_, err := NewEngine(rc, []Stage{
		&stubStage{name: "a", deps: []string{"b"}},
		&stubStage{name: "b", deps: []string{"a"}},
	})
	assert.Error(t, err)
}

func TestUnknownDependencyRejected(t *testing.T) {
	rc := testContext(t, nil)
	_, err := NewEngine(rc, []Stage{
		&stubStage{name: "a", deps: []string{"ghost"}},
	})
	assert.Error(t, err)
}

func TestResumeSkipsCompletedStages(t *testing.T) {
	run := &countingRunner{}
	rc := testContext(t, run)

	// First run: stage writes its artifact through one invocation.
	work := func(ctx context.Context, rc *RunContext) Result {
		if _, err := rc.Runner.Run(ctx, runner.Invocation{Argv: []string{"/bin/true"}}); err != nil {
			return Fail(err)
		}
		if err := rc.Store.WriteLines(artifact.PassiveSubs, []string{"x.example.com"}); err != nil {
			return Fail(err)
		}
		return Ok(artifact.PassiveSubs)
	}
	e, err := NewEngine(rc, []Stage{&stubStage{name: "passive_enum", run: work}})
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), run.spawns.Load())

	// Resume against the same journal: zero new spawns.
	e2, err := NewEngine(rc, []Stage{&stubStage{name: "passive_enum", run: work}})
	require.NoError(t, err)
	e2.Resume()
	outcomes, err := e2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OK, outcomes[0].State)
	assert.True(t, outcomes[0].Resumed)
	assert.Equal(t, int64(1), run.spawns.Load(), "resume must not re-invoke tools")
}

func TestResumeReRunsWhenArtifactMissing(t *testing.T) {
	rc := testContext(t, nil)
	// Journal claims OK but the artifact never existed.
	require.NoError(t, rc.Journal.Append(journal.StageRecord{
		Name: "s", State: "ok", Outputs: []string{"subdomains/passive.txt"},
	}))

	st := &stubStage{name: "s", run: func(ctx context.Context, rc *RunContext) Result {
		if err := rc.Store.WriteLines(artifact.PassiveSubs, []string{"a.example.com"}); err != nil {
			return Fail(err)
		}
		return Ok(artifact.PassiveSubs)
	}}
	e, err := NewEngine(rc, []Stage{st})
	require.NoError(t, err)
	e.Resume()
	outcomes, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, st.started.Load(), "missing artifact must force re-execution")
	assert.Equal(t, OK, outcomes[0].State)
}

func TestGovernorBoundAcrossStages(t *testing.T) {
	rc := testContext(t, nil)
	rc.Governor = govern.New(2, 0)

	var inFlight, peak atomic.Int64
	busy := func(ctx context.Context, rc *RunContext) Result {
		for i := 0; i < 5; i++ {
			if err := rc.Governor.Acquire(ctx); err != nil {
				return Fail(err)
			}
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			rc.Governor.Release()
		}
		return Ok()
	}

	e, err := NewEngine(rc, []Stage{
		&stubStage{name: "s1", run: busy},
		&stubStage{name: "s2", run: busy},
		&stubStage{name: "s3", run: busy},
		&stubStage{name: "s4", run: busy},
	})
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestCancellationPropagates(t *testing.T) {
	rc := testContext(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	blocker := &stubStage{name: "slow", run: func(ctx context.Context, rc *RunContext) Result {
		<-ctx.Done()
		return Skip("cancelled")
	}}
	e, err := NewEngine(rc, []Stage{
		blocker,
		&stubStage{name: "after", deps: []string{"slow"}},
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcomes, runErr := e.Run(ctx)
	assert.ErrorIs(t, runErr, context.Canceled)
	assert.Less(t, time.Since(start), 3*time.Second, "cancellation must be prompt")

	byName := map[string]StageOutcome{}
	for _, o := range outcomes {
		byName[o.Name] = o
	}
	assert.Equal(t, Skipped, byName["slow"].State)
	assert.Equal(t, Skipped, byName["after"].State)
}

func TestStageBudgetEnforced(t *testing.T) {
	rc := testContext(t, nil)

	e, err := NewEngine(rc, []Stage{
		&stubStage{name: "laggard", budget: 100 * time.Millisecond, run: func(ctx context.Context, rc *RunContext) Result {
			select {
			case <-ctx.Done():
				return Skip("timeout")
			case <-time.After(10 * time.Second):
				return Ok()
			}
		}},
	})
	require.NoError(t, err)

	start := time.Now()
	outcomes, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Skipped, outcomes[0].State)
	assert.Equal(t, "timeout", outcomes[0].Reason)
	assert.Less(t, time.Since(start), 5*time.Second)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reconmaster/internal/artifact"
	"reconmaster/internal/config"
	"reconmaster/internal/govern"
	"reconmaster/internal/journal"
	"reconmaster/internal/logging"
	"reconmaster/internal/notify"
	"reconmaster/internal/pipeline"
	"reconmaster/internal/report"
	"reconmaster/internal/runner"
	"reconmaster/internal/stages"
	"reconmaster/internal/target"
	"reconmaster/internal/toolreg"
)

const runTimestampLayout = "20060102T150405Z"

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return &exitError{code: exitInvalid, err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{code: exitInvalid, err: err}
	}
	if !cfg.Scan.Authorized {
		return &exitError{
			code: exitInvalid,
			err:  errors.New("refusing to scan: pass --i-understand-this-requires-authorization"),
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	anyFailed := false
	for _, raw := range cfg.Scan.Targets {
		fqdn, err := target.Normalize(raw)
		if err != nil {
			return &exitError{code: exitInvalid, err: err}
		}
		if err := target.Verify(ctx, nil, fqdn); err != nil {
			return &exitError{code: exitInvalid, err: err}
		}
		failed, err := runOne(ctx, cfg, fqdn)
		if err != nil {
			return err
		}
		anyFailed = anyFailed || failed
		if ctx.Err() != nil {
			return &exitError{code: exitInternal, err: errors.New("scan cancelled")}
		}
	}
	if anyFailed && cfg.Scan.Strict {
		return &exitError{code: exitFailed, err: errors.New("one or more stages failed")}
	}
	return nil
}

// runOne executes the full pipeline for a single target. It returns
// whether any stage failed, and an error only for fatal conditions.
func runOne(ctx context.Context, cfg *config.Config, fqdn string) (bool, error) {
	scope, err := target.NewScope(cfg.Scan.Include, cfg.Scan.Exclude)
	if err != nil {
		return false, &exitError{code: exitInvalid, err: err}
	}

	stageSet := stages.All(cfg)
	stageNames := make([]string, 0, len(stageSet))
	for _, s := range stageSet {
		stageNames = append(stageNames, s.Name())
	}
	configHash := cfg.Hash(stageNames)

	runDir, jnl, resumed, err := openRun(cfg, fqdn, configHash)
	if err != nil {
		return false, err
	}

	store, err := artifact.NewStore(runDir)
	if err != nil {
		return false, &exitError{code: exitInternal, err: err}
	}

	logPath := filepath.Join(store.Root(), artifact.ScanLog)
	log, err := logging.New(logPath, logger.Sugar(), flagVerbose)
	if err != nil {
		return false, &exitError{code: exitInternal, err: err}
	}
	defer log.Close()

	localBin := cfg.Tools.LocalBin
	if localBin == "" {
		if exe, err := os.Executable(); err == nil {
			localBin = filepath.Join(filepath.Dir(exe), "bin")
		}
	}

	rc := &pipeline.RunContext{
		Cfg:    cfg,
		Target: fqdn,
		Scope:  scope,
		Log:    log,
		Tools:  toolreg.New(cfg.Tools.Overrides, localBin),
		Runner: runner.NewLocal(cfg.Tools.AllowedEnv),
		Governor: govern.New(cfg.Limits.Threads, cfg.Limits.PerHostRPS),
		Breakers: govern.NewBreakerSet(govern.BreakerConfig{
			Threshold:   cfg.Limits.BreakerThreshold,
			Cooldown:    cfg.Limits.BreakerCooldown,
			CooldownCap: cfg.Limits.BreakerCooldownCap,
		}),
		Store:     store,
		Journal:   jnl,
		RunID:     filepath.Base(runDir),
		StartedAt: time.Now(),
	}

	log.Infof("run %s: target=%s threads=%d passive_only=%v resume=%v",
		rc.RunID, fqdn, cfg.Limits.Threads, cfg.Scan.PassiveOnly, resumed)

	engine, err := pipeline.NewEngine(rc, stageSet)
	if err != nil {
		return false, &exitError{code: exitInternal, err: err}
	}
	if resumed {
		engine.Resume()
	}

	outcomes, runErr := engine.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return false, &exitError{code: exitInternal, err: runErr}
	}
	if errors.Is(runErr, context.Canceled) {
		store.RemoveTemp()
	}

	anyFailed := false
	for _, o := range outcomes {
		if o.State == pipeline.Failed {
			anyFailed = true
		}
	}

	printResults(store)
	notifySummary(ctx, cfg, store, log)
	return anyFailed, nil
}

// openRun creates a fresh run directory, or locates the newest previous
// one under --resume. A config mismatch on resume is fatal: resuming a
// different scan would silently mix artifacts.
func openRun(cfg *config.Config, fqdn, configHash string) (runDir string, jnl *journal.Journal, resumed bool, err error) {
	parent, err := filepath.Abs(cfg.Scan.OutputDir)
	if err != nil {
		return "", nil, false, &exitError{code: exitInvalid, err: err}
	}

	if flagResume {
		if prev := latestRunDir(parent, fqdn); prev != "" {
			loaded, err := journal.Load(filepath.Join(prev, artifact.JournalFile), configHash)
			if err == nil {
				return prev, loaded, true, nil
			}
			if errors.Is(err, journal.ErrConfigMismatch) {
				return "", nil, false, &exitError{
					code: exitInvalid,
					err:  fmt.Errorf("cannot resume %s: target, scope, or stage set changed: %w", prev, err),
				}
			}
			logger.Sugar().Warnf("resume: no usable journal in %s (%v), starting fresh", prev, err)
		} else {
			logger.Sugar().Warnf("resume: no previous run for %s, starting fresh", fqdn)
		}
	}

	runDir = filepath.Join(parent, fmt.Sprintf("%s_%s", fqdn, time.Now().UTC().Format(runTimestampLayout)))
	jnl = journal.New(filepath.Join(runDir, artifact.JournalFile), filepath.Base(runDir), configHash)
	return runDir, jnl, false, nil
}

// latestRunDir returns the newest run directory for fqdn, relying on the
// sortable UTC timestamp suffix.
func latestRunDir(parent, fqdn string) string {
	entries, err := os.ReadDir(parent)
	if err != nil {
		return ""
	}
	var candidates []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), fqdn+"_") {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Strings(candidates)
	return filepath.Join(parent, candidates[len(candidates)-1])
}

// printResults renders the stage table and the executive summary.
func printResults(store *artifact.Store) {
	summary, err := report.Load(store)
	if err != nil {
		return
	}
	fmt.Println()
	fmt.Print(report.StageTable(summary))
	if md, err := store.ReadBytes(artifact.SummaryMD); err == nil {
		fmt.Println()
		fmt.Print(report.RenderMarkdown(md))
	}
	fmt.Printf("\nArtifacts: %s\n", store.Root())
}

// notifySummary fires the webhook, if configured. Failures are logged
// and do not affect the exit code.
func notifySummary(ctx context.Context, cfg *config.Config, store *artifact.Store, log *logging.Logger) {
	if cfg.Scan.WebhookURL == "" {
		return
	}
	data, err := store.ReadBytes(artifact.SummaryJSON)
	if err != nil {
		log.Warnf("notify: no summary to deliver: %v", err)
		return
	}
	var n notify.Notifier = notify.NewWebhook(cfg.Scan.WebhookURL)
	if err := n.Notify(ctx, data); err != nil {
		log.Warnf("notify: %v", err)
	} else {
		log.Infof("notify: summary delivered")
	}
}

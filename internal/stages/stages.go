// Package stages implements the recon stage catalog: enumeration,
// resolution, probing, crawling, scanning, and the final aggregation and
// reporting passes. Each stage wraps one or more external tools behind
// the pipeline's governor and breaker.
package stages

import (
	"context"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"reconmaster/internal/artifact"
	"reconmaster/internal/config"
	"reconmaster/internal/pipeline"
	"reconmaster/internal/runner"
)

// All returns the stage set for the given config, in catalog order.
// Active stages are omitted entirely under passive-only so the DAG and
// the config hash reflect what can actually run.
func All(cfg *config.Config) []pipeline.Stage {
	stages := []pipeline.Stage{
		&PassiveEnum{},
	}
	if !cfg.Scan.PassiveOnly {
		stages = append(stages, &WordlistEnum{})
	}
	stages = append(stages, &MergeSubdomains{passiveOnly: cfg.Scan.PassiveOnly})
	if !cfg.Scan.PassiveOnly {
		long := longBudget{d: cfg.Limits.LongStageTimeout}
		stages = append(stages,
			&DNSResolve{},
			&ProbeHTTP{},
			&Screenshot{},
			&TakeoverCheck{},
			&Crawl{},
			&JSAnalyze{},
			&ParamDiscover{},
			&DirFuzz{longBudget: long},
			&PortScan{longBudget: long},
			&VulnScan{longBudget: long},
		)
	}
	after := make([]string, 0, len(stages))
	for _, s := range stages {
		after = append(after, s.Name())
	}
	stages = append(stages, &Aggregate{after: after}, &Report{html: cfg.Report.HTML})
	return stages
}

// invokeTool resolves name through the registry and runs it. host gates
// the breaker and pacing; empty means untargeted.
func invokeTool(ctx context.Context, rc *pipeline.RunContext, host, name string, args []string, opt func(*runner.Invocation)) (*runner.Result, error) {
	bin, err := rc.Tools.Locate(name)
	if err != nil {
		return nil, err
	}
	inv := runner.Invocation{
		Argv: append([]string{bin}, args...),
		Dir:  rc.Store.Root(),
	}
	if opt != nil {
		opt(&inv)
	}
	return rc.Invoke(ctx, host, inv)
}

// jsonLines iterates valid JSON objects in line-delimited tool output,
// salvaging what parses and counting what does not.
func jsonLines(data []byte, fn func(gjson.Result)) (parsed, bad int) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			bad++
			continue
		}
		parsed++
		fn(gjson.Parse(line))
	}
	return parsed, bad
}

// liveHosts reads subdomains/live.txt, the fan-out input for the
// post-probe stages.
func liveHosts(rc *pipeline.RunContext) ([]string, error) {
	return rc.Store.ReadLines(artifact.LiveHosts)
}

// capped returns at most n elements of hosts, preserving canonical order.
func capped(hosts []string, n int) []string {
	if n > 0 && len(hosts) > n {
		return hosts[:n]
	}
	return hosts
}

// httpFailure reports whether an HTTP status counts against the breaker.
func httpFailure(status int64) bool {
	return status == 403 || status == 429 || status >= 500
}

// longBudget is embedded by stages with the extended wall-clock budget.
type longBudget struct {
	d time.Duration
}

func (b longBudget) Budget() time.Duration { return b.d }

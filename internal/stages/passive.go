package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"reconmaster/internal/artifact"
	"reconmaster/internal/pipeline"
	"reconmaster/internal/toolreg"
)

// passiveTools run in parallel; their outputs are unioned. A tool that is
// missing or fails only costs its own contribution.
var passiveTools = []struct {
	name string
	args func(target string) []string
}{
	{"subfinder", func(t string) []string { return []string{"-d", t, "-silent", "-all"} }},
	{"assetfinder", func(t string) []string { return []string{"--subs-only", t} }},
	{"amass", func(t string) []string { return []string{"enum", "-passive", "-d", t, "-nocolor"} }},
}

// PassiveEnum unions the passive subdomain enumerators into
// subdomains/passive.txt.
type PassiveEnum struct{}

func (s *PassiveEnum) Name() string          { return "passive_enum" }
func (s *PassiveEnum) DependsOn() []string   { return nil }
func (s *PassiveEnum) RequiredTools() []string { return nil }

func (s *PassiveEnum) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	var (
		mu    sync.Mutex
		found []string
		ran   int
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, tool := range passiveTools {
		g.Go(func() error {
			res, err := invokeTool(gctx, rc, "", tool.name, tool.args(rc.Target), nil)
			if err != nil {
				if errors.Is(err, toolreg.ErrNotInstalled) {
					rc.Log.Warnf("passive_enum: %s not installed, skipping", tool.name)
				} else {
					rc.Log.Warnf("passive_enum: %s failed: %v", tool.name, err)
				}
				return nil // one tool's failure does not fail the stage
			}
			if res.TimedOut {
				rc.Log.Warnf("passive_enum: %s timed out, keeping partial output", tool.name)
			}
			hosts := hostLines(res.Stdout)
			mu.Lock()
			found = append(found, hosts...)
			ran++
			mu.Unlock()
			rc.Log.Infof("passive_enum: %s returned %d names", tool.name, len(hosts))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pipeline.Fail(err)
	}
	if ctx.Err() != nil {
		return pipeline.Skip("cancelled")
	}
	if ran == 0 {
		return pipeline.Skip("tool missing: no passive enumerator available")
	}

	if err := rc.Store.WriteLines(artifact.PassiveSubs, found); err != nil {
		return pipeline.Fail(fmt.Errorf("passive_enum: %w", err))
	}
	return pipeline.Ok(artifact.PassiveSubs)
}

// hostLines extracts plausible hostnames from raw line output, dropping
// tool banners and noise.
func hostLines(out []byte) []string {
	var hosts []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" || strings.ContainsAny(line, " \t[") || !strings.Contains(line, ".") {
			continue
		}
		hosts = append(hosts, line)
	}
	return hosts
}

package stages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"reconmaster/internal/artifact"
	"reconmaster/internal/govern"
	"reconmaster/internal/pipeline"
)

// ParamDiscover runs arjun against a capped slice of crawled URLs to
// surface hidden query parameters.
type ParamDiscover struct{}

func (s *ParamDiscover) Name() string            { return "param_discover" }
func (s *ParamDiscover) DependsOn() []string     { return []string{"probe_http", "crawl"} }
func (s *ParamDiscover) RequiredTools() []string { return []string{"arjun"} }

func (s *ParamDiscover) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	urls, err := rc.Store.ReadLines(artifact.CrawledURLs)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("param_discover: %w", err))
	}
	urls = capped(urls, rc.Cfg.Limits.ParamURLCap)
	if len(urls) == 0 {
		if err := rc.Store.WriteLines(artifact.Parameters, nil); err != nil {
			return pipeline.Fail(err)
		}
		return pipeline.Ok(artifact.Parameters)
	}

	// arjun reads targets and writes results through files; both live
	// under the run root and the scratch pair is removed afterwards.
	inAbs, err := rc.Store.Guard().Resolve("params/.targets.txt")
	if err != nil {
		return pipeline.Fail(err)
	}
	outAbs, err := rc.Store.Guard().Resolve("params/.arjun_out.txt")
	if err != nil {
		return pipeline.Fail(err)
	}
	if err := os.WriteFile(inAbs, []byte(strings.Join(urls, "\n")+"\n"), 0o644); err != nil {
		return pipeline.Fail(fmt.Errorf("param_discover: %w", err))
	}
	defer os.Remove(inAbs)
	defer os.Remove(outAbs)

	res, err := invokeTool(ctx, rc, rc.Target, "arjun", []string{"-i", inAbs, "-oT", outAbs, "--stable"}, nil)
	switch {
	case errors.Is(err, govern.ErrCircuitOpen):
		rc.Log.Warnf("param_discover: skipped: circuit-open")
		return pipeline.Skip("circuit-open")
	case errors.Is(err, context.Canceled):
		return pipeline.Skip("cancelled")
	case err != nil:
		return pipeline.Fail(fmt.Errorf("param_discover: %w", err))
	}
	rc.Breakers.Record(rc.Target, !res.TimedOut)
	if res.TimedOut {
		rc.Log.Warnf("param_discover: arjun timed out, keeping partial output")
	}

	var params []string
	if data, err := os.ReadFile(outAbs); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				params = append(params, line)
			}
		}
	}

	rc.Log.Infof("param_discover: %d parameters across %d urls", len(params), len(urls))
	if err := rc.Store.WriteLines(artifact.Parameters, params); err != nil {
		return pipeline.Fail(err)
	}
	return pipeline.Ok(artifact.Parameters)
}

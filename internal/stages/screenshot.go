package stages

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"reconmaster/internal/artifact"
	"reconmaster/internal/govern"
	"reconmaster/internal/pipeline"
)

// Screenshot captures one PNG per live host with gowitness. A failed
// host only loses its own screenshot.
type Screenshot struct{}

func (s *Screenshot) Name() string            { return "screenshot" }
func (s *Screenshot) DependsOn() []string     { return []string{"probe_http"} }
func (s *Screenshot) RequiredTools() []string { return []string{"gowitness"} }

func (s *Screenshot) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	hosts, err := liveHosts(rc)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("screenshot: %w", err))
	}
	outDir, err := rc.Store.Guard().Resolve(artifact.ScreenshotDir)
	if err != nil {
		return pipeline.Fail(err)
	}

	var captured atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, host := range hosts {
		g.Go(func() error {
			args := []string{"scan", "single", "-u", "https://" + host, "--screenshot-path", outDir, "--disable-db"}
			res, err := invokeTool(gctx, rc, host, "gowitness", args, nil)
			switch {
			case errors.Is(err, govern.ErrCircuitOpen):
				rc.Log.Warnf("screenshot: %s skipped: circuit-open", host)
			case errors.Is(err, context.Canceled):
			case err != nil:
				rc.Log.Warnf("screenshot: %s: %v", host, err)
			default:
				rc.Breakers.Record(host, !res.TimedOut)
				if !res.TimedOut {
					captured.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return pipeline.Skip("cancelled")
	}

	rc.Log.Infof("screenshot: captured %d of %d hosts", captured.Load(), len(hosts))
	if captured.Load() == 0 && len(hosts) > 0 {
		return pipeline.Skip("no screenshots captured")
	}
	return pipeline.Ok(artifact.ScreenshotDir)
}

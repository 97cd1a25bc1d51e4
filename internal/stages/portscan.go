package stages

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"golang.org/x/sync/errgroup"

	"reconmaster/internal/artifact"
	"reconmaster/internal/govern"
	"reconmaster/internal/pipeline"
)

// PortScan runs nmap top-1000 scans against a capped set of resolved
// hosts, writing one text artifact per host.
type PortScan struct {
	longBudget
}

func (s *PortScan) Name() string            { return "port_scan" }
func (s *PortScan) DependsOn() []string     { return []string{"dns_resolve"} }
func (s *PortScan) RequiredTools() []string { return []string{"nmap"} }

func (s *PortScan) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	resolved, err := readResolved(rc)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("port_scan: %w", err))
	}
	hosts := make([]string, 0, len(resolved))
	for _, rh := range resolved {
		hosts = append(hosts, rh.Host)
	}
	hosts = capped(hosts, rc.Cfg.Limits.PortScanHosts)

	var (
		mu      sync.Mutex
		outputs []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, host := range hosts {
		rel := path.Join(artifact.NmapDir, host+".txt")
		g.Go(func() error {
			args := []string{"-Pn", "--top-ports", "1000", "-T4", "-oN", "-", host}
			res, invErr := invokeTool(gctx, rc, host, "nmap", args, nil)
			switch {
			case errors.Is(invErr, govern.ErrCircuitOpen):
				rc.Log.Warnf("port_scan: %s skipped: circuit-open", host)
				return nil
			case errors.Is(invErr, context.Canceled):
				return nil
			case invErr != nil:
				rc.Log.Warnf("port_scan: %s: %v", host, invErr)
				return nil
			}
			rc.Breakers.Record(host, !res.TimedOut)
			if res.TimedOut {
				rc.Log.Warnf("port_scan: %s timed out", host)
				return nil
			}
			if err := rc.Store.WriteBytes(rel, res.Stdout); err != nil {
				return err
			}
			mu.Lock()
			outputs = append(outputs, rel)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pipeline.Fail(fmt.Errorf("port_scan: %w", err))
	}
	if ctx.Err() != nil {
		return pipeline.Skip("cancelled")
	}
	rc.Log.Infof("port_scan: scanned %d of %d hosts", len(outputs), len(hosts))
	return pipeline.Ok(outputs...)
}

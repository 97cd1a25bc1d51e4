package stages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tidwall/gjson"

	"reconmaster/internal/artifact"
	"reconmaster/internal/govern"
	"reconmaster/internal/pipeline"
)

// DirHit is one discovered path in endpoints/dirs/<host>.json.
type DirHit struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Length int    `json:"length"`
}

// DirFuzz fuzzes directories on a capped set of live hosts with ffuf,
// one host at a time, each behind the host's breaker.
type DirFuzz struct {
	longBudget
}

func (s *DirFuzz) Name() string            { return "dir_fuzz" }
func (s *DirFuzz) DependsOn() []string     { return []string{"probe_http"} }
func (s *DirFuzz) RequiredTools() []string { return []string{"ffuf"} }

func (s *DirFuzz) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	hosts, err := liveHosts(rc)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("dir_fuzz: %w", err))
	}
	hosts = capped(hosts, rc.Cfg.Limits.DirFuzzHosts)

	wordlist := rc.Cfg.Scan.Wordlist
	if wordlist == "" {
		// Without an operator wordlist there is nothing sensible to
		// fuzz with; the embedded subdomain list is the wrong shape.
		return pipeline.Skip("no wordlist configured")
	}

	var (
		mu      sync.Mutex
		outputs []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, host := range hosts {
		rel := path.Join(artifact.DirFuzzDir, host+".json")
		g.Go(func() error {
			raw, err := rc.Store.Guard().Resolve(path.Join(artifact.DirFuzzDir, "."+host+".raw"))
			if err != nil {
				return err
			}
			defer os.Remove(raw)

			args := []string{"-u", "https://" + host + "/FUZZ", "-w", wordlist, "-of", "json", "-o", raw, "-mc", "200,204,301,302,307,401,403", "-s"}
			res, invErr := invokeTool(gctx, rc, host, "ffuf", args, nil)
			switch {
			case errors.Is(invErr, govern.ErrCircuitOpen):
				rc.Log.Warnf("dir_fuzz: %s skipped: circuit-open", host)
				return nil
			case errors.Is(invErr, context.Canceled):
				return nil
			case invErr != nil:
				rc.Log.Warnf("dir_fuzz: %s: %v", host, invErr)
				return nil
			}
			rc.Breakers.Record(host, !res.TimedOut)
			if res.TimedOut {
				rc.Log.Warnf("dir_fuzz: %s timed out, keeping partial output", host)
			}

			data, err := os.ReadFile(raw)
			if err != nil {
				rc.Log.Warnf("dir_fuzz: %s produced no output", host)
				return nil
			}
			var hits []DirHit
			for _, r := range gjson.GetBytes(data, "results").Array() {
				hits = append(hits, DirHit{
					URL:    r.Get("url").String(),
					Status: int(r.Get("status").Int()),
					Length: int(r.Get("length").Int()),
				})
			}
			if err := rc.Store.WriteJSON(rel, hits); err != nil {
				return err
			}
			mu.Lock()
			outputs = append(outputs, rel)
			mu.Unlock()
			rc.Log.Infof("dir_fuzz: %s: %d hits", host, len(hits))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pipeline.Fail(fmt.Errorf("dir_fuzz: %w", err))
	}
	if ctx.Err() != nil {
		return pipeline.Skip("cancelled")
	}
	return pipeline.Ok(outputs...)
}

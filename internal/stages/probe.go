package stages

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/gjson"

	"reconmaster/internal/artifact"
	"reconmaster/internal/govern"
	"reconmaster/internal/pipeline"
)

// ProbedHost is one entry of http/httpx.json.
type ProbedHost struct {
	Host       string   `json:"host"`
	URL        string   `json:"url"`
	StatusCode int      `json:"status_code"`
	Title      string   `json:"title,omitempty"`
	Tech       []string `json:"tech,omitempty"`
	Skipped    string   `json:"skipped,omitempty"` // circuit-open when the breaker blocked the probe
}

// ProbeHTTP probes every resolved host with httpx, one invocation per
// host so the per-host circuit breaker sees each verdict. Hosts behind an
// open breaker are recorded as skipped, not failed.
type ProbeHTTP struct{}

func (s *ProbeHTTP) Name() string            { return "probe_http" }
func (s *ProbeHTTP) DependsOn() []string     { return []string{"dns_resolve"} }
func (s *ProbeHTTP) RequiredTools() []string { return []string{"httpx"} }

func (s *ProbeHTTP) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	resolved, err := readResolved(rc)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("probe_http: %w", err))
	}

	var (
		mu      sync.Mutex
		probed  []ProbedHost
		live    []string
		g       sync.WaitGroup
	)
	for _, rh := range resolved {
		host := rh.Host
		g.Add(1)
		go func() {
			defer g.Done()
			entry, ok := s.probeOne(ctx, rc, host)
			mu.Lock()
			defer mu.Unlock()
			if entry != nil {
				probed = append(probed, *entry)
			}
			if ok {
				live = append(live, host)
			}
		}()
	}
	g.Wait()
	if ctx.Err() != nil {
		return pipeline.Skip("cancelled")
	}

	sort.Slice(probed, func(i, j int) bool { return probed[i].Host < probed[j].Host })
	if err := rc.Store.WriteJSON(artifact.HTTPXOut, probed); err != nil {
		return pipeline.Fail(err)
	}
	if err := rc.Store.WriteLines(artifact.LiveHosts, live); err != nil {
		return pipeline.Fail(err)
	}
	rc.Log.Infof("probe_http: %d live of %d resolved", len(live), len(resolved))
	return pipeline.Ok(artifact.HTTPXOut, artifact.LiveHosts)
}

// probeOne probes a single host. Returns the record (nil if httpx gave
// nothing usable) and whether the host counts as live.
func (s *ProbeHTTP) probeOne(ctx context.Context, rc *pipeline.RunContext, host string) (*ProbedHost, bool) {
	args := []string{"-u", host, "-silent", "-json", "-title", "-tech-detect", "-status-code", "-no-color"}
	res, err := invokeTool(ctx, rc, host, "httpx", args, nil)
	if err != nil {
		if errors.Is(err, govern.ErrCircuitOpen) {
			rc.Log.Warnf("probe_http: %s skipped: circuit-open", host)
			return &ProbedHost{Host: host, Skipped: "circuit-open"}, false
		}
		if errors.Is(err, context.Canceled) {
			return nil, false
		}
		rc.Log.Warnf("probe_http: %s: %v", host, err)
		rc.Breakers.Record(host, false)
		return nil, false
	}
	if res.TimedOut {
		rc.Breakers.Record(host, false)
		return nil, false
	}

	var entry *ProbedHost
	jsonLines(res.Stdout, func(line gjson.Result) {
		if entry != nil {
			return
		}
		e := ProbedHost{
			Host:       host,
			URL:        line.Get("url").String(),
			StatusCode: int(line.Get("status_code").Int()),
			Title:      line.Get("title").String(),
		}
		for _, t := range line.Get("tech").Array() {
			e.Tech = append(e.Tech, t.String())
		}
		entry = &e
	})
	if entry == nil {
		// No response at all: not live, but also not a WAF verdict.
		rc.Breakers.Record(host, true)
		return nil, false
	}

	rc.Breakers.Record(host, !httpFailure(int64(entry.StatusCode)))
	return entry, entry.StatusCode > 0
}

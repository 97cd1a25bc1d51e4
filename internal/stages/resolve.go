package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"reconmaster/internal/artifact"
	"reconmaster/internal/pipeline"
	"reconmaster/internal/runner"
)

// ResolvedHost is one entry of subdomains/resolved.json.
type ResolvedHost struct {
	Host  string   `json:"host"`
	Addrs []string `json:"addrs"`
}

// DNSResolve resolves the merged subdomain set through dnsx and records
// which names answer, feeding probe_http and port_scan.
type DNSResolve struct{}

func (s *DNSResolve) Name() string            { return "dns_resolve" }
func (s *DNSResolve) DependsOn() []string     { return []string{"merge_subdomains"} }
func (s *DNSResolve) RequiredTools() []string { return []string{"dnsx"} }

func (s *DNSResolve) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	hosts, err := rc.Store.ReadLines(artifact.AllSubs)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("dns_resolve: %w", err))
	}
	if len(hosts) == 0 {
		rc.Log.Warnf("dns_resolve: nothing to resolve")
		if err := rc.Store.WriteJSON(artifact.ResolvedSubs, []ResolvedHost{}); err != nil {
			return pipeline.Fail(err)
		}
		return pipeline.Ok(artifact.ResolvedSubs)
	}

	res, err := invokeTool(ctx, rc, "", "dnsx", []string{"-silent", "-a", "-resp", "-json"}, func(inv *runner.Invocation) {
		inv.Stdin = strings.Join(hosts, "\n") + "\n"
	})
	if err != nil {
		return pipeline.Fail(fmt.Errorf("dns_resolve: %w", err))
	}
	if res.TimedOut {
		rc.Log.Warnf("dns_resolve: dnsx timed out, keeping partial output")
	}

	byHost := make(map[string][]string)
	parsed, bad := jsonLines(res.Stdout, func(line gjson.Result) {
		host := strings.ToLower(line.Get("host").String())
		if host == "" {
			return
		}
		for _, a := range line.Get("a").Array() {
			byHost[host] = append(byHost[host], a.String())
		}
	})
	if parsed == 0 && bad > 0 {
		return pipeline.Fail(fmt.Errorf("dns_resolve: no parseable dnsx output (%d bad lines)", bad))
	}
	if bad > 0 {
		rc.Log.Warnf("dns_resolve: salvaged %d lines, %d unparseable", parsed, bad)
	}

	resolved := make([]ResolvedHost, 0, len(byHost))
	for _, h := range hosts { // canonical order from all.txt
		if addrs, ok := byHost[h]; ok {
			resolved = append(resolved, ResolvedHost{Host: h, Addrs: addrs})
		}
	}
	rc.Log.Infof("dns_resolve: %d of %d names resolve", len(resolved), len(hosts))

	if err := rc.Store.WriteJSON(artifact.ResolvedSubs, resolved); err != nil {
		return pipeline.Fail(err)
	}
	return pipeline.Ok(artifact.ResolvedSubs)
}

// readResolved loads resolved.json for downstream fan-out stages.
func readResolved(rc *pipeline.RunContext) ([]ResolvedHost, error) {
	data, err := rc.Store.ReadBytes(artifact.ResolvedSubs)
	if err != nil {
		return nil, err
	}
	var out []ResolvedHost
	for _, entry := range gjson.ParseBytes(data).Array() {
		rh := ResolvedHost{Host: entry.Get("host").String()}
		for _, a := range entry.Get("addrs").Array() {
			rh.Addrs = append(rh.Addrs, a.String())
		}
		out = append(out, rh)
	}
	return out, nil
}

package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"reconmaster/internal/artifact"
	"reconmaster/internal/govern"
	"reconmaster/internal/pipeline"
	"reconmaster/internal/runner"
)

// VulnFinding is one entry of vulns/nuclei.json.
type VulnFinding struct {
	Host     string `json:"host"`
	Template string `json:"template"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Matched  string `json:"matched,omitempty"`
}

// VulnScan runs nuclei over the live hosts with the configured severity
// filter.
type VulnScan struct {
	longBudget
}

func (s *VulnScan) Name() string            { return "vuln_scan" }
func (s *VulnScan) DependsOn() []string     { return []string{"probe_http"} }
func (s *VulnScan) RequiredTools() []string { return []string{"nuclei"} }

func (s *VulnScan) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	hosts, err := liveHosts(rc)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("vuln_scan: %w", err))
	}
	if len(hosts) == 0 {
		if err := rc.Store.WriteJSON(artifact.NucleiOut, []VulnFinding{}); err != nil {
			return pipeline.Fail(err)
		}
		return pipeline.Ok(artifact.NucleiOut)
	}

	args := []string{"-jsonl", "-silent", "-no-color", "-severity", rc.Cfg.Report.NucleiSeverity}
	res, err := invokeTool(ctx, rc, rc.Target, "nuclei", args, func(inv *runner.Invocation) {
		inv.Stdin = strings.Join(hosts, "\n") + "\n"
		inv.Deadline = s.Budget()
	})
	switch {
	case errors.Is(err, govern.ErrCircuitOpen):
		rc.Log.Warnf("vuln_scan: skipped: circuit-open")
		return pipeline.Skip("circuit-open")
	case errors.Is(err, context.Canceled):
		return pipeline.Skip("cancelled")
	case err != nil:
		return pipeline.Fail(fmt.Errorf("vuln_scan: %w", err))
	}
	rc.Breakers.Record(rc.Target, !res.TimedOut)
	if res.TimedOut {
		rc.Log.Warnf("vuln_scan: nuclei timed out, keeping partial output")
	}

	var findings []VulnFinding
	parsed, bad := jsonLines(res.Stdout, func(line gjson.Result) {
		findings = append(findings, VulnFinding{
			Host:     line.Get("host").String(),
			Template: line.Get("template-id").String(),
			Name:     line.Get("info.name").String(),
			Severity: strings.ToLower(line.Get("info.severity").String()),
			Matched:  line.Get("matched-at").String(),
		})
	})
	if parsed == 0 && bad > 0 {
		return pipeline.Fail(fmt.Errorf("vuln_scan: no parseable nuclei output (%d bad lines)", bad))
	}

	rc.Log.Infof("vuln_scan: %d findings across %d hosts", len(findings), len(hosts))
	if err := rc.Store.WriteJSON(artifact.NucleiOut, findings); err != nil {
		return pipeline.Fail(err)
	}
	return pipeline.Ok(artifact.NucleiOut)
}

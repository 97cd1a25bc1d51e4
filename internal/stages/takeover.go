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

// TakeoverFinding is one entry of vulns/takeovers.json.
type TakeoverFinding struct {
	Host     string `json:"host"`
	Service  string `json:"service,omitempty"`
	Severity string `json:"severity"`
	Evidence string `json:"evidence,omitempty"`
}

// TakeoverCheck tests live hosts for dangling-CNAME takeovers, preferring
// nuclei's takeover templates and falling back to subzy.
type TakeoverCheck struct{}

func (s *TakeoverCheck) Name() string            { return "takeover_check" }
func (s *TakeoverCheck) DependsOn() []string     { return []string{"probe_http"} }
func (s *TakeoverCheck) RequiredTools() []string { return nil } // either of two tools suffices

func (s *TakeoverCheck) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	hosts, err := liveHosts(rc)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("takeover_check: %w", err))
	}
	if len(hosts) == 0 {
		if err := rc.Store.WriteJSON(artifact.Takeovers, []TakeoverFinding{}); err != nil {
			return pipeline.Fail(err)
		}
		return pipeline.Ok(artifact.Takeovers)
	}

	var findings []TakeoverFinding
	stdin := strings.Join(hosts, "\n") + "\n"

	if _, err := rc.Tools.Locate("nuclei"); err == nil {
		res, err := invokeTool(ctx, rc, "", "nuclei", []string{"-tags", "takeover", "-jsonl", "-silent", "-no-color"}, func(inv *runner.Invocation) {
			inv.Stdin = stdin
		})
		if err != nil {
			return pipeline.Fail(fmt.Errorf("takeover_check: %w", err))
		}
		jsonLines(res.Stdout, func(line gjson.Result) {
			findings = append(findings, TakeoverFinding{
				Host:     line.Get("host").String(),
				Service:  line.Get("info.name").String(),
				Severity: strings.ToLower(line.Get("info.severity").String()),
				Evidence: line.Get("matched-at").String(),
			})
		})
	} else if _, err := rc.Tools.Locate("subzy"); err == nil {
		res, err := invokeTool(ctx, rc, "", "subzy", []string{"run", "--targets", "/dev/stdin", "--hide_fails", "--output", "json"}, func(inv *runner.Invocation) {
			inv.Stdin = stdin
		})
		if err != nil {
			return pipeline.Fail(fmt.Errorf("takeover_check: %w", err))
		}
		jsonLines(res.Stdout, func(line gjson.Result) {
			if !line.Get("vulnerable").Bool() {
				return
			}
			findings = append(findings, TakeoverFinding{
				Host:     line.Get("subdomain").String(),
				Service:  line.Get("engine").String(),
				Severity: "high",
				Evidence: line.Get("documentation").String(),
			})
		})
	} else {
		return pipeline.Skip("tool missing: nuclei or subzy")
	}
	if ctx.Err() != nil {
		return pipeline.Skip("cancelled")
	}

	for _, f := range findings {
		if f.Severity == "high" || f.Severity == "critical" {
			rc.Log.Warnf("takeover_check: %s vulnerable (%s, %s)", f.Host, f.Service, f.Severity)
		}
	}
	if err := rc.Store.WriteJSON(artifact.Takeovers, findings); err != nil {
		return pipeline.Fail(err)
	}
	return pipeline.Ok(artifact.Takeovers)
}

package stages

import (
	"context"
	"fmt"
	"time"

	"reconmaster/internal/artifact"
	"reconmaster/internal/pipeline"
	"reconmaster/internal/report"
)

// Aggregate builds summary.json once every other stage is terminal. It
// soft-depends on the whole catalog: skipped and failed stages still let
// the aggregation run over whatever landed on disk.
type Aggregate struct {
	after []string
}

func (s *Aggregate) Name() string            { return "aggregate" }
func (s *Aggregate) DependsOn() []string     { return nil }
func (s *Aggregate) SoftDepends() []string   { return s.after }
func (s *Aggregate) RequiredTools() []string { return nil }

func (s *Aggregate) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	summary, err := report.Build(rc.Store, rc.Journal, rc.Target, rc.Cfg.Version, rc.StartedAt, time.Now())
	if err != nil {
		return pipeline.Fail(fmt.Errorf("aggregate: %w", err))
	}
	if err := rc.Store.WriteJSON(artifact.SummaryJSON, summary); err != nil {
		return pipeline.Fail(err)
	}
	rc.Log.Infof("aggregate: %d subdomains, %d live, %d findings",
		summary.Statistics.SubdomainsFound, summary.Statistics.LiveHosts, summary.Statistics.Vulnerabilities)
	return pipeline.Ok(artifact.SummaryJSON)
}

// Report renders summary.md and full_report.html from summary.json.
type Report struct {
	html bool
}

func (s *Report) Name() string            { return "report" }
func (s *Report) DependsOn() []string     { return []string{"aggregate"} }
func (s *Report) RequiredTools() []string { return nil }

func (s *Report) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	summary, err := report.Load(rc.Store)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("report: %w", err))
	}

	md, err := report.Markdown(rc.Store, summary)
	if err != nil {
		return pipeline.Fail(err)
	}
	if err := rc.Store.WriteBytes(artifact.SummaryMD, md); err != nil {
		return pipeline.Fail(err)
	}
	outputs := []string{artifact.SummaryMD}

	if s.html {
		html, err := report.HTML(rc.Store, summary)
		if err != nil {
			return pipeline.Fail(err)
		}
		if err := rc.Store.WriteBytes(artifact.ReportHTML, html); err != nil {
			return pipeline.Fail(err)
		}
		outputs = append(outputs, artifact.ReportHTML)
	}
	return pipeline.Ok(outputs...)
}

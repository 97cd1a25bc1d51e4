package report

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/tidwall/gjson"

	"reconmaster/internal/artifact"
	"reconmaster/internal/redact"
)

var mdTemplate = template.Must(template.New("summary").Parse(`# Recon Summary: {{.Summary.ScanInfo.Target}}

- **Started:** {{.Summary.ScanInfo.Start.Format "2006-01-02 15:04:05 MST"}}
- **Duration:** {{.Summary.ScanInfo.Duration}}
- **Subdomains found:** {{.Summary.Statistics.SubdomainsFound}}
- **Live hosts:** {{.Summary.Statistics.LiveHosts}}
- **Endpoints discovered:** {{.Summary.Statistics.EndpointsDiscovered}}
- **Vulnerabilities:** {{.Summary.Statistics.Vulnerabilities}} (critical {{.Summary.Findings.Critical}}, high {{.Summary.Findings.High}}, medium {{.Summary.Findings.Medium}}, low {{.Summary.Findings.Low}}, info {{.Summary.Findings.Info}})
- **Secrets in JS:** {{.Summary.Statistics.SecretsFound}}

## Top findings

{{if .TopFindings}}{{range .TopFindings}}- **[{{.Severity}}]** {{.Name}} on {{.Host}}{{if .Evidence}} ({{.Evidence}}){{end}}
{{end}}{{else}}_No findings above the reporting threshold._
{{end}}
## Stages

| Stage | State | Duration | Notes |
|---|---|---|---|
{{range .Summary.ScanInfo.Stages}}| {{.Name}} | {{.State}} | {{.Duration}} | {{.Reason}} |
{{end}}`))

// TopFinding is a redacted excerpt quoted in the reports.
type TopFinding struct {
	Severity string
	Name     string
	Host     string
	Evidence string
}

// Markdown renders reports/summary.md. Every quoted string passes the
// redactor before it lands in the document.
func Markdown(store *artifact.Store, s *Summary) ([]byte, error) {
	data := struct {
		Summary     *Summary
		TopFindings []TopFinding
	}{Summary: s, TopFindings: topFindings(store, 10)}

	var buf bytes.Buffer
	if err := mdTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("report: render markdown: %w", err)
	}
	return buf.Bytes(), nil
}

// topFindings collects the highest-severity findings across the vuln
// artifacts, redacted and capped.
func topFindings(store *artifact.Store, limit int) []TopFinding {
	rank := map[string]int{"critical": 0, "high": 1, "medium": 2, "low": 3, "info": 4}
	var all []TopFinding
	for _, src := range []string{artifact.NucleiOut, artifact.Takeovers} {
		if !store.Exists(src) {
			continue
		}
		data, err := store.ReadBytes(src)
		if err != nil {
			continue
		}
		for _, entry := range gjson.ParseBytes(data).Array() {
			name := entry.Get("name").String()
			if name == "" {
				name = entry.Get("service").String()
				if name == "" {
					name = "takeover"
				} else {
					name = "takeover: " + name
				}
			}
			all = append(all, TopFinding{
				Severity: strings.ToLower(entry.Get("severity").String()),
				Name:     redact.String(name),
				Host:     redact.String(entry.Get("host").String()),
				Evidence: redact.String(entry.Get("matched").String()),
			})
		}
	}
	for i := range all {
		if _, ok := rank[all[i].Severity]; !ok {
			all[i].Severity = "info"
		}
	}
	// Stable severity sort keeps per-file discovery order within a tier.
	sort.SliceStable(all, func(i, j int) bool { return rank[all[i].Severity] < rank[all[j].Severity] })
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

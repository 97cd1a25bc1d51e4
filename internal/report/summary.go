// Package report aggregates stage artifacts into summary.json and
// renders the Markdown and HTML reports. The aggregator adds no data of
// its own: every number is recomputed from the artifacts.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"reconmaster/internal/artifact"
	"reconmaster/internal/journal"
)

// Summary is the shape of summary.json.
type Summary struct {
	ScanInfo   ScanInfo   `json:"scan_info"`
	Statistics Statistics `json:"statistics"`
	Findings   Findings   `json:"findings"`
}

// ScanInfo identifies the run.
type ScanInfo struct {
	Target   string       `json:"target"`
	Start    time.Time    `json:"start"`
	End      time.Time    `json:"end"`
	Duration string       `json:"duration"`
	Version  string       `json:"version"`
	Stages   []StageBrief `json:"stages"`
}

// StageBrief is one stage's terminal record in the summary.
type StageBrief struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Reason   string `json:"reason,omitempty"`
	Duration string `json:"duration"`
}

// Statistics are recomputed from the artifacts alone.
type Statistics struct {
	SubdomainsFound      int `json:"subdomains_found"`
	LiveHosts            int `json:"live_hosts"`
	Vulnerabilities      int `json:"vulnerabilities"`
	EndpointsDiscovered  int `json:"endpoints_discovered"`
	JSFilesAnalyzed      int `json:"js_files_analyzed"`
	ParametersDiscovered int `json:"parameters_discovered"`
	SecretsFound         int `json:"secrets_found"`
}

// Findings counts verdicts by severity across the scanners.
type Findings struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Build assembles the summary from the store and the journal.
func Build(store *artifact.Store, j *journal.Journal, target, version string, start, end time.Time) (*Summary, error) {
	s := &Summary{
		ScanInfo: ScanInfo{
			Target:   target,
			Start:    start.UTC(),
			End:      end.UTC(),
			Duration: end.Sub(start).Round(time.Second).String(),
			Version:  version,
		},
	}
	if j != nil {
		for _, rec := range j.Records() {
			s.ScanInfo.Stages = append(s.ScanInfo.Stages, StageBrief{
				Name:     rec.Name,
				State:    rec.State,
				Reason:   rec.Reason,
				Duration: rec.Duration,
			})
		}
	}

	s.Statistics.SubdomainsFound = countLines(store, artifact.AllSubs)
	s.Statistics.LiveHosts = countLines(store, artifact.LiveHosts)
	s.Statistics.EndpointsDiscovered = countLines(store, artifact.CrawledURLs)
	s.Statistics.JSFilesAnalyzed = countLines(store, artifact.JSFiles)
	s.Statistics.ParametersDiscovered = countLines(store, artifact.Parameters)
	s.Statistics.SecretsFound = countLines(store, artifact.JSSecrets)

	for _, src := range []string{artifact.NucleiOut, artifact.Takeovers} {
		if !store.Exists(src) {
			continue
		}
		data, err := store.ReadBytes(src)
		if err != nil {
			return nil, fmt.Errorf("report: %w", err)
		}
		for _, entry := range gjson.ParseBytes(data).Array() {
			s.Statistics.Vulnerabilities++
			switch strings.ToLower(entry.Get("severity").String()) {
			case "critical":
				s.Findings.Critical++
			case "high":
				s.Findings.High++
			case "medium":
				s.Findings.Medium++
			case "low":
				s.Findings.Low++
			default:
				s.Findings.Info++
			}
		}
	}
	return s, nil
}

// Load reads summary.json back from the store.
func Load(store *artifact.Store) (*Summary, error) {
	data, err := store.ReadBytes(artifact.SummaryJSON)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("report: parse summary.json: %w", err)
	}
	return &s, nil
}

func countLines(store *artifact.Store, rel string) int {
	if !store.Exists(rel) {
		return 0
	}
	lines, err := store.ReadLines(rel)
	if err != nil {
		return 0
	}
	return len(lines)
}

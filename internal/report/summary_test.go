package report

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconmaster/internal/artifact"
	"reconmaster/internal/journal"
)

func seededStore(t *testing.T) *artifact.Store {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.WriteLines(artifact.AllSubs, []string{"a.example.com", "b.example.com", "c.example.com"}))
	require.NoError(t, store.WriteLines(artifact.LiveHosts, []string{"a.example.com"}))
	require.NoError(t, store.WriteLines(artifact.CrawledURLs, []string{"https://a.example.com/", "https://a.example.com/login"}))
	require.NoError(t, store.WriteJSON(artifact.NucleiOut, []map[string]string{
		{"host": "a.example.com", "name": "Exposed Panel", "severity": "high", "matched": "https://a.example.com/admin?token=supersecret99"},
		{"host": "a.example.com", "name": "TLS Info", "severity": "info"},
	}))
	require.NoError(t, store.WriteJSON(artifact.Takeovers, []map[string]string{
		{"host": "b.example.com", "service": "s3", "severity": "high"},
	}))
	return store
}

func TestStatisticsMatchArtifacts(t *testing.T) {
	store := seededStore(t)
	jnl := journal.New(filepath.Join(store.Root(), artifact.JournalFile), "run", "h")
	require.NoError(t, jnl.Append(journal.StageRecord{Name: "passive_enum", State: "ok", Duration: "2s"}))

	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s, err := Build(store, jnl, "example.com", "1.0.0", start, start.Add(90*time.Second))
	require.NoError(t, err)

	// Every number must be recomputable from the artifacts alone.
	lines, err := store.ReadLines(artifact.AllSubs)
	require.NoError(t, err)
	assert.Equal(t, len(lines), s.Statistics.SubdomainsFound)
	assert.Equal(t, 1, s.Statistics.LiveHosts)
	assert.Equal(t, 2, s.Statistics.EndpointsDiscovered)
	assert.Equal(t, 3, s.Statistics.Vulnerabilities)
	assert.Equal(t, 2, s.Findings.High)
	assert.Equal(t, 1, s.Findings.Info)
	assert.Equal(t, "1m30s", s.ScanInfo.Duration)
	require.Len(t, s.ScanInfo.Stages, 1)
	assert.Equal(t, "passive_enum", s.ScanInfo.Stages[0].Name)
}

func TestMarkdownRedactsEvidence(t *testing.T) {
	store := seededStore(t)
	s, err := Build(store, nil, "example.com", "1.0.0", time.Now(), time.Now())
	require.NoError(t, err)

	md, err := Markdown(store, s)
	require.NoError(t, err)
	text := string(md)
	assert.Contains(t, text, "Exposed Panel")
	assert.NotContains(t, text, "supersecret99", "quoted evidence must be redacted")
	assert.Contains(t, text, "[REDACTED:")
}

func TestHTMLSelfContained(t *testing.T) {
	store := seededStore(t)
	s, err := Build(store, nil, "example.com", "1.0.0", time.Now(), time.Now())
	require.NoError(t, err)

	html, err := HTML(store, s)
	require.NoError(t, err)
	text := string(html)
	assert.Contains(t, text, "example.com")
	for _, needle := range []string{"http-equiv=\"refresh\"", "src=\"http", "href=\"http"} {
		assert.False(t, strings.Contains(text, needle), "external reference %q in report", needle)
	}
}

func TestTopFindingsSeverityOrder(t *testing.T) {
	store := seededStore(t)
	findings := topFindings(store, 10)
	require.NotEmpty(t, findings)
	rank := map[string]int{"critical": 0, "high": 1, "medium": 2, "low": 3, "info": 4}
	for i := 1; i < len(findings); i++ {
		assert.LessOrEqual(t, rank[findings[i-1].Severity], rank[findings[i].Severity])
	}
}

func TestEmptyRunBuildsCleanSummary(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	s, err := Build(store, nil, "example.com", "1.0.0", time.Now(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, s.Statistics.SubdomainsFound)
	assert.Zero(t, s.Statistics.Vulnerabilities)

	md, err := Markdown(store, s)
	require.NoError(t, err)
	assert.Contains(t, string(md), "No findings")
}

package stages

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"reconmaster/internal/artifact"
	"reconmaster/internal/pipeline"
	"reconmaster/internal/runner"
)

//go:embed wordlists/subdomains.txt
var builtinWordlist string

// WordlistEnum brute-forces subdomains: candidate names are generated
// from the wordlist locally, then handed to dnsx for resolution, so the
// engine itself never performs discovery traffic.
type WordlistEnum struct{}

func (s *WordlistEnum) Name() string            { return "wordlist_enum" }
func (s *WordlistEnum) DependsOn() []string     { return nil }
func (s *WordlistEnum) RequiredTools() []string { return []string{"dnsx"} }

func (s *WordlistEnum) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	words, err := s.loadWords(rc)
	if err != nil {
		return pipeline.Fail(err)
	}

	var candidates strings.Builder
	for _, w := range words {
		candidates.WriteString(w)
		candidates.WriteByte('.')
		candidates.WriteString(rc.Target)
		candidates.WriteByte('\n')
	}

	res, err := invokeTool(ctx, rc, "", "dnsx", []string{"-silent"}, func(inv *runner.Invocation) {
		inv.Stdin = candidates.String()
	})
	if err != nil {
		return pipeline.Fail(fmt.Errorf("wordlist_enum: %w", err))
	}
	if res.TimedOut {
		rc.Log.Warnf("wordlist_enum: dnsx timed out, keeping partial output")
	}

	resolved := hostLines(res.Stdout)
	rc.Log.Infof("wordlist_enum: %d of %d candidates resolved", len(resolved), len(words))
	if err := rc.Store.WriteLines(artifact.BruteSubs, resolved); err != nil {
		return pipeline.Fail(err)
	}
	return pipeline.Ok(artifact.BruteSubs)
}

// loadWords reads the configured wordlist, falling back to the embedded
// default. The path is taken literally, never interpreted by a shell.
func (s *WordlistEnum) loadWords(rc *pipeline.RunContext) ([]string, error) {
	raw := builtinWordlist
	if path := rc.Cfg.Scan.Wordlist; path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("wordlist_enum: %w", err)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("wordlist_enum: read wordlist: %w", err)
		}
		raw = string(data)
	}
	var words []string
	for _, w := range strings.Split(raw, "\n") {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && !strings.HasPrefix(w, "#") {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("wordlist_enum: empty wordlist")
	}
	return words, nil
}

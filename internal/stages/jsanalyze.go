package stages

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"reconmaster/internal/artifact"
	"reconmaster/internal/pipeline"
	"reconmaster/internal/redact"
)

// endpointRe finds path-like string literals in JavaScript source.
var endpointRe = regexp.MustCompile(`["'](/(?:api|v[0-9]+|rest|graphql|admin|internal|auth)[A-Za-z0-9_\-./]*)["']`)

// maxJSFileSize skips pathological bundles.
const maxJSFileSize = 10 << 20

// JSAnalyze scans crawled JavaScript bodies with the secret catalog in
// detect mode, plus an endpoint extractor. No tool invocation: this is
// the one built-in analysis stage.
type JSAnalyze struct{}

func (s *JSAnalyze) Name() string            { return "js_analyze" }
func (s *JSAnalyze) DependsOn() []string     { return []string{"crawl"} }
func (s *JSAnalyze) RequiredTools() []string { return nil }

func (s *JSAnalyze) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	cacheAbs, err := rc.Store.Guard().Resolve(jsCacheDir)
	if err != nil {
		return pipeline.Fail(err)
	}

	var (
		secrets   []string
		endpoints []string
		scanned   int
	)
	walkErr := filepath.WalkDir(cacheAbs, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxJSFileSize {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		body := string(data)
		scanned++

		rel, _ := filepath.Rel(cacheAbs, path)
		for _, hit := range redact.Scan(body) {
			// The artifact keeps the raw evidence for the operator; the
			// log line goes through the redactor like everything else.
			secrets = append(secrets, fmt.Sprintf("%s\t%s\t%s", rel, hit.Kind, hit.Match))
			rc.Log.Warnf("js_analyze: %s secret in %s: %s", hit.Kind, rel, hit.Match)
		}
		for _, m := range endpointRe.FindAllStringSubmatch(body, -1) {
			endpoints = append(endpoints, m[1])
		}
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) && ctx.Err() == nil {
		return pipeline.Fail(fmt.Errorf("js_analyze: %w", walkErr))
	}
	if ctx.Err() != nil {
		return pipeline.Skip("cancelled")
	}

	if err := rc.Store.WriteLines(artifact.JSSecrets, secrets); err != nil {
		return pipeline.Fail(err)
	}
	if err := rc.Store.WriteLines(artifact.JSEndpoints, endpoints); err != nil {
		return pipeline.Fail(err)
	}
	rc.Log.Infof("js_analyze: %d files scanned, %d secrets, %d endpoints", scanned, len(secrets), len(endpoints))
	return pipeline.Ok(artifact.JSSecrets, artifact.JSEndpoints)
}

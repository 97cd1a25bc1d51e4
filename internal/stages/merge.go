package stages

import (
	"context"
	"fmt"
	"strings"

	"reconmaster/internal/artifact"
	"reconmaster/internal/pipeline"
	"reconmaster/internal/target"
)

// MergeSubdomains unions the enumeration outputs into the canonical
// subdomains/all.txt: lowercased, scope-filtered, FQDN-validated, sorted.
// The result is byte-identical regardless of which enumerator finished
// first.
type MergeSubdomains struct {
	passiveOnly bool
}

func (s *MergeSubdomains) Name() string            { return "merge_subdomains" }
func (s *MergeSubdomains) RequiredTools() []string { return nil }

func (s *MergeSubdomains) DependsOn() []string {
	return []string{"passive_enum"}
}

// SoftDepends orders the merge after wordlist_enum without inheriting
// its skips: a missing brute-force tool should not empty the whole run.
func (s *MergeSubdomains) SoftDepends() []string {
	if s.passiveOnly {
		return nil
	}
	return []string{"wordlist_enum"}
}

func (s *MergeSubdomains) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	var all []string
	for _, src := range []string{artifact.PassiveSubs, artifact.BruteSubs} {
		if !rc.Store.Exists(src) {
			continue
		}
		lines, err := rc.Store.ReadLines(src)
		if err != nil {
			return pipeline.Fail(fmt.Errorf("merge_subdomains: %w", err))
		}
		all = append(all, lines...)
	}

	suffix := "." + rc.Target
	var kept []string
	for _, h := range all {
		h = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(h, ".")))
		if h != rc.Target && !strings.HasSuffix(h, suffix) {
			continue
		}
		if !target.ValidFQDN(h) {
			continue
		}
		if !rc.Scope.Admits(h) {
			continue
		}
		kept = append(kept, h)
	}

	rc.Log.Infof("merge_subdomains: %d in scope of %d discovered", len(kept), len(all))
	if err := rc.Store.WriteLines(artifact.AllSubs, kept); err != nil {
		return pipeline.Fail(err)
	}
	return pipeline.Ok(artifact.AllSubs)
}

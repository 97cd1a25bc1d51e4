package stages

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"reconmaster/internal/artifact"
	"reconmaster/internal/govern"
	"reconmaster/internal/pipeline"
)

// jsCacheDir holds response bodies katana stores for js_analyze.
const jsCacheDir = "js/cache"

// Crawl walks each live host with katana, collecting endpoint URLs and
// the JavaScript files they reference. Responses are stored on disk so
// js_analyze can scan their contents without re-fetching.
type Crawl struct{}

func (s *Crawl) Name() string            { return "crawl" }
func (s *Crawl) DependsOn() []string     { return []string{"probe_http"} }
func (s *Crawl) RequiredTools() []string { return []string{"katana"} }

func (s *Crawl) Run(ctx context.Context, rc *pipeline.RunContext) pipeline.Result {
	hosts, err := liveHosts(rc)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("crawl: %w", err))
	}
	cacheAbs, err := rc.Store.Guard().Resolve(jsCacheDir)
	if err != nil {
		return pipeline.Fail(err)
	}

	var (
		mu   sync.Mutex
		urls []string
	)
	depth := strconv.Itoa(rc.Cfg.Limits.CrawlDepth)

	g, gctx := errgroup.WithContext(ctx)
	for _, host := range hosts {
		g.Go(func() error {
			args := []string{"-u", "https://" + host, "-d", depth, "-silent", "-nc", "-srd", cacheAbs}
			res, err := invokeTool(gctx, rc, host, "katana", args, nil)
			switch {
			case errors.Is(err, govern.ErrCircuitOpen):
				rc.Log.Warnf("crawl: %s skipped: circuit-open", host)
				return nil
			case errors.Is(err, context.Canceled):
				return nil
			case err != nil:
				rc.Log.Warnf("crawl: %s: %v", host, err)
				return nil
			}
			rc.Breakers.Record(host, !res.TimedOut)
			found := urlLines(res.Stdout)
			mu.Lock()
			urls = append(urls, found...)
			mu.Unlock()
			rc.Log.Infof("crawl: %s yielded %d urls", host, len(found))
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return pipeline.Skip("cancelled")
	}

	var jsFiles []string
	for _, u := range urls {
		if isJSURL(u) {
			jsFiles = append(jsFiles, u)
		}
	}

	if err := rc.Store.WriteLines(artifact.CrawledURLs, urls); err != nil {
		return pipeline.Fail(err)
	}
	if err := rc.Store.WriteLines(artifact.JSFiles, jsFiles); err != nil {
		return pipeline.Fail(err)
	}
	rc.Log.Infof("crawl: %d urls, %d js files across %d hosts", len(urls), len(jsFiles), len(hosts))
	return pipeline.Ok(artifact.CrawledURLs, artifact.JSFiles)
}

func urlLines(out []byte) []string {
	var urls []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			urls = append(urls, line)
		}
	}
	return urls
}

func isJSURL(u string) bool {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(strings.ToLower(u), ".js")
}

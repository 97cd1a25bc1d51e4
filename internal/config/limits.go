package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LimitsConfig bounds concurrency, per-stage budgets, and fan-out caps.
type LimitsConfig struct {
	Threads    int     `yaml:"threads"`      // governor permits
	PerHostRPS float64 `yaml:"per_host_rps"` // 0 disables pacing

	BreakerThreshold   int           `yaml:"breaker_threshold"`
	BreakerCooldown    time.Duration `yaml:"breaker_cooldown"`
	BreakerCooldownCap time.Duration `yaml:"breaker_cooldown_cap"`

	StageTimeout     time.Duration `yaml:"stage_timeout"`      // default stage budget
	LongStageTimeout time.Duration `yaml:"long_stage_timeout"` // port_scan, vuln_scan, dir_fuzz
	ToolTimeout      time.Duration `yaml:"tool_timeout"`       // single invocation budget

	MaxOutputBytes int64 `yaml:"max_output_bytes"` // per stream, per invocation

	CrawlDepth    int `yaml:"crawl_depth"`
	ParamURLCap   int `yaml:"param_url_cap"`
	DirFuzzHosts  int `yaml:"dir_fuzz_hosts"`
	PortScanHosts int `yaml:"port_scan_hosts"`
}

// UnmarshalYAML decodes durations from strings like "60s" while keeping
// the defaults for keys the file leaves out.
func (l *LimitsConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Threads    *int     `yaml:"threads"`
		PerHostRPS *float64 `yaml:"per_host_rps"`

		BreakerThreshold   *int    `yaml:"breaker_threshold"`
		BreakerCooldown    *string `yaml:"breaker_cooldown"`
		BreakerCooldownCap *string `yaml:"breaker_cooldown_cap"`

		StageTimeout     *string `yaml:"stage_timeout"`
		LongStageTimeout *string `yaml:"long_stage_timeout"`
		ToolTimeout      *string `yaml:"tool_timeout"`

		MaxOutputBytes *int64 `yaml:"max_output_bytes"`

		CrawlDepth    *int `yaml:"crawl_depth"`
		ParamURLCap   *int `yaml:"param_url_cap"`
		DirFuzzHosts  *int `yaml:"dir_fuzz_hosts"`
		PortScanHosts *int `yaml:"port_scan_hosts"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}

	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setDur := func(dst *time.Duration, src *string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("bad duration %q: %w", *src, err)
		}
		*dst = d
		return nil
	}

	setInt(&l.Threads, r.Threads)
	if r.PerHostRPS != nil {
		l.PerHostRPS = *r.PerHostRPS
	}
	setInt(&l.BreakerThreshold, r.BreakerThreshold)
	if r.MaxOutputBytes != nil {
		l.MaxOutputBytes = *r.MaxOutputBytes
	}
	setInt(&l.CrawlDepth, r.CrawlDepth)
	setInt(&l.ParamURLCap, r.ParamURLCap)
	setInt(&l.DirFuzzHosts, r.DirFuzzHosts)
	setInt(&l.PortScanHosts, r.PortScanHosts)

	for _, pair := range []struct {
		dst *time.Duration
		src *string
	}{
		{&l.BreakerCooldown, r.BreakerCooldown},
		{&l.BreakerCooldownCap, r.BreakerCooldownCap},
		{&l.StageTimeout, r.StageTimeout},
		{&l.LongStageTimeout, r.LongStageTimeout},
		{&l.ToolTimeout, r.ToolTimeout},
	} {
		if err := setDur(pair.dst, pair.src); err != nil {
			return err
		}
	}
	return nil
}

func defaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		Threads:            10,
		BreakerThreshold:   10,
		BreakerCooldown:    60 * time.Second,
		BreakerCooldownCap: 600 * time.Second,
		StageTimeout:       10 * time.Minute,
		LongStageTimeout:   30 * time.Minute,
		ToolTimeout:        10 * time.Minute,
		MaxOutputBytes:     64 << 20,
		CrawlDepth:         3,
		ParamURLCap:        50,
		DirFuzzHosts:       10,
		PortScanHosts:      5,
	}
}

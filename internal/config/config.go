// Package config holds the merged CLI+YAML+env configuration. The struct
// is assembled before the run starts and treated as immutable afterwards;
// it travels with the RunContext, never through package globals.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Version string `yaml:"-"`

	Scan   ScanConfig   `yaml:"scan"`
	Tools  ToolsConfig  `yaml:"tools"`
	Limits LimitsConfig `yaml:"limits"`
	Report ReportConfig `yaml:"report"`
}

// ScanConfig describes what to scan and how aggressively.
type ScanConfig struct {
	Targets     []string `yaml:"targets"`
	OutputDir   string   `yaml:"output_dir"`
	Wordlist    string   `yaml:"wordlist"`
	PassiveOnly bool     `yaml:"passive_only"`
	Strict      bool     `yaml:"strict"`
	Include     []string `yaml:"include"`
	Exclude     []string `yaml:"exclude"`
	WebhookURL  string   `yaml:"webhook_url"`
	Authorized  bool     `yaml:"-"` // only the CLI flag can set this
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Scan: ScanConfig{
			OutputDir: "./recon_results",
		},
		Tools:  defaultToolsConfig(),
		Limits: defaultLimitsConfig(),
		Report: defaultReportConfig(),
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv fills target and webhook from the environment when the CLI
// left them empty. Tool credentials are deliberately not read here; they
// pass through to the tools via the runner's env whitelist.
func (c *Config) ApplyEnv() {
	if len(c.Scan.Targets) == 0 {
		for _, key := range []string{"RECON_TARGET", "RECON_DOMAIN", "TARGET_DOMAIN"} {
			if v := os.Getenv(key); v != "" {
				c.Scan.Targets = []string{v}
				break
			}
		}
	}
	if c.Scan.WebhookURL == "" {
		c.Scan.WebhookURL = os.Getenv("WEBHOOK_URL")
	}
}

// Validate rejects configurations the engine cannot run.
func (c *Config) Validate() error {
	if len(c.Scan.Targets) == 0 {
		return fmt.Errorf("config: no target (use -d or RECON_TARGET)")
	}
	if c.Limits.Threads <= 0 {
		return fmt.Errorf("config: threads must be positive, got %d", c.Limits.Threads)
	}
	if c.Limits.BreakerThreshold <= 0 {
		return fmt.Errorf("config: breaker threshold must be positive, got %d", c.Limits.BreakerThreshold)
	}
	return nil
}

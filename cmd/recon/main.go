// Package main implements the recon CLI: an authorized external
// reconnaissance engine that orchestrates third-party scanning tools
// into a staged, resumable pipeline.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"reconmaster/internal/config"
	"reconmaster/internal/toolreg"
)

const version = "1.0.0"

// Exit codes per the CLI contract.
const (
	exitOK       = 0
	exitFailed   = 1 // stage failed under --strict
	exitInvalid  = 2 // bad invocation or missing authorization
	exitInternal = 3 // fatal internal error
)

var (
	flagDomains     []string
	flagOutput      string
	flagThreads     int
	flagWordlist    string
	flagPassiveOnly bool
	flagInclude     []string
	flagExclude     []string
	flagResume      bool
	flagConfig      string
	flagWebhook     string
	flagStrict      bool
	flagAuthorized  bool
	flagVerbose     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "recon",
	Short: "Staged external reconnaissance engine",
	Long: `recon orchestrates passive enumerators, DNS resolvers, HTTP probers,
crawlers, and vulnerability scanners into a staged pipeline and emits
structured artifacts plus an executive summary.

Scanning systems you are not authorized to test is illegal. The
--i-understand-this-requires-authorization flag is required.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if flagVerbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runScan,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the engine version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("recon %s\n", version)
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Show how each required external tool resolves",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}
		reg := toolreg.New(cfg.Tools.Overrides, cfg.Tools.LocalBin)
		table := reg.Table()
		names := make([]string, 0, len(table))
		for n := range table {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			if table[n] == "" {
				fmt.Printf("%-14s not installed\n", n)
			} else {
				fmt.Printf("%-14s %s\n", n, table[n])
			}
		}
		return nil
	},
}

func init() {
	pf := rootCmd.Flags()
	pf.StringArrayVarP(&flagDomains, "domain", "d", nil, "Target domain (repeatable)")
	pf.StringVarP(&flagOutput, "output", "o", "", "Run-root parent directory (default ./recon_results)")
	pf.IntVarP(&flagThreads, "threads", "t", 0, "Concurrent tool invocations (default 10)")
	pf.StringVarP(&flagWordlist, "wordlist", "w", "", "Brute-force wordlist path")
	pf.BoolVar(&flagPassiveOnly, "passive-only", false, "Run only passive stages")
	pf.StringArrayVar(&flagInclude, "include", nil, "Scope include regex (repeatable)")
	pf.StringArrayVar(&flagExclude, "exclude", nil, "Scope exclude regex (repeatable)")
	pf.BoolVar(&flagResume, "resume", false, "Resume the previous run if the config matches")
	pf.StringVar(&flagWebhook, "webhook", "", "POST summary.json to this URL on completion")
	pf.BoolVar(&flagStrict, "strict", false, "Exit nonzero when any stage fails")
	pf.BoolVar(&flagAuthorized, "i-understand-this-requires-authorization", false,
		"Acknowledge that you are authorized to scan the target")

	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file (flags override file values)")

	rootCmd.AddCommand(versionCmd, toolsCmd)
}

// buildConfig merges defaults, the YAML file, the environment, and the
// CLI flags, flags winning.
func buildConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Version = version
	if len(flagDomains) > 0 {
		cfg.Scan.Targets = flagDomains
	}
	if flagOutput != "" {
		cfg.Scan.OutputDir = flagOutput
	}
	if flagThreads > 0 {
		cfg.Limits.Threads = flagThreads
	}
	if flagWordlist != "" {
		cfg.Scan.Wordlist = flagWordlist
	}
	if flagPassiveOnly {
		cfg.Scan.PassiveOnly = true
	}
	if len(flagInclude) > 0 {
		cfg.Scan.Include = flagInclude
	}
	if len(flagExclude) > 0 {
		cfg.Scan.Exclude = flagExclude
	}
	if flagWebhook != "" {
		cfg.Scan.WebhookURL = flagWebhook
	}
	if flagStrict {
		cfg.Scan.Strict = true
	}
	cfg.Scan.Authorized = flagAuthorized
	cfg.ApplyEnv()
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitError carries an explicit process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if ee, ok := err.(*exitError); ok {
		return ee.code
	}
	return exitInternal
}

package config

// ToolsConfig controls binary resolution and the child environment.
type ToolsConfig struct {
	// Overrides maps tool name to an explicit binary path.
	Overrides map[string]string `yaml:"overrides"`
	// LocalBin is checked before $PATH. Defaults to <exe-dir>/bin.
	LocalBin string `yaml:"local_bin"`
	// AllowedEnv lists variables forwarded to children besides PATH and
	// HOME, typically provider API keys the enumerators need.
	AllowedEnv []string `yaml:"allowed_env"`
}

func defaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		AllowedEnv: []string{
			"SUBFINDER_CONFIG",
			"AMASS_CONFIG",
			"SHODAN_API_KEY",
			"VIRUSTOTAL_API_KEY",
			"SECURITYTRAILS_API_KEY",
		},
	}
}

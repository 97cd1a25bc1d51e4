package config

// ReportConfig controls finding filters and rendering.
type ReportConfig struct {
	// NucleiSeverity is the severity filter handed to nuclei.
	NucleiSeverity string `yaml:"nuclei_severity"`
	// HTML disables the HTML report when false.
	HTML bool `yaml:"html"`
}

func defaultReportConfig() ReportConfig {
	return ReportConfig{
		NucleiSeverity: "critical,high,medium,low",
		HTML:           true,
	}
}

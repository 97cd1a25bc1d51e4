package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"

	"reconmaster/internal/artifact"
)

//go:embed templates/report.html
var htmlSource string

var htmlTemplate = template.Must(template.New("report").Parse(htmlSource))

// HTML renders reports/full_report.html. The chart script is embedded in
// the template; the document makes no network fetches.
func HTML(store *artifact.Store, s *Summary) ([]byte, error) {
	data := struct {
		Summary     *Summary
		TopFindings []TopFinding
	}{Summary: s, TopFindings: topFindings(store, 25)}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("report: render html: %w", err)
	}
	return buf.Bytes(), nil
}

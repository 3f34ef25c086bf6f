package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"geodatenbezug/internal/domain"
)

// Subject is the subject line of the processing report.
const Subject = "Geodatenbezug Prozessierungsresultate"

const reportDateLayout = "02.01.2006 15:04:05"

var reportTemplate = template.Must(template.New("report").Parse(`<p>Guten Tag</p>
{{- if .Successes}}
<p>Die folgenden Themen wurden erfolgreich prozessiert:</p>
<table>
<tr><th style="text-align: left; padding: 10px;">Thema</th><th style="text-align: left; padding: 10px;">Kanton</th><th style="text-align: left; padding: 10px;">Aktualisiert am</th><th style="text-align: left; padding: 10px;"></th></tr>
{{- range .Successes}}
<tr><td style="text-align: left; padding: 10px;">{{.Title}}</td><td style="text-align: left; padding: 10px;">{{.Canton}}</td><td style="text-align: left; padding: 10px;">{{.UpdatedAt}}</td><td style="text-align: left; padding: 10px;"><a href="{{.DownloadURL}}">Herunterladen</a></td></tr>
{{- end}}
</table>
<br />
{{- end}}
{{- if .Failures}}
<p>Bei folgenden Themen traten während der Prozessierung Fehler auf:</p>
<table>
<tr><th style="text-align: left; padding: 10px;">Thema</th><th style="text-align: left; padding: 10px;">Kanton</th><th style="text-align: left; padding: 10px;">Aktualisiert am</th><th style="text-align: left; padding: 10px;">Fehler</th></tr>
{{- range .Failures}}
<tr><td style="text-align: left; padding: 10px;">{{.Title}}</td><td style="text-align: left; padding: 10px;">{{.Canton}}</td><td style="text-align: left; padding: 10px;">{{.UpdatedAt}}</td><td style="text-align: left; padding: 10px;">{{.Error}}</td></tr>
{{- end}}
</table>
{{- end}}
`))

type reportRow struct {
	Title       string
	Canton      string
	UpdatedAt   string
	DownloadURL string
	Error       string
}

type reportData struct {
	Successes []reportRow
	Failures  []reportRow
}

// Report is the rendered result of one run.
type Report struct {
	HTML        string
	Text        string
	HasFailures bool
}

// BuildReport renders the HTML tables of a run and derives a plain-text variant.
func BuildReport(outcomes []domain.ExportOutcome, loc *time.Location) (Report, error) {
	if loc == nil {
		loc = time.UTC
	}

	var data reportData
	for _, o := range outcomes {
		row := reportRow{
			Title:     o.TopicTitle,
			Canton:    o.Canton,
			UpdatedAt: formatUpdated(o.UpdatedAt, loc),
		}
		if o.Succeeded() {
			row.DownloadURL = o.DownloadURL
			data.Successes = append(data.Successes, row)
			continue
		}
		row.Error = o.Reason
		if o.Info != "" {
			row.Error = o.Reason + " - " + o.Info
		}
		data.Failures = append(data.Failures, row)
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return Report{}, fmt.Errorf("render report: %w", err)
	}

	text, err := plainText(buf.String())
	if err != nil {
		return Report{}, err
	}

	return Report{HTML: buf.String(), Text: text, HasFailures: len(data.Failures) > 0}, nil
}

// plainText flattens paragraphs and table rows of the HTML report.
func plainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse report: %w", err)
	}

	var b strings.Builder
	doc.Find("p, tr").Each(func(_ int, sel *goquery.Selection) {
		if goquery.NodeName(sel) == "p" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(strings.TrimSpace(sel.Text()))
			b.WriteString("\n")
			return
		}

		var cells []string
		sel.Children().Each(func(_ int, cell *goquery.Selection) {
			text := strings.TrimSpace(cell.Text())
			if href, ok := cell.Find("a").Attr("href"); ok {
				text = href
			}
			if text != "" {
				cells = append(cells, text)
			}
		})
		if len(cells) > 0 {
			b.WriteString(strings.Join(cells, " | "))
			b.WriteString("\n")
		}
	})
	return b.String(), nil
}

func formatUpdated(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format(reportDateLayout)
}

// Summary is a one-line digest used by chat notifiers.
func Summary(run domain.Run) string {
	failed := run.Failed()
	return fmt.Sprintf("%s: %d Themen prozessiert, %d erfolgreich, %d fehlgeschlagen",
		Subject, len(run.Outcomes), len(run.Outcomes)-failed, failed)
}

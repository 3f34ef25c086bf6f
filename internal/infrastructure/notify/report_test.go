package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geodatenbezug/internal/domain"
)

func zurich(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)
	return loc
}

func sampleOutcomes(t *testing.T) []domain.ExportOutcome {
	t.Helper()
	updated := time.Date(2023, time.November, 5, 15, 33, 22, 0, zurich(t))
	return []domain.ExportOutcome{
		{
			Code: 200, Reason: "Success", Info: "Processing completed",
			TopicTitle: "Perimeter LN- und Sömmerungsflächen", Canton: "SH",
			UpdatedAt: &updated, DownloadURL: "https://a-test.ch/link.zip",
		},
		{
			Code: 404, Reason: "Not Found", Info: domain.InvalidTokenMessage,
			TopicTitle: "Perimeter Terrassenreben", Canton: "SH", UpdatedAt: &updated,
		},
		{
			Code: 500, Reason: "Internal Server Error",
			TopicTitle: "Rebbaukataster", Canton: "VS",
		},
	}
}

func TestBuildReport(t *testing.T) {
	t.Parallel()

	report, err := BuildReport(sampleOutcomes(t), zurich(t))
	require.NoError(t, err)
	assert.True(t, report.HasFailures)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(report.HTML))
	require.NoError(t, err)

	tables := doc.Find("table")
	require.Equal(t, 2, tables.Length())

	success := tables.Eq(0).Find("tr")
	require.Equal(t, 2, success.Length())
	assert.Equal(t, []string{"Thema", "Kanton", "Aktualisiert am", ""}, cellTexts(success.Eq(0)))
	assert.Equal(t, []string{"Perimeter LN- und Sömmerungsflächen", "SH", "05.11.2023 15:33:22", "Herunterladen"}, cellTexts(success.Eq(1)))
	href, ok := success.Eq(1).Find("a").Attr("href")
	require.True(t, ok)
	assert.Equal(t, "https://a-test.ch/link.zip", href)

	failures := tables.Eq(1).Find("tr")
	require.Equal(t, 3, failures.Length())
	assert.Equal(t, []string{"Thema", "Kanton", "Aktualisiert am", "Fehler"}, cellTexts(failures.Eq(0)))
	assert.Equal(t, []string{"Perimeter Terrassenreben", "SH", "05.11.2023 15:33:22", "Not Found - " + domain.InvalidTokenMessage}, cellTexts(failures.Eq(1)))
	assert.Equal(t, []string{"Rebbaukataster", "VS", "", "Internal Server Error"}, cellTexts(failures.Eq(2)))
}

func TestBuildReportOnlySuccesses(t *testing.T) {
	t.Parallel()

	report, err := BuildReport(sampleOutcomes(t)[:1], zurich(t))
	require.NoError(t, err)
	assert.False(t, report.HasFailures)
	assert.NotContains(t, report.HTML, "Fehler auf")
	assert.Contains(t, report.HTML, "erfolgreich prozessiert")
}

func TestBuildReportPlainText(t *testing.T) {
	t.Parallel()

	report, err := BuildReport(sampleOutcomes(t), zurich(t))
	require.NoError(t, err)

	assert.Contains(t, report.Text, "Guten Tag\n")
	assert.Contains(t, report.Text, "Thema | Kanton | Aktualisiert am\n")
	assert.Contains(t, report.Text, "Perimeter LN- und Sömmerungsflächen | SH | 05.11.2023 15:33:22 | https://a-test.ch/link.zip\n")
	assert.Contains(t, report.Text, "Rebbaukataster | VS | Internal Server Error\n")
	assert.NotContains(t, report.Text, "<td")
}

func TestSummary(t *testing.T) {
	t.Parallel()

	run := domain.Run{Outcomes: sampleOutcomes(t)}
	assert.Equal(t, "Geodatenbezug Prozessierungsresultate: 3 Themen prozessiert, 1 erfolgreich, 2 fehlgeschlagen", Summary(run))
}

func cellTexts(row *goquery.Selection) []string {
	var cells []string
	row.Children().Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, strings.TrimSpace(cell.Text()))
	})
	return cells
}

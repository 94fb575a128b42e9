package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/logging"
)

const sampleLoadFile = `þDocIDþBatesNumberþCustodianþDateSentþSubjectþFromþToþFilePathþTextPath
þEMAIL001þABC00001þjohn.doe@acme.comþ2024-01-15þQuarterly Resultsþjohn.doe@acme.comþcfo@acme.comþ\NATIVES\EMAIL001.msgþ\TEXT\EMAIL001.txt
þDOC0001þABC00004þjane.roe@acme.comþ2024-01-20þContract Draft v3þN/AþN/Aþ\NATIVES\DOC0001.docxþ\TEXT\DOC0001.txt
`

func TestLoadFileParse(t *testing.T) {
	parser := NewLoadFileParser(logging.NewNopLogger())

	records, err := parser.Parse(strings.NewReader(sampleLoadFile))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "EMAIL001", first.DocID)
	assert.Equal(t, "ABC00001", first.BatesNumber)
	assert.Equal(t, "john.doe@acme.com", first.Custodian)
	assert.Equal(t, "2024-01-15", first.DateSent)
	assert.Equal(t, "Quarterly Results", first.Subject)
	assert.Equal(t, `\NATIVES\EMAIL001.msg`, first.FilePath)
	assert.Equal(t, `\TEXT\EMAIL001.txt`, first.ExtractedTextPath)

	assert.Equal(t, "DOC0001", records[1].DocID)
}

func TestLoadFileHeaderCaseInsensitive(t *testing.T) {
	content := "docidþSUBJECTþcustodian\nD1þhelloþjdoe\n"
	parser := NewLoadFileParser(logging.NewNopLogger())

	records, err := parser.Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "D1", records[0].DocID)
	assert.Equal(t, "hello", records[0].Subject)
	assert.Equal(t, "jdoe", records[0].Custodian)
}

func TestLoadFileUnknownColumnsPreserved(t *testing.T) {
	content := "DocIDþConfidentialityDesignation\nD1þHighly Confidential\n"
	parser := NewLoadFileParser(logging.NewNopLogger())

	records, err := parser.Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Highly Confidential", records[0].Metadata["ConfidentialityDesignation"])
	assert.Equal(t, "D1", records[0].Metadata["DocID"])
}

func TestLoadFileFieldNames(t *testing.T) {
	parser := NewLoadFileParser(logging.NewNopLogger())
	_, err := parser.Parse(strings.NewReader(sampleLoadFile))
	require.NoError(t, err)
	assert.Contains(t, parser.FieldNames(), "DocID")
	assert.Contains(t, parser.FieldNames(), "BatesNumber")
}

func TestEnrichmentExporterPipe(t *testing.T) {
	exporter, err := NewEnrichmentExporter("pipe")
	require.NoError(t, err)

	var buf bytes.Buffer
	records := []EnrichedRecord{
		{
			DocID:                  "EMAIL001",
			AIResponsive:           "Yes",
			AIResponsiveConfidence: 0.895,
			AIPrivileged:           "No",
			AIPrivilegeConfidence:  0.1,
			AIClassification:       "relevant",
			AITopics:               []string{"Financial Fraud", "Compliance"},
			HotScore:               89,
		},
	}
	require.NoError(t, exporter.Write(&buf, records))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	assert.Equal(t,
		"DocID|AI_Responsive|AI_Responsive_Confidence|AI_Privileged|AI_Privilege_Confidence|"+
			"AI_Privilege_Type|AI_Classification|AI_Topics|Hot_Score|AI_Sentiment|AI_Entities|"+
			"Redaction_Suggestions|Similar_Document_IDs",
		lines[0])

	fields := strings.Split(lines[1], "|")
	assert.Equal(t, "EMAIL001", fields[0])
	assert.Equal(t, "Yes", fields[1])
	assert.Equal(t, "0.90", fields[2], "confidence rounds to two decimals")
	assert.Equal(t, "0.10", fields[4])
	assert.Equal(t, "Financial Fraud;Compliance", fields[7])
	assert.Equal(t, "89", fields[8])
}

func TestEnrichmentExporterThorn(t *testing.T) {
	exporter, err := NewEnrichmentExporter("thorn")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, exporter.Write(&buf, []EnrichedRecord{{DocID: "D1", AIResponsive: "Maybe"}}))
	assert.Contains(t, buf.String(), "DocIDþAI_Responsive")
	assert.Contains(t, buf.String(), "D1þMaybe")
}

func TestEnrichmentExporterRejectsUnknownDelimiter(t *testing.T) {
	_, err := NewEnrichmentExporter("tab")
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
}

func TestFromAnalysisMapping(t *testing.T) {
	record := FromAnalysis("D1", 85, 60, "relevant", []string{"Attorney-Client"})
	assert.Equal(t, "Yes", record.AIResponsive)
	assert.InDelta(t, 0.85, record.AIResponsiveConfidence, 0.001)
	assert.Equal(t, "Yes", record.AIPrivileged)
	assert.Equal(t, "Attorney-Client", record.AIPrivilegeType)
	assert.Equal(t, 85, record.HotScore)

	record = FromAnalysis("D2", 20, 0, "not-relevant", nil)
	assert.Equal(t, "No", record.AIResponsive)
	assert.Equal(t, "No", record.AIPrivileged)
	assert.Empty(t, record.AIPrivilegeType)

	record = FromAnalysis("D3", 50, 0, "needs-review", nil)
	assert.Equal(t, "Maybe", record.AIResponsive)
}

func TestLoadFileRoundTripHeaderMapping(t *testing.T) {
	parser := NewLoadFileParser(logging.NewNopLogger())
	records, err := parser.Parse(strings.NewReader(sampleLoadFile))
	require.NoError(t, err)

	exporter, err := NewEnrichmentExporter("")
	require.NoError(t, err)

	out := make([]EnrichedRecord, 0, len(records))
	for _, r := range records {
		out = append(out, FromAnalysis(r.DocID, 70, 10, "relevant", nil))
	}

	var buf bytes.Buffer
	require.NoError(t, exporter.Write(&buf, out))
	assert.Contains(t, buf.String(), "EMAIL001|Yes|0.70")
	assert.Contains(t, buf.String(), "DOC0001|Yes|0.70")
}

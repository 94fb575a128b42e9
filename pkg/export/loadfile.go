// Package export reads review-tool load files and writes the enrichment CSV
// side-channel that review platforms import AI fields from.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "github.com/evidify/evidify-cli/pkg/errors"
	"github.com/evidify/evidify-cli/pkg/logging"
)

// ThornDelimiter is the standard review-tool load-file delimiter (0xFE).
const ThornDelimiter = 'þ'

// LoadFileRecord is one row of a parsed load file. Known columns map to
// struct fields; every column, known or not, is preserved in Metadata under
// its original header name.
type LoadFileRecord struct {
	DocID             string
	BatesNumber       string
	Custodian         string
	DateSent          string
	Subject           string
	From              string
	To                string
	FilePath          string
	ExtractedTextPath string
	Metadata          map[string]string
}

// LoadFileParser reads thorn-delimited load files. The first row is the
// schema header; field names match case-insensitively.
type LoadFileParser struct {
	log logging.Logger

	fieldNames []string
}

// NewLoadFileParser returns a parser.
func NewLoadFileParser(log logging.Logger) *LoadFileParser {
	return &LoadFileParser{log: log}
}

// FieldNames returns the header columns from the last parsed file.
func (p *LoadFileParser) FieldNames() []string {
	return append([]string(nil), p.fieldNames...)
}

// ParseFile parses a load file from disk.
func (p *LoadFileParser) ParseFile(path string) ([]LoadFileRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening load file %s: %v", apperrors.ErrParse, path, err)
	}
	defer f.Close()
	return p.Parse(f)
}

// Parse parses load-file content. Rows that fail to parse are skipped with a
// warning; a single bad row never aborts the load.
func (p *LoadFileParser) Parse(r io.Reader) ([]LoadFileRecord, error) {
	reader := csv.NewReader(r)
	reader.Comma = ThornDelimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading load file header: %v", apperrors.ErrParse, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	p.fieldNames = header

	var records []LoadFileRecord
	for rowNum := 2; ; rowNum++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			p.log.Warn("skipping unparsable load file row",
				logging.F("row", rowNum),
				logging.Err(err))
			continue
		}
		records = append(records, mapRow(header, row))
	}

	p.log.Info("load file parsed",
		logging.F("fields", len(header)),
		logging.F("records", len(records)))
	return records, nil
}

func mapRow(header, row []string) LoadFileRecord {
	record := LoadFileRecord{Metadata: make(map[string]string, len(header))}

	lower := make(map[string]string, len(header))
	for i, name := range header {
		value := ""
		if i < len(row) {
			value = row[i]
		}
		if name != "" {
			record.Metadata[name] = value
		}
		lower[strings.ToLower(name)] = value
	}

	pick := func(names ...string) string {
		for _, n := range names {
			if v := lower[n]; v != "" {
				return v
			}
		}
		return ""
	}

	record.DocID = pick("docid", "document_id")
	record.BatesNumber = pick("batesnumber", "bates_number")
	record.Custodian = pick("custodian")
	record.DateSent = pick("datesent", "date_sent", "date")
	record.Subject = pick("subject")
	record.From = pick("from")
	record.To = pick("to")
	record.FilePath = pick("filepath", "native_file_path")
	record.ExtractedTextPath = pick("textpath", "extracted_text_path")

	return record
}

package extraction

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DocumentInput builds the input for an attached file. CSV files become
// tabular input; everything else is sent as a document.
func DocumentInput(data []byte, mimeType, filename, caption string) (Input, error) {
	if isCSV(mimeType, filename) {
		header, rows, err := ParseCSV(data)
		if err != nil {
			return Input{}, err
		}
		return Input{Kind: KindTabular, Text: caption, Header: header, Rows: rows}, nil
	}
	return Input{Kind: KindDocument, Text: caption, Data: data, MIMEType: mimeType}, nil
}

func isCSV(mimeType, filename string) bool {
	mimeType = strings.ToLower(mimeType)
	if strings.HasPrefix(mimeType, "text/csv") || strings.HasPrefix(mimeType, "application/csv") {
		return true
	}
	return strings.EqualFold(filepath.Ext(filename), ".csv")
}

// ParseCSV reads a CSV export. The delimiter is guessed from the first line,
// since Brazilian bank exports commonly use semicolons.
func ParseCSV(data []byte) (header []string, rows [][]string, err error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	firstLine := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		firstLine = data[:i]
	}

	r := csv.NewReader(bytes.NewReader(data))
	if bytes.Count(firstLine, []byte(";")) > bytes.Count(firstLine, []byte(",")) {
		r.Comma = ';'
	}
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("parse csv: empty file")
	}
	for _, row := range all[1:] {
		if !blankRow(row) {
			rows = append(rows, row)
		}
	}
	return all[0], rows, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var tableDateLayouts = []string{"2006-01-02", "02/01/2006", "02/01/06", "2006/01/02"}

func parseTableDate(s string, in Input) (time.Time, bool) {
	for _, layout := range tableDateLayouts {
		if t, err := time.ParseInLocation(layout, s, in.location()); err == nil {
			return t.Add(12 * time.Hour), true
		}
	}
	return time.Time{}, false
}

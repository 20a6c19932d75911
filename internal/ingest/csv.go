package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/JonMunkholm/categorizer/internal/record"
)

// utf8BOM is commonly added by Windows programs.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV reads a CSV file. Input that is not valid UTF-8 is decoded as
// GB18030, the usual encoding of Chinese spreadsheets exported on Windows;
// bytes that remain invalid are replaced with '?'.
func ReadCSV(r io.Reader) ([]record.Record, error) {
	data, err := readLimited(r)
	if err != nil {
		return nil, err
	}
	text := decodeText(bytes.TrimPrefix(data, utf8BOM))

	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid csv: %w", err)
	}
	return toRecords(rows)
}

func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	if decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
		return string(decoded)
	}
	return strings.ToValidUTF8(string(data), "?")
}

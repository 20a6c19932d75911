// Package ingest reads record files (CSV, XLSX, JSON) into records.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/categorizer/internal/record"
)

// MaxFileSize is the largest accepted input (100MB).
var MaxFileSize int64 = 100 * 1024 * 1024

var (
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrEmptyFile           = errors.New("empty file")
)

// Format identifies an input file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// DetectFormat infers the format from a file name's extension.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, filepath.Ext(name))
	}
}

// ReadFile reads the records of the file at path.
func ReadFile(path string) ([]record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, filepath.Base(path))
}

// Read reads records from r, choosing the format by name.
func Read(r io.Reader, name string) ([]record.Record, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatXLSX:
		return ReadXLSX(r)
	case FormatJSON:
		return ReadJSON(r)
	default:
		return ReadCSV(r)
	}
}

// readLimited reads all of r, failing once MaxFileSize is exceeded.
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, fmt.Errorf("%w: exceeds %dMB limit", ErrFileTooLarge, MaxFileSize/(1024*1024))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}
	return data, nil
}

// ReadJSON reads a JSON array of objects. Non-object entries become nil
// records so that they are reported as malformed in place.
func ReadJSON(r io.Reader) ([]record.Record, error) {
	data, err := readLimited(r)
	if err != nil {
		return nil, err
	}
	recs, err := record.FromJSON(data)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrEmptyFile
	}
	return recs, nil
}

// toRecords turns a header row plus data rows into records. The header is
// the first non-empty row; empty rows are skipped. Blank header cells are
// named column_<n> and repeated names get a _<n> suffix.
// dedupeHeader names blank columns by position and suffixes repeated names
// with the lowest _N that no other column already uses.
func dedupeHeader(row []string) []string {
	header := make([]string, len(row))
	taken := make(map[string]bool, len(row))
	for i, h := range row {
		h = cleanCell(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		header[i] = h
		taken[h] = true
	}

	used := make(map[string]bool, len(row))
	for i, h := range header {
		if used[h] {
			for n := 2; ; n++ {
				key := fmt.Sprintf("%s_%d", h, n)
				if !used[key] && !taken[key] {
					h = key
					break
				}
			}
		}
		used[h] = true
		header[i] = h
	}
	return header
}

func toRecords(rows [][]string) ([]record.Record, error) {
	headerIdx := -1
	for i, row := range rows {
		if !isEmptyRow(row) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, ErrEmptyFile
	}

	header := dedupeHeader(rows[headerIdx])

	var out []record.Record
	for _, row := range rows[headerIdx+1:] {
		if isEmptyRow(row) {
			continue
		}
		rec := make(record.Record, len(header))
		for i, name := range header {
			if i < len(row) {
				rec[name] = cleanCell(row[i])
			} else {
				rec[name] = ""
			}
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: header without data rows", ErrEmptyFile)
	}
	return out, nil
}

// cleanCell trims whitespace and unwraps Excel text formulas such as
// ="00123", which ERP exports use to keep leading zeros.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 3 && strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	return s
}

// isEmptyRow returns true if all cells in the row are empty or whitespace.
func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

package ingest

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/categorizer/internal/record"
)

// ReadXLSX reads the first sheet of an Excel workbook.
func ReadXLSX(r io.Reader) ([]record.Record, error) {
	f, err := excelize.OpenReader(io.LimitReader(r, MaxFileSize))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, ErrEmptyFile
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return toRecords(rows)
}

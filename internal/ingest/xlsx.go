package ingest

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
)

// ReadXLSX parses one worksheet of a workbook; its first row is the header.
func ReadXLSX(name string, r io.Reader, opts Options) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, sheeterrors.NewImportError(sheeterrors.CodeUnreadableSource,
			fmt.Sprintf("failed to open workbook %s", name), err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		list := f.GetSheetList()
		if len(list) == 0 {
			return nil, sheeterrors.NewImportError(sheeterrors.CodeEmptySource,
				fmt.Sprintf("workbook %s has no worksheets", name), nil)
		}
		sheet = list[0]
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, sheeterrors.NewImportError(sheeterrors.CodeMalformedSource,
			fmt.Sprintf("workbook %s has no worksheet %q", name, sheet), err)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, sheeterrors.NewImportError(sheeterrors.CodeMalformedSource,
			fmt.Sprintf("failed to read worksheet %q of %s", sheet, name), err)
	}

	// Leading empty rows are skipped; the first non-empty row is the header.
	start := 0
	for start < len(rows) && isBlank(rows[start]) {
		start++
	}
	if start == len(rows) {
		return nil, sheeterrors.NewImportError(sheeterrors.CodeEmptySource,
			fmt.Sprintf("worksheet %q of %s is empty", sheet, name), nil)
	}

	header := trimTrailingBlank(rows[start])
	var records [][]string
	width := len(header)
	for _, row := range rows[start+1:] {
		if isBlank(row) {
			continue
		}
		rec := trimTrailingBlank(row)
		if len(rec) > width {
			width = len(rec)
		}
		records = append(records, rec)
	}
	// Data beyond the last header cell gets a generated column name.
	for len(header) < width {
		header = append(header, "")
	}
	return build(name, header, records, opts)
}

// trimTrailingBlank drops trailing empty cells, which excelize reports for
// styled but empty columns.
func trimTrailingBlank(row []string) []string {
	end := len(row)
	for end > 0 && row[end-1] == "" {
		end--
	}
	return row[:end]
}

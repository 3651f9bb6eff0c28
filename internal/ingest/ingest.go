// Package ingest reads CSV and XLSX files into typed tables ready to be
// loaded into a sheet.
package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/powersheet/sheetbase/internal/coerce"
	"github.com/powersheet/sheetbase/internal/db"
	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
	"github.com/powersheet/sheetbase/pkg/types"
)

// DefaultInferSample is the number of leading rows inspected per column
// when inferring its type.
const DefaultInferSample = 1000

// Format identifies a source file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Options controls how a source is read.
type Options struct {
	// Sheet selects the worksheet of an XLSX workbook; empty means the first
	Sheet string

	// Delimiter forces the CSV field delimiter; zero means sniff it
	Delimiter rune

	// ColumnTypes overrides inferred types by column name
	ColumnTypes map[string]string

	// InferSample bounds the rows inspected for type inference
	InferSample int
}

// Table is a parsed source. It satisfies catalog.TabularSource.
type Table struct {
	name    string
	columns []types.ColumnDef
	rows    [][]interface{}
}

// Name returns the source file name.
func (t *Table) Name() string { return t.name }

// Columns returns the sanitized column definitions.
func (t *Table) Columns() []types.ColumnDef { return t.columns }

// Rows returns the typed cell values.
func (t *Table) Rows() [][]interface{} { return t.rows }

// DetectFormat maps a file name to its format by extension.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	default:
		return "", sheeterrors.NewImportError(sheeterrors.CodeUnknownFormat,
			fmt.Sprintf("unsupported file type %q", filepath.Ext(name)), nil)
	}
}

// Open reads the file at path.
func Open(path string, opts Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sheeterrors.NewImportError(sheeterrors.CodeUnreadableSource,
			fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()
	return Read(filepath.Base(path), f, opts)
}

// Read parses r, choosing the reader from the extension of name.
func Read(name string, r io.Reader, opts Options) (*Table, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatXLSX:
		return ReadXLSX(name, r, opts)
	default:
		return ReadCSV(name, r, opts)
	}
}

// build turns a header and text records into a typed table.
func build(name string, header []string, records [][]string, opts Options) (*Table, error) {
	if len(header) == 0 {
		return nil, sheeterrors.NewImportError(sheeterrors.CodeEmptySource,
			fmt.Sprintf("%s has no header row", name), nil)
	}
	names := SanitizeHeader(header)

	for i, rec := range records {
		if len(rec) > len(names) {
			return nil, sheeterrors.NewImportError(sheeterrors.CodeMalformedSource,
				fmt.Sprintf("row %d has %d fields, header has %d", i+2, len(rec), len(names)), nil)
		}
	}

	sample := opts.InferSample
	if sample <= 0 {
		sample = DefaultInferSample
	}

	columns := make([]types.ColumnDef, len(names))
	rows := make([][]interface{}, len(records))
	for r := range rows {
		rows[r] = make([]interface{}, len(names))
	}
	for c, n := range names {
		kind, overridden, err := columnType(n, header[c], c, records, sample, opts.ColumnTypes)
		if err != nil {
			return nil, err
		}
		if r, err := fillColumn(rows, records, c, kind); err != nil {
			if overridden {
				return nil, sheeterrors.NewImportError(sheeterrors.CodeMalformedSource,
					fmt.Sprintf("row %d: value %q in column %q is not %s", r+2, records[r][c], n, kind), err)
			}
			// A value past the inference sample does not fit; keep the text.
			kind = types.TypeVarchar
			fillColumn(rows, records, c, kind)
		}
		columns[c] = types.ColumnDef{Name: n, Type: string(kind), Nullable: true}
	}

	return &Table{name: name, columns: columns, rows: rows}, nil
}

// fillColumn converts column c of every record to kind. Empty cells stay
// nil. On the first value that does not convert it returns that record's
// index and the cast error.
func fillColumn(rows [][]interface{}, records [][]string, c int, kind types.LogicalType) (int, error) {
	for r, rec := range records {
		if c >= len(rec) || rec[c] == "" {
			rows[r][c] = nil
			continue
		}
		if kind == types.TypeVarchar {
			rows[r][c] = rec[c]
			continue
		}
		v, err := coerce.Cast(rec[c], kind, '.')
		if err != nil {
			return r, err
		}
		rows[r][c] = v
	}
	return -1, nil
}

// columnType returns the override for the column if one is given under
// either its sanitized or original header, else the inferred type.
func columnType(name, original string, idx int, records [][]string, sample int, overrides map[string]string) (kind types.LogicalType, overridden bool, err error) {
	for _, key := range []string{name, original} {
		if typeName, ok := overrides[key]; ok {
			kind, err := coerce.ParseLogicalType(typeName)
			if err != nil {
				return "", true, sheeterrors.NewImportError(sheeterrors.CodeMalformedSource,
					fmt.Sprintf("invalid type for column %q", name), err)
			}
			return kind, true, nil
		}
	}

	samples := make([]string, 0, sample)
	for _, rec := range records {
		if len(samples) == sample {
			break
		}
		if idx < len(rec) {
			samples = append(samples, rec[idx])
		}
	}
	return coerce.InferType(samples), false, nil
}

// SanitizeHeader turns raw header cells into unique column names. Invalid
// characters are dropped, empty names become column_N and repeats (compared
// case-insensitively) get _2, _3 suffixes.
func SanitizeHeader(header []string) []string {
	taken := map[string]bool{strings.ToLower(db.RowOrderColumn): true}
	out := make([]string, len(header))
	for i, h := range header {
		base := db.SanitizeIdentifier(strings.TrimPrefix(h, "\ufeff"))
		if base == "" {
			base = fmt.Sprintf("column_%d", i+1)
		}
		name := base
		for n := 2; taken[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		taken[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}

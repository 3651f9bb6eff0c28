package catalog

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxDerivedNameLength bounds display names derived from an import hint or
// file name, in runes.
const MaxDerivedNameLength = 30

// TablePrefix prefixes every physical table created by the registry.
const TablePrefix = "sheet_"

// ColumnPrefix prefixes the letter-sequence column names of created sheets.
const ColumnPrefix = "col_"

// ColumnLetters returns the spreadsheet letter label of the zero-based
// column index: A..Z, AA..AZ, BA and so on.
func ColumnLetters(index int) string {
	var buf []byte
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		buf = append(buf, byte('A'+(n-1)%26))
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// ColumnName returns the physical column name for the zero-based index of
// a created sheet.
func ColumnName(index int) string {
	return ColumnPrefix + ColumnLetters(index)
}

// newIdentity allocates a sheet id and the physical table derived from it.
func newIdentity() (sheetID, table string) {
	id := uuid.New()
	return id.String(), TablePrefix + strings.ReplaceAll(id.String(), "-", "")
}

// derivedName picks the display name for an imported source.
func derivedName(hint, sourceName string) string {
	name := strings.TrimSpace(hint)
	if name == "" {
		base := filepath.Base(sourceName)
		name = strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	}
	if name == "" || name == "." {
		name = "Imported Sheet"
	}
	if utf8.RuneCountInString(name) > MaxDerivedNameLength {
		name = string([]rune(name)[:MaxDerivedNameLength])
	}
	return name
}

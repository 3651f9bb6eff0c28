package db

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
)

// MaxIdentifierLength bounds table and column names in bytes.
const MaxIdentifierLength = 128

const identPunct = " _-.()/%#$"

// ValidateIdentifier checks a table or column name against the allow-list.
// Identifiers cannot be bound as parameters, so everything that reaches a
// statement as an identifier passes through here first.
func ValidateIdentifier(name string) error {
	if name == "" {
		return invalidIdent(name, "identifier is empty")
	}
	if len(name) > MaxIdentifierLength {
		return invalidIdent(name, fmt.Sprintf("identifier exceeds %d bytes", MaxIdentifierLength))
	}
	if !utf8.ValidString(name) {
		return invalidIdent(name, "identifier is not valid UTF-8")
	}
	if strings.HasPrefix(strings.ToLower(name), "sqlite_") {
		return invalidIdent(name, "identifier uses the reserved sqlite_ prefix")
	}
	if strings.TrimSpace(name) != name {
		return invalidIdent(name, "identifier has leading or trailing whitespace")
	}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(identPunct, r) {
			continue
		}
		return invalidIdent(name, fmt.Sprintf("identifier contains disallowed character %q", r))
	}
	return nil
}

// SanitizeIdentifier drops disallowed characters from name. It returns an
// empty string when nothing usable remains.
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(identPunct, r) {
			b.WriteRune(r)
		}
	}
	s := strings.TrimSpace(b.String())
	for strings.HasPrefix(strings.ToLower(s), "sqlite_") {
		s = s[len("sqlite_"):]
	}
	for len(s) > MaxIdentifierLength {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return strings.TrimSpace(s)
}

// Quote returns name as a double-quoted SQL identifier. Callers validate
// first; the escaping here only guards against mistakes.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteAll quotes each name and joins them with ", ".
func QuoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = Quote(n)
	}
	return strings.Join(quoted, ", ")
}

func invalidIdent(name, reason string) error {
	return sheeterrors.NewSchemaError(sheeterrors.CodeInvalidIdentifier, reason).
		WithDetails(map[string]interface{}{"identifier": name})
}

// Package coerce maps requested logical types onto storage declarations and
// converts individual cell values between types.
//
// Conversions are best-effort: a value that cannot be represented in the
// target type yields a COERCION error, which callers turn into NULL.
package coerce

import (
	"strings"

	sheeterrors "github.com/powersheet/sheetbase/internal/errors"
	"github.com/powersheet/sheetbase/pkg/types"
)

var aliases = map[string]types.LogicalType{
	"VARCHAR":   types.TypeVarchar,
	"TEXT":      types.TypeVarchar,
	"STRING":    types.TypeVarchar,
	"CHAR":      types.TypeVarchar,
	"BPCHAR":    types.TypeVarchar,
	"INTEGER":   types.TypeInteger,
	"INT":       types.TypeInteger,
	"INT4":      types.TypeInteger,
	"INT8":      types.TypeInteger,
	"BIGINT":    types.TypeInteger,
	"SMALLINT":  types.TypeInteger,
	"TINYINT":   types.TypeInteger,
	"HUGEINT":   types.TypeInteger,
	"DOUBLE":    types.TypeDouble,
	"FLOAT":     types.TypeDouble,
	"FLOAT4":    types.TypeDouble,
	"FLOAT8":    types.TypeDouble,
	"REAL":      types.TypeDouble,
	"DECIMAL":   types.TypeDecimal,
	"NUMERIC":   types.TypeDecimal,
	"DATE":      types.TypeDate,
	"TIMESTAMP": types.TypeTimestamp,
	"DATETIME":  types.TypeTimestamp,
	"BOOLEAN":   types.TypeBoolean,
	"BOOL":      types.TypeBoolean,
	"LOGICAL":   types.TypeBoolean,
}

// ParseLogicalType resolves a requested type name, including common aliases
// and parameterized forms such as DECIMAL(18,3) or VARCHAR(255).
func ParseLogicalType(name string) (types.LogicalType, error) {
	base := strings.ToUpper(strings.TrimSpace(name))
	if i := strings.IndexByte(base, '('); i >= 0 {
		if !strings.HasSuffix(base, ")") {
			return "", unsupported(name)
		}
		base = strings.TrimSpace(base[:i])
	}
	base = strings.Join(strings.Fields(base), " ")
	if base == "DOUBLE PRECISION" {
		return types.TypeDouble, nil
	}
	if t, ok := aliases[base]; ok {
		return t, nil
	}
	return "", unsupported(name)
}

// DeclaredType returns the column declaration used for a logical type.
// SQLite derives storage affinity from the declaration and reports it back
// verbatim, so the logical name doubles as the native declaration.
func DeclaredType(t types.LogicalType) string {
	return string(t)
}

// LogicalTypeOf maps a declared column type back to a logical type.
// Declarations outside the supported set (legacy tables) map to VARCHAR.
func LogicalTypeOf(declared string) types.LogicalType {
	if t, err := ParseLogicalType(declared); err == nil {
		return t
	}
	return types.TypeVarchar
}

func unsupported(name string) error {
	return sheeterrors.NewSchemaError(sheeterrors.CodeUnsupportedType,
		"unsupported column type: "+name).WithDetails(map[string]interface{}{"type": name})
}

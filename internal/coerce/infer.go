package coerce

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/powersheet/sheetbase/pkg/types"
)

// InferType picks the narrowest logical type every non-blank sample parses
// as. Columns with no non-blank samples are VARCHAR.
func InferType(samples []string) types.LogicalType {
	allInt, allFloat, allBool, allDate, allTimestamp := true, true, true, true, true
	seen := 0

	for _, raw := range samples {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		seen++

		if allInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				allFloat = false
			}
		}
		if allBool {
			l := strings.ToLower(s)
			if l != "true" && l != "false" {
				allBool = false
			}
		}
		if allDate && !matchesAny(s, dateLayouts) {
			allDate = false
		}
		if allTimestamp && !matchesAny(s, timestampLayouts) {
			allTimestamp = false
		}
		if !allInt && !allFloat && !allBool && !allDate && !allTimestamp {
			return types.TypeVarchar
		}
	}

	switch {
	case seen == 0:
		return types.TypeVarchar
	case allInt:
		return types.TypeInteger
	case allFloat:
		return types.TypeDouble
	case allBool:
		return types.TypeBoolean
	case allDate:
		return types.TypeDate
	case allTimestamp:
		return types.TypeTimestamp
	default:
		return types.TypeVarchar
	}
}

func matchesAny(s string, layouts []string) bool {
	for _, layout := range layouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

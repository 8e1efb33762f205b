package table

import (
	"strconv"
	"strings"
)

// nullSpellings are cell texts treated as null, matching the usual
// missing-value markers in exported spreadsheets.
var nullSpellings = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"nan":  {},
	"null": {},
	"none": {},
}

// InferValue converts a raw cell string to its typed form:
// null spellings become nil, parseable numbers become float64,
// everything else stays a trimmed string.
func InferValue(s string) any {
	trimmed := strings.TrimSpace(s)
	if _, isNull := nullSpellings[strings.ToLower(trimmed)]; isNull {
		return nil
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return trimmed
}

// ValueString renders a cell for display and interchange output.
// Floats use the shortest representation that round-trips (501.0 -> "501").
func ValueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	default:
		return ""
	}
}

// ValueFloat returns the numeric form of a cell, false for nulls and text.
func ValueFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

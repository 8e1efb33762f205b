// Package zipcode normalizes postal codes to the canonical 5-character,
// left-zero-padded join key used across the pipeline.
package zipcode

import (
	"strconv"
	"strings"
)

// Length is the canonical postal code width.
const Length = 5

// Normalize returns the canonical form of a raw code: trimmed and
// left-padded with zeros to 5 characters. Inputs already 5 characters or
// longer pass through unchanged, so normalization is idempotent. Blank
// input stays blank; blank codes never survive cleaning upstream.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) >= Length {
		return s
	}
	return strings.Repeat("0", Length-len(s)) + s
}

// FromValue normalizes a table cell into a postal code. Numeric cells
// format with minimal digits first (501.0 -> "501" -> "00501"). Returns
// false for nulls and blank strings.
func FromValue(v any) (string, bool) {
	switch x := v.(type) {
	case float64:
		return Normalize(strconv.FormatFloat(x, 'f', -1, 64)), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return "", false
		}
		return Normalize(s), true
	default:
		return "", false
	}
}

package formatting

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// numericArtifact is the suffix left behind when a spreadsheet coerces an
// integer identifier to a float.
const numericArtifact = ".0"

// CellString renders a raw cell value as text. Nil renders as "".
func CellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return formatFloat(t)
	case float32:
		return formatFloat(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// formatFloat keeps the ".0" artifact for integral values so NormalizeSO sees
// the same text a spreadsheet export would produce.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += numericArtifact
	}
	return s
}

// NormalizeSO canonicalizes a raw service-order cell into its comparable key:
// surrounding whitespace is trimmed and a trailing ".0" is removed. The result
// is a fixed point, so NormalizeSO(NormalizeSO(x)) == NormalizeSO(x).
func NormalizeSO(v any) string {
	s := strings.TrimSpace(CellString(v))
	for strings.HasSuffix(s, numericArtifact) {
		s = strings.TrimSpace(strings.TrimSuffix(s, numericArtifact))
	}
	return s
}

// IsBlank reports whether a cell carries no usable text.
func IsBlank(v any) bool {
	return strings.TrimSpace(CellString(v)) == ""
}

// CollapseSpaces squeezes runs of whitespace into a single space.
func CollapseSpaces(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

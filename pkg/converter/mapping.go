// pkg/converter/mapping.go
package converter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Patterns for type extraction
var (
	precisionScalePattern = regexp.MustCompile(`(?:NUMBER|NUMERIC|DECIMAL)\((\d+)(?:,\s*(\d+))?\)`)
	varcharLengthPattern  = regexp.MustCompile(`\((\d+)\)`)
)

// getBaseType extracts the base type from a complex type definition
func getBaseType(fullType string) string {
	parts := strings.Split(fullType, "(")
	return strings.TrimSpace(parts[0])
}

// sqliteAffinity maps a source type to a SQLite column affinity following
// SQLite's own declared-type rules
func sqliteAffinity(sourceType string) string {
	t := strings.ToUpper(sourceType)

	switch {
	case t == "":
		return "TEXT"
	case strings.Contains(t, "INT"):
		return "INTEGER"
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"),
		strings.Contains(t, "STRING"), strings.Contains(t, "VARIANT"), strings.Contains(t, "OBJECT"),
		strings.Contains(t, "ARRAY"), strings.Contains(t, "JSON"):
		return "TEXT"
	case strings.Contains(t, "BLOB"), strings.Contains(t, "BINARY"), strings.Contains(t, "BYTEA"):
		return "BLOB"
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return "REAL"
	case strings.HasPrefix(t, "NUMBER"):
		// NUMBER(p,0) holds integers
		matches := precisionScalePattern.FindStringSubmatch(t)
		if len(matches) > 2 && (matches[2] == "" || matches[2] == "0") {
			return "INTEGER"
		}
		return "NUMERIC"
	default:
		return "NUMERIC"
	}
}

// handleVarcharType optimizes VARCHAR types
func (c *TypeConverter) handleVarcharType(fullType string) string {
	// For massive VARCHARs like VARCHAR(16777216), use TEXT
	if c.config.OptimizeStorage {
		matches := varcharLengthPattern.FindStringSubmatch(fullType)
		if len(matches) > 1 {
			length, err := strconv.Atoi(matches[1])
			if err == nil && length > c.config.MaxVarcharLength {
				c.logger.Debug("Converting large VARCHAR to TEXT",
					zap.String("original", fullType),
					zap.Int("length", length))
				return "TEXT"
			}

			if length > 10000 {
				return "TEXT"
			}
			return fmt.Sprintf("VARCHAR(%d)", length)
		}
	}

	// Default to TEXT for unspecified length or non-optimized case
	return "TEXT"
}

// handleNumberType processes NUMBER type with precision/scale
func (c *TypeConverter) handleNumberType(fullType string) string {
	matches := precisionScalePattern.FindStringSubmatch(fullType)

	// No precision/scale specified
	if len(matches) < 2 {
		return "NUMERIC"
	}

	precision, err := strconv.Atoi(matches[1])
	if err != nil {
		return "NUMERIC"
	}

	// Scale defaults to 0 if not specified
	scale := 0
	if len(matches) > 2 && matches[2] != "" {
		scale, err = strconv.Atoi(matches[2])
		if err != nil {
			scale = 0
		}
	}

	// For integers (scale = 0)
	if scale == 0 {
		if precision <= 4 {
			return "SMALLINT"
		} else if precision <= 9 {
			return "INTEGER"
		} else if precision <= 18 {
			return "BIGINT"
		}
		// For larger integers, use NUMERIC with precision
		return fmt.Sprintf("NUMERIC(%d)", precision)
	}

	// For decimals, preserve precision and scale
	if c.config.PreserveNumericPrecision {
		return fmt.Sprintf("NUMERIC(%d,%d)", precision, scale)
	}

	return "NUMERIC(38,6)"
}

// DetectTimeFormat analyzes a value to determine its timestamp format
func DetectTimeFormat(value string) string {
	// Common formats to check
	formats := []string{
		"2006-01-02T15:04:05Z",             // ISO8601 UTC
		"2006-01-02T15:04:05-07:00",        // ISO8601 with timezone
		"2006-01-02 15:04:05",              // SQL timestamp
		"2006-01-02",                       // Date only
		"20060102T150405Z",                 // Compact ISO8601
		"2006-01-02T15:04:05.999999Z",      // ISO8601 with microseconds
		"2006-01-02T15:04:05.999999-07:00", // ISO8601 with microseconds and TZ
	}

	for _, format := range formats {
		_, err := time.Parse(format, value)
		if err == nil {
			return format
		}
	}

	return ""
}

// pkg/converter/values.go
package converter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ConvertValue converts a record value to what a store column of targetType
// accepts in the given dialect
func (c *TypeConverter) ConvertValue(dialect string, value interface{}, targetType string, colName string) (interface{}, error) {
	switch dialect {
	case DialectPostgres:
		return c.ConvertValueForPostgres(value, targetType, colName)
	case DialectSQLite:
		return c.ConvertValueForSQLite(value, targetType, colName)
	default:
		return nil, fmt.Errorf("unsupported store dialect %q", dialect)
	}
}

// ConvertValueForSQLite converts a value for a SQLite column affinity.
// SQLite is dynamically typed, so only values the driver cannot bind
// are rewritten.
func (c *TypeConverter) ConvertValueForSQLite(value interface{}, targetType string, colName string) (interface{}, error) {
	if c.isNull(value) {
		return nil, nil
	}

	switch strings.ToUpper(targetType) {
	case "TEXT":
		return c.convertToText(value)
	case "INTEGER", "REAL", "NUMERIC":
		switch v := value.(type) {
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		case string, int, int8, int16, int32, int64, uint8, uint16, uint32, float32, float64:
			return v, nil
		}
	case "BLOB":
		if b, ok := value.([]byte); ok {
			return b, nil
		}
	}

	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case map[string]interface{}, []interface{}:
		return c.convertToJSON(v)
	default:
		return v, nil
	}
}

// ConvertValueForPostgres converts a value to a PostgreSQL compatible type
func (c *TypeConverter) ConvertValueForPostgres(value interface{}, targetType string, colName string) (interface{}, error) {
	// Handle NULL values
	if c.isNull(value) {
		return nil, nil
	}

	// Special handling based on target PostgreSQL type
	targetType = strings.ToLower(targetType)

	switch {
	case strings.HasPrefix(targetType, "varchar"), targetType == "text":
		return c.convertToText(value)

	case strings.HasPrefix(targetType, "numeric"),
		strings.HasPrefix(targetType, "decimal"),
		targetType == "integer",
		targetType == "smallint",
		targetType == "bigint",
		targetType == "double precision",
		targetType == "real":
		return c.convertToNumeric(value, targetType)

	case targetType == "boolean":
		return c.convertToBoolean(value)

	case strings.Contains(targetType, "timestamp"), targetType == "date":
		return c.convertToTimestamp(value)

	case targetType == "jsonb", targetType == "json":
		return c.convertToJSON(value)

	case targetType == "bytea":
		if b, ok := value.([]byte); ok {
			return b, nil
		}
		return c.convertToText(value)

	default:
		// Default to string conversion for unknown types
		strVal, err := c.convertToText(value)
		if err != nil {
			return nil, fmt.Errorf("fallback string conversion failed for %s: %w", colName, err)
		}
		return strVal, nil
	}
}

// isNull determines if a value should be treated as NULL
func (c *TypeConverter) isNull(value interface{}) bool {
	if value == nil {
		return true
	}

	if strVal, ok := value.(string); ok && strVal == "" {
		return c.config.EmptyStringAsNull
	}

	return false
}

// convertToText converts a value to text/string
func (c *TypeConverter) convertToText(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return fmt.Sprintf("%v", v), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case nil:
		return nil, nil
	default:
		// Try JSON marshaling for complex types
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), nil
		}
		return string(jsonBytes), nil
	}
}

// convertToNumeric converts a value to a numeric type
func (c *TypeConverter) convertToNumeric(value interface{}, targetType string) (interface{}, error) {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		// Already numeric, no conversion needed for database/sql
		return v, nil
	case string:
		cleaned := strings.TrimSpace(v)
		if cleaned == "" {
			return nil, nil
		}

		if strings.Contains(targetType, "int") {
			if intVal, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
				return intVal, nil
			}
		}
		if floatVal, err := strconv.ParseFloat(cleaned, 64); err == nil {
			// For integer types, convert to appropriate int type
			if strings.Contains(targetType, "int") {
				return int64(floatVal), nil
			}
			return floatVal, nil
		}

		return nil, fmt.Errorf("cannot convert string '%s' to numeric", v)
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to numeric", value)
	}
}

// convertToBoolean converts a value to boolean
func (c *TypeConverter) convertToBoolean(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case float64:
		return v != 0.0, nil
	case string:
		v = strings.ToLower(strings.TrimSpace(v))
		switch v {
		case "true", "t", "yes", "y", "1", "on":
			return true, nil
		case "false", "f", "no", "n", "0", "off":
			return false, nil
		default:
			return nil, fmt.Errorf("cannot convert string '%s' to boolean", v)
		}
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to boolean", value)
	}
}

// convertToTimestamp converts a value to timestamp
func (c *TypeConverter) convertToTimestamp(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}

		// Detect format (if possible)
		format := DetectTimeFormat(v)
		if format != "" {
			parsedTime, err := time.Parse(format, v)
			if err == nil {
				return parsedTime, nil
			}
		}

		// Try common formats
		layouts := []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006-01-02",
			time.RFC1123,
			time.RFC1123Z,
		}

		for _, layout := range layouts {
			parsedTime, err := time.Parse(layout, v)
			if err == nil {
				return parsedTime, nil
			}
		}

		return nil, fmt.Errorf("cannot parse '%s' as timestamp", v)

	case int64:
		// Assume Unix timestamp (seconds since epoch)
		return time.Unix(v, 0).UTC(), nil
	case float64:
		// Assume Unix timestamp with possible fractional seconds
		sec := int64(v)
		nsec := int64((v - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to timestamp", value)
	}
}

// convertToJSON handles conversion of complex types to JSONB
func (c *TypeConverter) convertToJSON(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil, nil
		}

		// Check if already valid JSON
		if json.Valid([]byte(v)) {
			return v, nil
		}

		// If not valid JSON, encode it as a JSON string
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal to JSON: %w", err)
		}
		return string(encoded), nil

	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		return c.convertToJSON(string(v))

	case nil:
		return nil, nil

	default:
		// For array and object types from Snowflake
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal to JSON: %w", err)
		}
		return string(jsonBytes), nil
	}
}

// NormalizeValue maps values read back from a store onto the types records
// carry: byte slices from text columns become strings
func NormalizeValue(value interface{}) interface{} {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}

// pkg/converter/converter.go
package converter

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/model"
)

// Storage dialects
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// TextType is the source type used for columns that may hold substituted values
const TextType = "TEXT"

// TypeConverter handles mapping and conversion of data types and values
type TypeConverter struct {
	logger *zap.Logger
	// Configuration options
	config TypeConverterConfig
}

// TypeConverterConfig provides configuration options for type conversion
type TypeConverterConfig struct {
	// Maximum VARCHAR length before converting to TEXT
	MaxVarcharLength int
	// Whether to optimize storage by reducing oversized VARCHARs
	OptimizeStorage bool
	// Whether to treat empty strings as NULL
	EmptyStringAsNull bool
	// Preserve original precision for numeric types
	PreserveNumericPrecision bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() TypeConverterConfig {
	return TypeConverterConfig{
		MaxVarcharLength:         10485760, // 10MB is PostgreSQL's TEXT practical limit
		OptimizeStorage:          true,
		EmptyStringAsNull:        false,
		PreserveNumericPrecision: true,
	}
}

// NewTypeConverter creates a new TypeConverter with default configuration
func NewTypeConverter(logger *zap.Logger) *TypeConverter {
	return NewTypeConverterWithConfig(logger, DefaultConfig())
}

// NewTypeConverterWithConfig creates a TypeConverter with custom configuration
func NewTypeConverterWithConfig(logger *zap.Logger, config TypeConverterConfig) *TypeConverter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TypeConverter{
		logger: logger,
		config: config,
	}
}

// StoreType maps a source column type to the column type of a store dialect
func (c *TypeConverter) StoreType(dialect, sourceType string) (string, error) {
	switch dialect {
	case DialectSQLite:
		return sqliteAffinity(sourceType), nil
	case DialectPostgres:
		return c.MapTypeToPostgres(sourceType)
	default:
		return "", fmt.Errorf("unsupported store dialect %q", dialect)
	}
}

// MapTypeToPostgres converts a Snowflake, SQLite or PostgreSQL source type to
// a PostgreSQL column type
func (c *TypeConverter) MapTypeToPostgres(sourceType string) (string, error) {
	// Handle NULL type
	if sourceType == "" || strings.EqualFold(sourceType, "NULL") {
		return "TEXT", nil
	}

	// Extract base type and handle special cases
	sourceType = strings.ToUpper(strings.TrimSpace(sourceType))
	baseType := getBaseType(sourceType)

	switch baseType {
	case "VARCHAR", "CHARACTER VARYING", "STRING", "CHAR", "CHARACTER", "NVARCHAR":
		return c.handleVarcharType(sourceType), nil
	case "TEXT", "CLOB":
		return "TEXT", nil
	case "NUMBER", "NUMERIC", "DECIMAL":
		return c.handleNumberType(sourceType), nil
	case "INT", "INTEGER", "INT4":
		return "INTEGER", nil
	case "BIGINT", "INT8":
		return "BIGINT", nil
	case "SMALLINT", "INT2", "TINYINT":
		return "SMALLINT", nil
	case "ARRAY", "OBJECT", "VARIANT", "JSON", "JSONB":
		return "JSONB", nil
	case "DATE":
		return "DATE", nil
	case "TIMESTAMP_NTZ", "TIMESTAMP", "DATETIME", "TIMESTAMP WITHOUT TIME ZONE":
		return "TIMESTAMP", nil
	case "TIMESTAMP_TZ", "TIMESTAMP_LTZ", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE":
		return "TIMESTAMP WITH TIME ZONE", nil
	case "BOOLEAN", "BOOL":
		return "BOOLEAN", nil
	case "FLOAT", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "REAL", "FLOAT4":
		return "DOUBLE PRECISION", nil
	case "BINARY", "VARBINARY", "BYTEA", "BLOB":
		return "BYTEA", nil
	default:
		// Log unexpected type and return error
		c.logger.Warn("Unknown source type encountered",
			zap.String("sourceType", sourceType))
		return "TEXT", fmt.Errorf("unknown source type: %s (mapped to TEXT as fallback)", sourceType)
	}
}

// ColumnDefinitions creates column definitions for a store dialect. User
// columns are always nullable.
func (c *TypeConverter) ColumnDefinitions(dialect string, columns []model.Column, quote func(string) string) ([]string, error) {
	definitions := make([]string, 0, len(columns))

	for _, col := range columns {
		colType, err := c.StoreType(dialect, col.DataType)
		if err != nil && colType == "" {
			return nil, err
		}

		definitions = append(definitions, fmt.Sprintf("%s %s NULL", quote(col.Name), colType))
	}

	return definitions, nil
}

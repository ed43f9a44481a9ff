// pkg/converter/converter_test.go
package converter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/model"
)

func TestStoreType(t *testing.T) {
	c := NewTypeConverter(zap.NewNop())

	tests := []struct {
		dialect string
		source  string
		want    string
	}{
		{DialectSQLite, "", "TEXT"},
		{DialectSQLite, "VARCHAR(16777216)", "TEXT"},
		{DialectSQLite, "NUMBER(38,0)", "INTEGER"},
		{DialectSQLite, "NUMBER(10,2)", "NUMERIC"},
		{DialectSQLite, "FLOAT", "REAL"},
		{DialectSQLite, "BIGINT", "INTEGER"},
		{DialectSQLite, "BINARY", "BLOB"},
		{DialectSQLite, "TIMESTAMP_NTZ", "NUMERIC"},
		{DialectPostgres, "VARCHAR(16777216)", "TEXT"},
		{DialectPostgres, "VARCHAR(40)", "VARCHAR(40)"},
		{DialectPostgres, "NUMBER(38,0)", "NUMERIC(38)"},
		{DialectPostgres, "NUMBER(9,0)", "INTEGER"},
		{DialectPostgres, "NUMBER(10,2)", "NUMERIC(10,2)"},
		{DialectPostgres, "TIMESTAMP_TZ", "TIMESTAMP WITH TIME ZONE"},
		{DialectPostgres, "VARIANT", "JSONB"},
		{DialectPostgres, "text", "TEXT"},
		{DialectPostgres, "bigint", "BIGINT"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect+"/"+tt.source, func(t *testing.T) {
			got, err := c.StoreType(tt.dialect, tt.source)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := c.StoreType(DialectPostgres, "GEOGRAPHY")
	assert.Error(t, err)
	assert.Equal(t, "TEXT", got)

	_, err = c.StoreType("oracle", "TEXT")
	assert.Error(t, err)
}

func TestColumnDefinitions(t *testing.T) {
	c := NewTypeConverter(zap.NewNop())
	quote := func(s string) string { return `"` + s + `"` }

	defs, err := c.ColumnDefinitions(DialectPostgres, []model.Column{
		{Name: "ssn", DataType: "TEXT"},
		{Name: "age", DataType: "NUMBER(3,0)"},
	}, quote)
	require.NoError(t, err)
	assert.Equal(t, []string{`"ssn" TEXT NULL`, `"age" SMALLINT NULL`}, defs)
}

func TestConvertValue(t *testing.T) {
	c := NewTypeConverter(zap.NewNop())
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		dialect string
		value   interface{}
		target  string
		want    interface{}
	}{
		{"pg text from int", DialectPostgres, int64(42), "TEXT", "42"},
		{"pg bigint from string", DialectPostgres, "42", "BIGINT", int64(42)},
		{"pg numeric from string", DialectPostgres, "4.5", "NUMERIC(10,2)", 4.5},
		{"pg boolean", DialectPostgres, "yes", "BOOLEAN", true},
		{"pg timestamp", DialectPostgres, "2024-05-01T12:00:00Z", "TIMESTAMP", ts},
		{"pg json object", DialectPostgres, map[string]interface{}{"a": 1}, "JSONB", `{"a":1}`},
		{"pg json plain string", DialectPostgres, "hello", "JSONB", `"hello"`},
		{"pg empty string kept", DialectPostgres, "", "TEXT", ""},
		{"pg null", DialectPostgres, nil, "TEXT", nil},
		{"sqlite time", DialectSQLite, ts, "NUMERIC", "2024-05-01T12:00:00Z"},
		{"sqlite bool", DialectSQLite, true, "INTEGER", int64(1)},
		{"sqlite text from float", DialectSQLite, 1.5, "TEXT", "1.5"},
		{"sqlite passthrough", DialectSQLite, "abc", "INTEGER", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ConvertValue(tt.dialect, tt.value, tt.target, "col")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := c.ConvertValue(DialectPostgres, "abc", "INTEGER", "col")
	assert.Error(t, err)
}

func TestEmptyStringAsNull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmptyStringAsNull = true
	c := NewTypeConverterWithConfig(zap.NewNop(), cfg)

	got, err := c.ConvertValue(DialectSQLite, "", "TEXT", "col")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "abc", NormalizeValue([]byte("abc")))
	assert.Equal(t, int64(1), NormalizeValue(int64(1)))
	assert.Nil(t, NormalizeValue(nil))
}

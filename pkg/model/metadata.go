// pkg/model/metadata.go
package model

import "strings"

// TableMetadata contains the structure information for an input table
type TableMetadata struct {
	Schema  string   // Schema name (may be empty for file sources)
	Table   string   // Table or file name
	Columns []Column // Column definitions in source order
}

// Column represents metadata about an input column
type Column struct {
	Name     string // Column name
	DataType string // Source data type (e.g. VARCHAR, NUMBER(38,0), TEXT)
	Nullable bool   // Whether column allows NULL values
}

// ColumnNames returns the column names in source order
func (tm *TableMetadata) ColumnNames() []string {
	names := make([]string, 0, len(tm.Columns))
	for _, col := range tm.Columns {
		names = append(names, col.Name)
	}
	return names
}

// GetColumnByName returns a column by name (case-insensitive)
// Returns nil if column not found
func (tm *TableMetadata) GetColumnByName(name string) *Column {
	normalizedName := normalizeColumnName(name)
	for i, col := range tm.Columns {
		if normalizeColumnName(col.Name) == normalizedName {
			return &tm.Columns[i]
		}
	}
	return nil
}

// FullName returns schema.table, or just the table when no schema is set
func (tm *TableMetadata) FullName() string {
	if tm.Schema == "" {
		return tm.Table
	}
	return tm.Schema + "." + tm.Table
}

func normalizeColumnName(name string) string {
	return strings.ToLower(name)
}

// pkg/config/input.go
package config

import "strings"

// InputKind identifies where staging records are read from
type InputKind string

const (
	InputCSV       InputKind = "csv"
	InputSnowflake InputKind = "snowflake"
	InputPostgres  InputKind = "postgres"
	InputSQLite    InputKind = "sqlite"
)

// InputSpec is a parsed input location
type InputSpec struct {
	Kind   InputKind
	Path   string // file path for csv and sqlite inputs
	Schema string
	Table  string
}

// ParseInput parses an input location.
//
//	data/customers.csv           csv file
//	snowflake://SCHEMA.TABLE     Snowflake table
//	postgres://schema.table      PostgreSQL table
//	sqlite://path/to/db#table    SQLite table
func ParseInput(location string) InputSpec {
	switch {
	case strings.HasPrefix(location, "snowflake://"):
		schema, table := splitQualified(strings.TrimPrefix(location, "snowflake://"))
		return InputSpec{Kind: InputSnowflake, Schema: schema, Table: table}
	case strings.HasPrefix(location, "postgres://"):
		schema, table := splitQualified(strings.TrimPrefix(location, "postgres://"))
		return InputSpec{Kind: InputPostgres, Schema: schema, Table: table}
	case strings.HasPrefix(location, "sqlite://"):
		rest := strings.TrimPrefix(location, "sqlite://")
		path, table, _ := strings.Cut(rest, "#")
		return InputSpec{Kind: InputSQLite, Path: path, Table: table}
	default:
		return InputSpec{Kind: InputCSV, Path: location}
	}
}

func splitQualified(name string) (string, string) {
	schema, table, found := strings.Cut(name, ".")
	if !found {
		return "", schema
	}
	return schema, table
}

// pkg/store/schema.go
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/David-Botos/pii-redact/pkg/converter"
	"github.com/David-Botos/pii-redact/pkg/model"
)

// Bookkeeping columns present on every data table
const (
	SeqColumn   = "_seq"
	BatchColumn = "_batch_id"
)

// Bookkeeping tables
const (
	CommitsTable     = "_commits"
	PropertiesTable  = "_table_properties"
	CheckpointsTable = "_checkpoints"
	PendingTable     = "_pending_batches"
	AuditTable       = "redaction_audit"
)

// quote quotes an identifier; the PostgreSQL rules are also valid SQLite
func quote(name string) string {
	return pq.QuoteIdentifier(name)
}

// seqDefinition returns the auto-incrementing append offset column
func (s *TableStore) seqDefinition() string {
	if s.dialect == converter.DialectPostgres {
		return quote(SeqColumn) + " BIGSERIAL PRIMARY KEY"
	}
	return quote(SeqColumn) + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

// bookkeepingDDL returns the statements creating the store's own tables
func (s *TableStore) bookkeepingDDL() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			table_name TEXT NOT NULL,
			batch_id TEXT NOT NULL,
			row_count BIGINT NOT NULL,
			committed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (table_name, batch_id)
		)`, quote(CommitsTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			table_name TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (table_name, key)
		)`, quote(PropertiesTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			source TEXT PRIMARY KEY,
			next_offset BIGINT NOT NULL,
			batch_id TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, quote(CheckpointsTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			source TEXT PRIMARY KEY,
			batch_offset BIGINT NOT NULL,
			row_count BIGINT NOT NULL,
			batch_id TEXT NOT NULL,
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, quote(PendingTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s,
			batch_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			constraint_name TEXT NOT NULL,
			action_expr TEXT NOT NULL,
			row_identifier BIGINT NOT NULL,
			reason TEXT NOT NULL,
			redacted_at TEXT NOT NULL
		)`, quote(AuditTable), s.seqDefinition()),
	}
}

// createTableDDL builds the CREATE TABLE statement for a data table
func (s *TableStore) createTableDDL(table string, columns []model.Column) (string, error) {
	defs, err := s.converter.ColumnDefinitions(s.dialect, columns, quote)
	if err != nil {
		return "", err
	}

	all := append([]string{s.seqDefinition(), quote(BatchColumn) + " TEXT NOT NULL"}, defs...)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(table), strings.Join(all, ",\n\t")), nil
}

// tableColumnsQuery lists a table's columns and declared types in order
func (s *TableStore) tableColumnsQuery() string {
	if s.dialect == converter.DialectPostgres {
		return `SELECT column_name AS name, data_type AS type
			FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1
			ORDER BY ordinal_position`
	}
	return `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`
}

// storedColumn is one row of the column listing
type storedColumn struct {
	Name string `db:"name"`
	Type string `db:"type"`
}

// describe reads the user columns of a table. A table that does not exist
// has no columns.
func (s *TableStore) describe(ctx context.Context, table string) ([]storedColumn, error) {
	var cols []storedColumn
	if err := s.db.SelectContext(ctx, &cols, s.tableColumnsQuery(), table); err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}

	out := make([]storedColumn, 0, len(cols))
	for _, c := range cols {
		if c.Name == SeqColumn || c.Name == BatchColumn {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// diffColumns compares an expected column set with an actual one
func diffColumns(table string, expected, actual []string) error {
	want := make(map[string]bool, len(expected))
	for _, c := range expected {
		want[c] = true
	}
	have := make(map[string]bool, len(actual))
	for _, c := range actual {
		have[c] = true
	}

	var missing, extra []string
	for _, c := range expected {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	for _, c := range actual {
		if !want[c] {
			extra = append(extra, c)
		}
	}

	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return &model.SchemaMismatchError{Table: table, Missing: missing, Extra: extra}
}

// pkg/source/source_test.go
package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/David-Botos/pii-redact/pkg/model"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBatchIDIsDeterministic(t *testing.T) {
	assert.Equal(t, BatchID("people.csv", 0, 100), BatchID("people.csv", 0, 100))
	assert.NotEqual(t, BatchID("people.csv", 0, 100), BatchID("people.csv", 100, 100))
	assert.NotEqual(t, BatchID("people.csv", 0, 100), BatchID("people.csv", 0, 99))
	assert.NotEqual(t, BatchID("a.csv", 0, 100), BatchID("b.csv", 0, 100))
}

func TestCSVSource(t *testing.T) {
	ctx := context.Background()
	path := writeCSV(t, "name,ssn,city\nalice,123-45-6789,Paris\nbob,,Oslo\ncarol,12,Rome\n")

	src, err := NewCSVSource(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "people.csv", src.Name())

	cols, err := src.Columns(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "ssn", cols[1].Name)
	assert.Equal(t, "TEXT", cols[1].DataType)

	batch, err := src.ReadBatch(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, int64(2), batch.NextOffset())
	assert.Equal(t, "alice", batch.Records[0]["name"])
	assert.Nil(t, batch.Records[1]["ssn"])
	assert.Contains(t, batch.Records[1], "ssn")

	batch, err = src.ReadBatch(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "carol", batch.Records[0]["name"])

	batch, err = src.ReadBatch(ctx, 3, 2)
	require.NoError(t, err)
	assert.True(t, batch.Empty())

	batch, err = src.ReadBatch(ctx, 10, 2)
	require.NoError(t, err)
	assert.True(t, batch.Empty())
}

func TestCSVSourceRejectsBadHeaders(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "duplicate column", content: "a,b,a\n1,2,3\n"},
		{name: "reserved column", content: "a,failed_expectations\n1,2\n"},
		{name: "empty file", content: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewCSVSource(writeCSV(t, tt.content), zap.NewNop())
			require.NoError(t, err)

			_, err = src.Columns(context.Background())
			var cfgErr *model.ConfigError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestCSVSourceMissingFile(t *testing.T) {
	_, err := NewCSVSource(filepath.Join(t.TempDir(), "missing.csv"), zap.NewNop())
	assert.Error(t, err)
}

func TestTableSource(t *testing.T) {
	ctx := context.Background()

	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "input.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE people (id INTEGER, name TEXT, ssn TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO people VALUES (3, 'carol', '12'), (1, 'alice', NULL), (2, 'bob', '123-45-6789')`)
	require.NoError(t, err)

	src, err := NewTableSource(db, "", "people", "id", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "people", src.Name())

	cols, err := src.Columns(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "INTEGER", cols[0].DataType)

	batch, err := src.ReadBatch(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, "alice", batch.Records[0]["name"])
	assert.Nil(t, batch.Records[0]["ssn"])
	assert.Equal(t, "bob", batch.Records[1]["name"])

	batch, err = src.ReadBatch(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "carol", batch.Records[0]["name"])
	assert.Equal(t, BatchID("people", 2, 1), batch.ID)
}

func TestTableSourceOrdersByPositionWithoutOrderColumn(t *testing.T) {
	src, err := NewTableSource(nil, "PUBLIC", "PEOPLE", "", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "PUBLIC.PEOPLE", src.Name())
	assert.Equal(t, "1, 2, 3", src.orderClause(3))
	assert.Equal(t, `"PUBLIC"."PEOPLE"`, src.qualified)
}

func TestTableSourceResolvesOrderColumn(t *testing.T) {
	ctx := context.Background()

	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "input.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE people (ID INTEGER, NAME TEXT)`)
	require.NoError(t, err)

	src, err := NewTableSource(db, "", "people", "id", zap.NewNop())
	require.NoError(t, err)
	_, err = src.Columns(ctx)
	require.NoError(t, err)
	assert.Equal(t, `"ID"`, src.orderClause(2))

	missing, err := NewTableSource(db, "", "people", "created_at", zap.NewNop())
	require.NoError(t, err)
	_, err = missing.Columns(ctx)
	var cfgErr *model.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

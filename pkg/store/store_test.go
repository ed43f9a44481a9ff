// pkg/store/store_test.go
package store

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/David-Botos/pii-redact/pkg/model"
)

var quarantineColumns = []model.Column{
	{Name: "name", DataType: "TEXT", Nullable: true},
	{Name: "ssn", DataType: "TEXT", Nullable: true},
	{Name: "age", DataType: "INTEGER", Nullable: true},
	{Name: model.FailedExpectationsColumn, DataType: "TEXT", Nullable: true},
}

func newSQLiteStore(t *testing.T) *TableStore {
	t.Helper()

	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := New(db, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func quarantineRecord(name, ssn string, age int64, failed ...string) model.Record {
	encoded, _ := model.FailedExpectationSet(failed).Encode()
	return model.Record{
		"name":                         name,
		"ssn":                          ssn,
		"age":                          age,
		model.FailedExpectationsColumn: encoded,
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = New(sqlx.NewDb(db, "mysql"), zap.NewNop())
	assert.Error(t, err)
}

func TestEnsureTable(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	require.NoError(t, s.EnsureTable(ctx, "quarantine", quarantineColumns))
	// second call validates the existing table
	require.NoError(t, s.EnsureTable(ctx, "quarantine", quarantineColumns))

	cols, err := s.TableColumns(ctx, "quarantine")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "ssn", "age", model.FailedExpectationsColumn}, cols)

	err = s.EnsureTable(ctx, "quarantine", quarantineColumns[:2])
	var mismatch *model.SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, []string{"age", model.FailedExpectationsColumn}, mismatch.Extra)
}

func TestEnsureTableRejectsReservedColumns(t *testing.T) {
	s := newSQLiteStore(t)

	err := s.EnsureTable(context.Background(), "t", []model.Column{{Name: SeqColumn, DataType: "TEXT"}})
	var cfgErr *model.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestAppendIsIdempotentPerBatch(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.EnsureTable(ctx, "quarantine", quarantineColumns))

	records := []model.Record{
		quarantineRecord("alice", "12", 31, "ssn_short"),
		quarantineRecord("bob", "123-45-6789", 40),
	}

	appended, err := s.Append(ctx, "quarantine", "b1", records)
	require.NoError(t, err)
	assert.True(t, appended)

	appended, err = s.Append(ctx, "quarantine", "b1", records)
	require.NoError(t, err)
	assert.False(t, appended)

	count, err := s.Count(ctx, "quarantine")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	committed, err := s.IsCommitted(ctx, "quarantine", "b1")
	require.NoError(t, err)
	assert.True(t, committed)

	rows, err := s.ReadBatch(ctx, "quarantine", "b1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Less(t, rows[0].Seq, rows[1].Seq)
	assert.Equal(t, "alice", rows[0].Record["name"])
	assert.Equal(t, int64(31), rows[0].Record["age"])
	assert.NotContains(t, rows[0].Record, SeqColumn)
	assert.NotContains(t, rows[0].Record, BatchColumn)
}

func TestAppendEmptyBatchIsCommitted(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.EnsureTable(ctx, "quarantine", quarantineColumns))

	appended, err := s.Append(ctx, "quarantine", "empty", nil)
	require.NoError(t, err)
	assert.True(t, appended)

	committed, err := s.IsCommitted(ctx, "quarantine", "empty")
	require.NoError(t, err)
	assert.True(t, committed)
}

func TestAppendRejectsMismatchedRecord(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.EnsureTable(ctx, "quarantine", quarantineColumns))

	_, err := s.Append(ctx, "quarantine", "b1", []model.Record{{"name": "alice"}})
	var mismatch *model.SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))

	committed, err := s.IsCommitted(ctx, "quarantine", "b1")
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestAppendRequiresEnsuredTable(t *testing.T) {
	s := newSQLiteStore(t)

	_, err := s.Append(context.Background(), "missing", "b1", nil)
	assert.Error(t, err)
}

func TestAppendWithAudit(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.EnsureTable(ctx, "redacted", quarantineColumns))

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ops := []model.RedactionOperation{{
		BatchID:        "b1",
		TableName:      "redacted",
		ColumnName:     "ssn",
		ConstraintName: "ssn_short",
		ActionExpr:     "mask(ssn)",
		RowIdentifier:  1,
		Reason:         model.ReasonFailedConstraint,
		RedactedAt:     at,
	}}

	appended, err := s.AppendWithAudit(ctx, "redacted", "b1",
		[]model.Record{quarantineRecord("alice", "**", 31, "ssn_short")}, ops)
	require.NoError(t, err)
	assert.True(t, appended)

	got, err := s.Redactions(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, ops, got)

	count, err := s.CountRedactions(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// replay writes neither rows nor audit
	appended, err = s.AppendWithAudit(ctx, "redacted", "b1",
		[]model.Record{quarantineRecord("alice", "**", 31, "ssn_short")}, ops)
	require.NoError(t, err)
	assert.False(t, appended)

	count, err = s.CountRedactions(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestScanFailedNames(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.EnsureTable(ctx, "quarantine", quarantineColumns))

	names, last, err := s.ScanFailedNames(ctx, "quarantine", 0)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Equal(t, int64(0), last)

	_, err = s.Append(ctx, "quarantine", "b1", []model.Record{
		quarantineRecord("alice", "12", 31, "ssn_short"),
		quarantineRecord("bob", "1", 40, "ssn_short", "name_upper"),
	})
	require.NoError(t, err)

	names, last, err = s.ScanFailedNames(ctx, "quarantine", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ssn_short", "name_upper"}, names)
	assert.Equal(t, int64(2), last)

	_, err = s.Append(ctx, "quarantine", "b2", []model.Record{
		quarantineRecord("carol", "", 22, "ssn_is_null"),
	})
	require.NoError(t, err)

	names, last, err = s.ScanFailedNames(ctx, "quarantine", last)
	require.NoError(t, err)
	assert.Equal(t, []string{"ssn_is_null"}, names)
	assert.Equal(t, int64(3), last)
}

func TestPropertiesAndCheckpoints(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	_, ok, err := s.Property(ctx, "clean", "may_contain_pii")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetProperty(ctx, "clean", "may_contain_pii", "true"))
	require.NoError(t, s.SetProperty(ctx, "clean", "may_contain_pii", "false"))

	value, ok, err := s.Property(ctx, "clean", "may_contain_pii")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "false", value)

	offset, err := s.Checkpoint(ctx, "people.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)

	require.NoError(t, s.SaveCheckpoint(ctx, "people.csv", 100, "b1"))
	require.NoError(t, s.SaveCheckpoint(ctx, "people.csv", 200, "b2"))

	offset, err = s.Checkpoint(ctx, "people.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(200), offset)
}

func TestPendingBatchClearedByCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	_, ok, err := s.Pending(ctx, "people.csv")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.BeginBatch(ctx, "people.csv", 200, 3, "b3"))
	pending, ok, err := s.Pending(ctx, "people.csv")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, PendingBatch{Offset: 200, Rows: 3, BatchID: "b3"}, pending)

	require.NoError(t, s.SaveCheckpoint(ctx, "people.csv", 203, "b3"))
	_, ok, err = s.Pending(ctx, "people.csv")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresQueriesUseNumberedPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := New(sqlx.NewDb(db, "postgres"), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "_table_properties" (table_name, key, value) VALUES ($1, $2, $3)`)).
		WithArgs("clean", "may_contain_pii", "false").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.SetProperty(ctx, "clean", "may_contain_pii", "false"))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT next_offset FROM "_checkpoints" WHERE source = $1`)).
		WithArgs("people").
		WillReturnRows(sqlmock.NewRows([]string{"next_offset"}))
	offset, err := s.Checkpoint(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "_commits" WHERE table_name = $1 AND batch_id = $2`)).
		WithArgs("clean", "b1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	committed, err := s.IsCommitted(ctx, "clean", "b1")
	require.NoError(t, err)
	assert.True(t, committed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := New(sqlx.NewDb(db, "postgres"), zap.NewNop())
	require.NoError(t, err)
	s.schemas["clean"] = []storedColumn{{Name: "name", Type: "text"}}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "_commits"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "clean" ("_batch_id", "name") VALUES ($1, $2)`)).
		ExpectExec().
		WithArgs("b1", "alice").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = s.Append(context.Background(), "clean", "b1", []model.Record{{"name": "alice"}})
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// pkg/pipeline/error_test.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/model"
	"github.com/David-Botos/pii-redact/pkg/redaction"
)

func TestCategorizeError(t *testing.T) {
	eh := NewErrorHandler(zap.NewNop(), 3)

	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{name: "nil", err: nil, want: ErrorCategoryNone},
		{name: "config", err: fmt.Errorf("compile: %w", model.NewConfigError("ssn", "bad", nil)), want: ErrorCategoryConfig},
		{name: "schema", err: &StageError{Stage: StageMerge, Err: &model.SchemaMismatchError{Table: "clean"}}, want: ErrorCategorySchema},
		{name: "uncovered", err: fmt.Errorf("row 1: %w", redaction.ErrUncovered), want: ErrorCategoryVerification},
		{name: "verification", err: fmt.Errorf("batch b: %w", ErrVerification), want: ErrorCategoryVerification},
		{name: "evaluation", err: &model.EvaluationError{ConstraintName: "c", Column: "ssn", Err: errors.New("x")}, want: ErrorCategoryEvaluation},
		{name: "cancelled", err: fmt.Errorf("read: %w", context.Canceled), want: ErrorCategoryCancelled},
		{name: "connection", err: errors.New("database is locked"), want: ErrorCategoryConnection},
		{name: "storage", err: errors.New("UNIQUE constraint failed"), want: ErrorCategoryStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eh.CategorizeError(tt.err))
		})
	}
}

func TestHandleError(t *testing.T) {
	eh := NewErrorHandler(zap.NewNop(), 2)

	storage := NewErrorRecord(errors.New("disk I/O error"), ErrorCategoryStorage)
	assert.Equal(t, ActionRetry, eh.HandleError(storage))
	assert.Equal(t, ActionRetry, eh.HandleError(storage.WithRetry(1)))
	assert.Equal(t, ActionAbort, eh.HandleError(storage.WithRetry(2)))

	schema := NewErrorRecord(&model.SchemaMismatchError{Table: "clean"}, ErrorCategorySchema)
	assert.Equal(t, ActionAbort, eh.HandleError(schema))

	config := NewErrorRecord(model.NewConfigError("x", "bad", nil), ErrorCategoryConfig)
	assert.Equal(t, ActionAbort, eh.HandleError(config))

	assert.Equal(t, 3, eh.GetErrorSummary()[ErrorCategoryStorage])
	assert.Len(t, eh.GetErrorSamples()[ErrorCategorySchema], 1)
}

func TestErrorRecordString(t *testing.T) {
	r := NewErrorRecord(errors.New("boom"), ErrorCategoryStorage).
		WithBatch("b1", StageRedact).
		WithRetry(2)
	assert.Equal(t, "[Storage] Batch: b1 Stage: redact Error: boom (Retry: 2)", r.String())
}

type countStore struct {
	counts  map[string]int64
	columns []string
}

func (c *countStore) CountBatch(_ context.Context, table, _ string) (int64, error) {
	return c.counts[table], nil
}

func (c *countStore) TableColumns(context.Context, string) ([]string, error) {
	return c.columns, nil
}

func TestVerifyBatch(t *testing.T) {
	columns := []string{"name", "ssn"}
	good := &countStore{
		counts: map[string]int64{
			model.TableClean:          3,
			model.TableQuarantine:     2,
			model.TableRedacted:       2,
			model.TableCleanProcessed: 5,
		},
		columns: []string{"ssn", "name"},
	}

	report, err := NewVerifier(good, columns, zap.NewNop()).VerifyBatch(context.Background(), "b1", 5)
	assert.NoError(t, err)
	assert.True(t, report.Reconciled())

	bad := &countStore{
		counts: map[string]int64{
			model.TableClean:          3,
			model.TableQuarantine:     2,
			model.TableRedacted:       1,
			model.TableCleanProcessed: 4,
		},
		columns: []string{"name", "ssn", "failed_expectations"},
	}

	report, err = NewVerifier(bad, columns, zap.NewNop()).VerifyBatch(context.Background(), "b1", 5)
	assert.ErrorIs(t, err, ErrVerification)
	assert.False(t, report.StructureMatches)
	assert.Len(t, report.Discrepancies, 2)
}

func TestRunSummaryReport(t *testing.T) {
	s := NewRunSummary("run-1", "people.csv", 0)
	s.AddBatchResult(BatchResult{Success: true, Offset: 0, RowsRead: 4, CleanRows: 3, QuarantinedRows: 1, Redactions: 2})
	s.AddBatchResult(BatchResult{Errors: []ErrorRecord{NewErrorRecord(errors.New("x"), ErrorCategoryStorage)}})
	s.Complete()

	assert.Equal(t, int64(4), s.EndOffset)
	assert.Equal(t, 50.0, s.SuccessRate())
	report := s.Report()
	assert.Contains(t, report, "Quarantined Rows:        1 (25.0%)")
	assert.Contains(t, report, "- Storage: 1 (100.0%)")
}

// pkg/redaction/apply.go
package redaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/expectation"
	"github.com/David-Botos/pii-redact/pkg/model"
)

// ErrUncovered is returned when a quarantined record failed a column the
// projection passes through
var ErrUncovered = errors.New("failed column not covered by redaction projection")

// Result holds the redacted rows of one batch and the audit trail of every
// substituted cell
type Result struct {
	Rows         []model.Record
	Operations   []model.RedactionOperation
	ActionErrors []error
}

// Redactor applies a projection to quarantined rows
type Redactor struct {
	set    *expectation.Set
	logger *zap.Logger
	now    func() time.Time
}

// NewRedactor creates a Redactor for a compiled expectation set
func NewRedactor(set *expectation.Set, logger *zap.Logger) (*Redactor, error) {
	if set == nil {
		return nil, errors.New("expectation set cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Redactor{
		set:    set,
		logger: logger.Named("redactor"),
		now:    time.Now,
	}, nil
}

// CheckCoverage verifies every record's failed columns are substituted
func (r *Redactor) CheckCoverage(projection model.RedactionProjection, records []model.QuarantinedRecord) error {
	for i, rec := range records {
		for _, name := range rec.Failed {
			exp, ok := r.set.Lookup(name)
			if !ok {
				return model.NewConfigError(name, "failed expectation is not part of the compiled rule set", nil)
			}
			if !projection.IsSubstituted(exp.Column) {
				return fmt.Errorf("record %d column %s (%s): %w", i, exp.Column, name, ErrUncovered)
			}
		}
	}
	return nil
}

// Redact applies one projection uniformly to every row of a batch read from
// the quarantine table. A record that only failed one column still has every
// substituted column replaced. The failed_expectations column is carried
// over unchanged. When an action cannot be evaluated the cell becomes NULL;
// the raw value is never passed through.
func (r *Redactor) Redact(
	ctx context.Context,
	projection model.RedactionProjection,
	batchID, table string,
	rows []model.StoredRecord,
) (*Result, error) {
	if err := projection.Validate(); err != nil {
		return nil, fmt.Errorf("invalid projection: %w", err)
	}

	quarantined := make([]model.QuarantinedRecord, 0, len(rows))
	for _, row := range rows {
		q, err := model.SplitRow(row.Record)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row.Seq, err)
		}
		quarantined = append(quarantined, q)
	}

	if err := r.CheckCoverage(projection, quarantined); err != nil {
		return nil, err
	}

	result := &Result{Rows: make([]model.Record, 0, len(rows))}
	redactedAt := r.now().UTC()

	for i, q := range quarantined {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ownColumns := r.failedColumns(q.Failed)
		out := make(model.Record, len(projection.Columns)+1)

		for _, col := range projection.Passthrough {
			out[col] = q.Record[col]
		}

		for _, sub := range projection.Substitutions {
			value, err := sub.Transform(ctx, q.Record[sub.Column])
			if err != nil {
				result.ActionErrors = append(result.ActionErrors, &model.EvaluationError{
					ConstraintName: sub.ConstraintName,
					Column:         sub.Column,
					Err:            err,
				})
				value = nil
			}
			out[sub.Column] = value

			reason := model.ReasonBatchProjection
			if ownColumns[sub.Column] {
				reason = model.ReasonFailedConstraint
			}
			result.Operations = append(result.Operations, model.RedactionOperation{
				BatchID:        batchID,
				TableName:      table,
				ColumnName:     sub.Column,
				ConstraintName: sub.ConstraintName,
				ActionExpr:     sub.ActionExpr,
				RowIdentifier:  rows[i].Seq,
				Reason:         reason,
				RedactedAt:     redactedAt,
			})
		}

		out[model.FailedExpectationsColumn] = rows[i].Record[model.FailedExpectationsColumn]
		result.Rows = append(result.Rows, out)
	}

	if len(result.ActionErrors) > 0 {
		r.logger.Warn("Redaction actions failed; substituted NULL",
			zap.String("batch_id", batchID),
			zap.Int("error_count", len(result.ActionErrors)),
			zap.Error(result.ActionErrors[0]))
	}

	return result, nil
}

// failedColumns maps a record's failed names to their columns
func (r *Redactor) failedColumns(failed model.FailedExpectationSet) map[string]bool {
	cols := make(map[string]bool, len(failed))
	for _, name := range failed {
		if exp, ok := r.set.Lookup(name); ok {
			cols[exp.Column] = true
		}
	}
	return cols
}

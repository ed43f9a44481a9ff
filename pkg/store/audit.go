// pkg/store/audit.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/David-Botos/pii-redact/pkg/model"
)

// insertAudit records substituted cells inside tx. Only the action applied
// is stored, never the value it replaced.
func (s *TableStore) insertAudit(ctx context.Context, tx *sqlx.Tx, operations []model.RedactionOperation) error {
	stmt, err := tx.PreparexContext(ctx, s.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s
		(batch_id, table_name, column_name, constraint_name, action_expr,
		 row_identifier, reason, redacted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, quote(AuditTable))))
	if err != nil {
		return fmt.Errorf("failed to prepare audit statement: %w", err)
	}
	defer stmt.Close()

	for _, op := range operations {
		_, err := stmt.ExecContext(ctx,
			op.BatchID,
			op.TableName,
			op.ColumnName,
			op.ConstraintName,
			op.ActionExpr,
			op.RowIdentifier,
			op.Reason,
			op.RedactedAt.UTC().Format(redactedAtFormat),
		)
		if err != nil {
			return fmt.Errorf("failed to insert redaction operation: %w", err)
		}
	}
	return nil
}

// auditRow mirrors a redaction_audit row
type auditRow struct {
	BatchID        string `db:"batch_id"`
	TableName      string `db:"table_name"`
	ColumnName     string `db:"column_name"`
	ConstraintName string `db:"constraint_name"`
	ActionExpr     string `db:"action_expr"`
	RowIdentifier  int64  `db:"row_identifier"`
	Reason         string `db:"reason"`
	RedactedAt     string `db:"redacted_at"`
}

// Redactions returns the audit trail of a batch
func (s *TableStore) Redactions(ctx context.Context, batchID string) ([]model.RedactionOperation, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(fmt.Sprintf(`
		SELECT batch_id, table_name, column_name, constraint_name, action_expr,
			row_identifier, reason, redacted_at
		FROM %s WHERE batch_id = ? ORDER BY %s`, quote(AuditTable), quote(SeqColumn))), batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to read redaction audit: %w", err)
	}

	ops := make([]model.RedactionOperation, 0, len(rows))
	for _, r := range rows {
		redactedAt, err := time.Parse(redactedAtFormat, r.RedactedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid redacted_at %q: %w", r.RedactedAt, err)
		}
		ops = append(ops, model.RedactionOperation{
			BatchID:        r.BatchID,
			TableName:      r.TableName,
			ColumnName:     r.ColumnName,
			ConstraintName: r.ConstraintName,
			ActionExpr:     r.ActionExpr,
			RowIdentifier:  r.RowIdentifier,
			Reason:         r.Reason,
			RedactedAt:     redactedAt,
		})
	}
	return ops, nil
}

// CountRedactions returns the number of audit rows for a batch
func (s *TableStore) CountRedactions(ctx context.Context, batchID string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, s.db.Rebind(fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE batch_id = ?", quote(AuditTable))), batchID)
	if err != nil {
		return 0, fmt.Errorf("failed to count redaction audit: %w", err)
	}
	return count, nil
}

// pkg/model/audit.go
package model

import (
	"time"
)

// Reasons recorded for a redacted cell
const (
	// ReasonFailedConstraint means the record itself failed the column's constraint
	ReasonFailedConstraint = "failed_constraint"
	// ReasonBatchProjection means another quarantined record failed the column
	ReasonBatchProjection = "batch_projection"
)

// RedactionOperation represents a single substituted cell. The original
// value is never recorded.
type RedactionOperation struct {
	BatchID        string    // Batch the record belongs to
	TableName      string    // Table the redacted record was written to
	ColumnName     string    // Column that was substituted
	ConstraintName string    // Expectation whose action was applied
	ActionExpr     string    // Action expression applied
	RowIdentifier  int64     // Append offset of the quarantined record
	Reason         string    // ReasonFailedConstraint or ReasonBatchProjection
	RedactedAt     time.Time // When the substitution happened
}

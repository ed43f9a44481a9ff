// pkg/pipeline/verifier.go
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/model"
)

// CountStore is the part of the table store the verifier reads
type CountStore interface {
	CountBatch(ctx context.Context, table, batchID string) (int64, error)
	TableColumns(ctx context.Context, table string) ([]string, error)
}

// VerificationReport contains the row counts of one batch in every table
type VerificationReport struct {
	BatchID          string
	VerificationTime time.Time
	InputRows        int64
	CleanRows        int64
	QuarantineRows   int64
	RedactedRows     int64
	ProcessedRows    int64
	StructureMatches bool
	Discrepancies    []string
	Duration         time.Duration
}

// Reconciled reports whether every check passed
func (r *VerificationReport) Reconciled() bool {
	return len(r.Discrepancies) == 0
}

// Verifier reconciles the row counts a batch left in each table
type Verifier struct {
	store   CountStore
	columns []string
	logger  *zap.Logger
	timeout time.Duration
}

// NewVerifier creates a verifier for the input columns
func NewVerifier(store CountStore, columns []string, logger *zap.Logger) *Verifier {
	return &Verifier{
		store:   store,
		columns: columns,
		logger:  logger.Named("verifier"),
		timeout: time.Minute,
	}
}

// WithTimeout sets a custom timeout for verification queries
func (v *Verifier) WithTimeout(timeout time.Duration) *Verifier {
	v.timeout = timeout
	return v
}

// VerifyBatch checks that the batch was split without loss, that every
// quarantined row was redacted, that the merge kept every row and that
// clean_processed still exposes exactly the input columns
func (v *Verifier) VerifyBatch(ctx context.Context, batchID string, inputRows int) (*VerificationReport, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()
	report := &VerificationReport{
		BatchID:          batchID,
		VerificationTime: start,
		InputRows:        int64(inputRows),
	}

	counts := []struct {
		table string
		dst   *int64
	}{
		{model.TableClean, &report.CleanRows},
		{model.TableQuarantine, &report.QuarantineRows},
		{model.TableRedacted, &report.RedactedRows},
		{model.TableCleanProcessed, &report.ProcessedRows},
	}
	for _, c := range counts {
		n, err := v.store.CountBatch(ctx, c.table, batchID)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
		*c.dst = n
	}

	if report.CleanRows+report.QuarantineRows != report.InputRows {
		report.Discrepancies = append(report.Discrepancies, fmt.Sprintf(
			"clean (%d) + quarantine (%d) != input (%d)",
			report.CleanRows, report.QuarantineRows, report.InputRows))
	}
	if report.RedactedRows != report.QuarantineRows {
		report.Discrepancies = append(report.Discrepancies, fmt.Sprintf(
			"redacted (%d) != quarantine (%d)", report.RedactedRows, report.QuarantineRows))
	}
	if report.ProcessedRows != report.CleanRows+report.RedactedRows {
		report.Discrepancies = append(report.Discrepancies, fmt.Sprintf(
			"clean_processed (%d) != clean (%d) + redacted (%d)",
			report.ProcessedRows, report.CleanRows, report.RedactedRows))
	}

	actual, err := v.store.TableColumns(ctx, model.TableCleanProcessed)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", model.TableCleanProcessed, err)
	}
	report.StructureMatches = sameColumns(v.columns, actual)
	if !report.StructureMatches {
		report.Discrepancies = append(report.Discrepancies, fmt.Sprintf(
			"clean_processed columns %v != input columns %v", actual, v.columns))
	}

	report.Duration = time.Since(start)

	if !report.Reconciled() {
		v.logger.Warn("Batch verification failed",
			zap.String("batch_id", batchID),
			zap.Strings("discrepancies", report.Discrepancies))
		return report, fmt.Errorf("batch %s: %v: %w", batchID, report.Discrepancies, ErrVerification)
	}

	v.logger.Debug("Batch verification successful",
		zap.String("batch_id", batchID),
		zap.Int64("clean", report.CleanRows),
		zap.Int64("quarantine", report.QuarantineRows),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func sameColumns(expected, actual []string) bool {
	if len(expected) != len(actual) {
		return false
	}
	set := make(map[string]bool, len(expected))
	for _, c := range expected {
		set[c] = true
	}
	for _, c := range actual {
		if !set[c] {
			return false
		}
	}
	return true
}

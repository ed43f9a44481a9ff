// pkg/merger/merger.go

// Package merger unions the redacted and clean views of a batch into the
// final clean_processed table.
package merger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/model"
)

// Merge unions redacted and clean records by column name, redacted first.
// Every record must carry exactly columns; a stray key such as
// failed_expectations is a SchemaMismatchError.
func Merge(columns []string, redacted, clean []model.Record) ([]model.Record, error) {
	if err := checkView(model.TableRedacted, columns, redacted); err != nil {
		return nil, err
	}
	if err := checkView(model.TableClean, columns, clean); err != nil {
		return nil, err
	}

	out := make([]model.Record, 0, len(redacted)+len(clean))
	for _, r := range redacted {
		out = append(out, project(columns, r))
	}
	for _, r := range clean {
		out = append(out, project(columns, r))
	}
	return out, nil
}

// DropBookkeeping removes the failed_expectations column from each record
func DropBookkeeping(records []model.Record) []model.Record {
	out := make([]model.Record, len(records))
	for i, r := range records {
		out[i] = r.Without(model.FailedExpectationsColumn)
	}
	return out
}

// project copies the named columns of a record
func project(columns []string, r model.Record) model.Record {
	out := make(model.Record, len(columns))
	for _, c := range columns {
		out[c] = r[c]
	}
	return out
}

// checkView compares each record's key set with columns
func checkView(view string, columns []string, records []model.Record) error {
	want := make(map[string]bool, len(columns))
	for _, c := range columns {
		want[c] = true
	}

	for i, r := range records {
		var missing, extra []string
		for _, c := range columns {
			if _, ok := r[c]; !ok {
				missing = append(missing, c)
			}
		}
		for k := range r {
			if !want[k] {
				extra = append(extra, k)
			}
		}
		if len(missing) == 0 && len(extra) == 0 {
			continue
		}
		sort.Strings(missing)
		sort.Strings(extra)
		return fmt.Errorf("%s record %d: %w", view, i, &model.SchemaMismatchError{
			Table:   view,
			Missing: missing,
			Extra:   extra,
		})
	}
	return nil
}

// Store is the part of the table store the merge stage uses
type Store interface {
	ReadBatch(ctx context.Context, table, batchID string) ([]model.StoredRecord, error)
	Append(ctx context.Context, table, batchID string, records []model.Record) (bool, error)
	SetProperty(ctx context.Context, table, key, value string) error
}

// Stage merges one committed batch of redacted and clean rows into
// clean_processed
type Stage struct {
	store   Store
	columns []string
	logger  *zap.Logger
}

// NewStage creates the merge stage for the input columns
func NewStage(store Store, columns []string, logger *zap.Logger) (*Stage, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if len(columns) == 0 {
		return nil, errors.New("columns cannot be empty")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Stage{
		store:   store,
		columns: columns,
		logger:  logger.Named("merger"),
	}, nil
}

// MergeBatch reads a batch from redacted and clean, unions it and appends
// the result to clean_processed. It returns the number of merged rows and
// whether they were appended, false when the batch was already merged.
func (s *Stage) MergeBatch(ctx context.Context, batchID string) (int, bool, error) {
	redacted, err := s.store.ReadBatch(ctx, model.TableRedacted, batchID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read redacted batch: %w", err)
	}
	clean, err := s.store.ReadBatch(ctx, model.TableClean, batchID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read clean batch: %w", err)
	}

	merged, err := Merge(s.columns, DropBookkeeping(records(redacted)), records(clean))
	if err != nil {
		return 0, false, err
	}

	appended, err := s.store.Append(ctx, model.TableCleanProcessed, batchID, merged)
	if err != nil {
		return 0, false, fmt.Errorf("failed to append %s: %w", model.TableCleanProcessed, err)
	}

	if appended {
		// every row reached here through classification and, when it
		// failed, through the projection
		if err := s.store.SetProperty(ctx, model.TableCleanProcessed, model.PropertyMayContainPII, "false"); err != nil {
			return len(merged), appended, err
		}
	}

	s.logger.Debug("Merged batch",
		zap.String("batch_id", batchID),
		zap.Int("redacted", len(redacted)),
		zap.Int("clean", len(clean)),
		zap.Bool("appended", appended))

	return len(merged), appended, nil
}

func records(rows []model.StoredRecord) []model.Record {
	out := make([]model.Record, len(rows))
	for i, r := range rows {
		out[i] = r.Record
	}
	return out
}

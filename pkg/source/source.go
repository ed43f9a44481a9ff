// pkg/source/source.go

// Package source reads staging records in deterministic batches. A batch is
// identified by its source, offset and size, so rereading the same range
// after a crash yields the same batch id.
package source

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/David-Botos/pii-redact/pkg/model"
)

// Source is a readable staging location
type Source interface {
	// Name identifies the source in checkpoints and batch ids
	Name() string
	// Columns returns the input schema in source order
	Columns(ctx context.Context) ([]model.Column, error)
	// ReadBatch reads up to limit records starting at offset. An empty
	// batch means the source is exhausted.
	ReadBatch(ctx context.Context, offset int64, limit int) (*Batch, error)
}

// Batch is a contiguous range of staging records
type Batch struct {
	ID      string
	Source  string
	Offset  int64
	Records []model.Record
}

// NextOffset returns the offset following this batch
func (b *Batch) NextOffset() int64 {
	return b.Offset + int64(len(b.Records))
}

// Empty reports whether the batch holds no records
func (b *Batch) Empty() bool {
	return len(b.Records) == 0
}

// batchNamespace scopes batch ids generated by this package
var batchNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("piiredact/batch"))

// BatchID derives the id of the batch covering [offset, offset+size)
func BatchID(source string, offset int64, size int) string {
	return uuid.NewSHA1(batchNamespace, []byte(fmt.Sprintf("%s:%d:%d", source, offset, size))).String()
}

// newBatch assembles a batch and assigns its id
func newBatch(source string, offset int64, records []model.Record) *Batch {
	return &Batch{
		ID:      BatchID(source, offset, len(records)),
		Source:  source,
		Offset:  offset,
		Records: records,
	}
}

// checkColumnNames rejects duplicate or reserved input column names
func checkColumnNames(source string, columns []model.Column) error {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c.Name == "" {
			return model.NewConfigError(source, "input has an unnamed column", nil)
		}
		if c.Name == model.FailedExpectationsColumn {
			return model.NewConfigError(source, fmt.Sprintf("input column %q is reserved", c.Name), nil)
		}
		if seen[c.Name] {
			return model.NewConfigError(source, fmt.Sprintf("duplicate input column %q", c.Name), nil)
		}
		seen[c.Name] = true
	}
	return nil
}

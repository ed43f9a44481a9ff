// pkg/source/csv.go
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/model"
)

// CSVSource reads a CSV file whose header row names the columns. Every
// column is text and an empty cell is NULL.
type CSVSource struct {
	path   string
	name   string
	logger *zap.Logger
}

// NewCSVSource creates a source over a CSV file
func NewCSVSource(path string, logger *zap.Logger) (*CSVSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", path, err)
	}
	return &CSVSource{
		path:   path,
		name:   filepath.Base(path),
		logger: logger.Named("csv-source"),
	}, nil
}

// Name returns the file name
func (s *CSVSource) Name() string {
	return s.name
}

// open returns a reader positioned after the header row
func (s *CSVSource) open() (*os.File, *csv.Reader, []string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open input %s: %w", s.path, err)
	}

	r := csv.NewReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		f.Close()
		return nil, nil, nil, model.NewConfigError(s.path, "input has no header row", nil)
	}
	if err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("failed to read header of %s: %w", s.path, err)
	}

	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	return f, r, header, nil
}

// Columns returns the header columns
func (s *CSVSource) Columns(ctx context.Context) ([]model.Column, error) {
	f, _, header, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	columns := make([]model.Column, len(header))
	for i, name := range header {
		columns[i] = model.Column{Name: name, DataType: "TEXT", Nullable: true}
	}
	if err := checkColumnNames(s.path, columns); err != nil {
		return nil, err
	}
	return columns, nil
}

// ReadBatch reads up to limit data rows after skipping offset rows
func (s *CSVSource) ReadBatch(ctx context.Context, offset int64, limit int) (*Batch, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("batch limit must be positive, got %d", limit)
	}

	f, r, header, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for skipped := int64(0); skipped < offset; skipped++ {
		if _, err := r.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return newBatch(s.name, offset, nil), nil
			}
			return nil, fmt.Errorf("failed to read %s at row %d: %w", s.path, skipped+1, err)
		}
	}

	records := make([]model.Record, 0, limit)
	for len(records) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s at row %d: %w", s.path, offset+int64(len(records))+1, err)
		}

		record := make(model.Record, len(header))
		for i, name := range header {
			if row[i] == "" {
				record[name] = nil
			} else {
				record[name] = row[i]
			}
		}
		records = append(records, record)
	}

	s.logger.Debug("Read batch",
		zap.String("path", s.path),
		zap.Int64("offset", offset),
		zap.Int("rows", len(records)))

	return newBatch(s.name, offset, records), nil
}

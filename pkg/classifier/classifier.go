// pkg/classifier/classifier.go
package classifier

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/David-Botos/pii-redact/pkg/expectation"
	"github.com/David-Botos/pii-redact/pkg/model"
)

// Classifier evaluates every bound expectation against each record and
// splits a batch into clean and quarantined records
type Classifier struct {
	set     *expectation.Set
	logger  *zap.Logger
	workers int
}

// Option configures a Classifier
type Option func(*Classifier)

// WithWorkers sets how many records are evaluated concurrently.
// Values below one fall back to runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.workers = n
		}
	}
}

// Split is the outcome of classifying one batch. Both slices keep the
// input order of their records.
type Split struct {
	Clean            []model.Record
	Quarantined      []model.QuarantinedRecord
	EvaluationErrors []error
}

// Total returns the number of classified records
func (s *Split) Total() int {
	return len(s.Clean) + len(s.Quarantined)
}

// FailedNames returns the distinct failed constraint names in the batch
func (s *Split) FailedNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, q := range s.Quarantined {
		for _, name := range q.Failed {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// New creates a Classifier for a compiled expectation set
func New(set *expectation.Set, logger *zap.Logger, opts ...Option) (*Classifier, error) {
	if set == nil {
		return nil, errors.New("expectation set cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	c := &Classifier{
		set:     set,
		logger:  logger.Named("classifier"),
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Classify returns the names of the expectations the record fails, in
// expectation order. A predicate that cannot be evaluated counts as a
// failure and its error is returned alongside. Classify has no side effects.
func (c *Classifier) Classify(ctx context.Context, record model.Record) (model.FailedExpectationSet, []error) {
	var failed model.FailedExpectationSet
	var evalErrors []error

	for _, exp := range c.set.All() {
		passed, err := exp.Predicate(ctx, record[exp.Column])
		if err != nil {
			evalErrors = append(evalErrors, &model.EvaluationError{
				ConstraintName: exp.ConstraintName,
				Column:         exp.Column,
				Err:            err,
			})
			failed = append(failed, exp.ConstraintName)
			continue
		}

		if !passed {
			failed = append(failed, exp.ConstraintName)
		}
	}

	return failed, evalErrors
}

// classification is the per-record result collected by ClassifyBatch
type classification struct {
	failed model.FailedExpectationSet
	errs   []error
}

// ClassifyBatch classifies records in parallel. Records are independent,
// so the only shared state is the result slot each worker owns.
func (c *Classifier) ClassifyBatch(ctx context.Context, records []model.Record) (*Split, error) {
	if err := c.ValidateRecords(records); err != nil {
		return nil, err
	}

	results := make([]classification, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i := range records {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			failed, errs := c.Classify(gctx, records[i])
			// A cancelled context surfaces as evaluation errors, not failures
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = classification{failed: failed, errs: errs}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("classification aborted: %w", err)
	}

	split := &Split{}
	for i, res := range results {
		if res.failed.Clean() {
			split.Clean = append(split.Clean, records[i])
		} else {
			split.Quarantined = append(split.Quarantined, model.QuarantinedRecord{
				Record: records[i],
				Failed: res.failed,
			})
		}
		split.EvaluationErrors = append(split.EvaluationErrors, res.errs...)
	}

	if len(split.EvaluationErrors) > 0 {
		c.logger.Warn("Expectations could not be evaluated for some records; treated as failures",
			zap.Int("error_count", len(split.EvaluationErrors)),
			zap.Error(split.EvaluationErrors[0]))
	}

	c.logger.Debug("Classified batch",
		zap.Int("records", len(records)),
		zap.Int("clean", len(split.Clean)),
		zap.Int("quarantined", len(split.Quarantined)),
		zap.Strings("failed_expectations", split.FailedNames()))

	return split, nil
}

// ValidateRecords checks that every record carries exactly the compiled
// schema's columns
func (c *Classifier) ValidateRecords(records []model.Record) error {
	columns := c.set.Columns()

	for i, record := range records {
		var missing, extra []string
		for _, col := range columns {
			if _, ok := record[col]; !ok {
				missing = append(missing, col)
			}
		}
		if len(record) != len(columns) || len(missing) > 0 {
			known := make(map[string]bool, len(columns))
			for _, col := range columns {
				known[col] = true
			}
			for key := range record {
				if !known[key] {
					extra = append(extra, key)
				}
			}
			sort.Strings(extra)
		}
		if len(missing) > 0 || len(extra) > 0 {
			return fmt.Errorf("record %d: %w", i, &model.SchemaMismatchError{
				Table:   "input",
				Missing: missing,
				Extra:   extra,
			})
		}
	}

	return nil
}

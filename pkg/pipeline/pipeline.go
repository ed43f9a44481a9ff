// pkg/pipeline/pipeline.go

// Package pipeline moves source batches through classification,
// quarantine, redaction and merge. Every stage appends to a durable table
// under the batch id, so a batch interrupted at any point is finished by
// rerunning it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/classifier"
	"github.com/David-Botos/pii-redact/pkg/config"
	"github.com/David-Botos/pii-redact/pkg/converter"
	"github.com/David-Botos/pii-redact/pkg/expectation"
	"github.com/David-Botos/pii-redact/pkg/expression"
	"github.com/David-Botos/pii-redact/pkg/merger"
	"github.com/David-Botos/pii-redact/pkg/model"
	"github.com/David-Botos/pii-redact/pkg/redaction"
	"github.com/David-Botos/pii-redact/pkg/rules"
	"github.com/David-Botos/pii-redact/pkg/source"
	"github.com/David-Botos/pii-redact/pkg/store"
)

// Options tunes a pipeline run
type Options struct {
	BatchSize     int
	RetryAttempts int
	RetryDelay    time.Duration
	Workers       int
	AuditEnabled  bool
	VerifyBatches bool

	// ReadOnly compiles the pipeline without creating or altering any table.
	// Such a pipeline can report its expectations and projection but not run.
	ReadOnly bool
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		BatchSize:     5000,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		AuditEnabled:  true,
		VerifyBatches: true,
	}
}

// OptionsFromConfig reads the processing settings of a configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BatchSize:     cfg.BatchSize,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
		Workers:       cfg.WorkerPoolSize,
		AuditEnabled:  cfg.AuditEnabled,
		VerifyBatches: cfg.VerifyBatches,
	}
}

// Pipeline is a compiled pipeline definition bound to one source and store
type Pipeline struct {
	source     source.Source
	store      *store.TableStore
	engine     expression.Engine
	set        *expectation.Set
	classifier *classifier.Classifier
	planner    *redaction.Planner
	redactor   *redaction.Redactor
	merger     *merger.Stage
	verifier   *Verifier
	errors     *ErrorHandler
	metrics    *Metrics
	logger     *zap.Logger
	opts       Options
	columns    []model.Column

	projection model.RedactionProjection
}

// New reads the source schema, compiles the catalog against it and prepares
// the durable tables. Any ConfigError or SchemaMismatchError here means the
// pipeline must not start.
func New(
	ctx context.Context,
	src source.Source,
	st *store.TableStore,
	catalog *rules.Catalog,
	metrics *Metrics,
	logger *zap.Logger,
	opts Options,
) (*Pipeline, error) {
	if src == nil || st == nil || catalog == nil {
		return nil, errors.New("source, store and catalog are required")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	logger = logger.Named("pipeline").With(zap.String("source", src.Name()))

	columns, err := src.Columns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read input schema: %w", err)
	}
	meta := model.TableMetadata{Table: src.Name(), Columns: columns}
	names := meta.ColumnNames()

	engine, err := expression.New(catalog.Dialect)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		source:  src,
		store:   st,
		engine:  engine,
		errors:  NewErrorHandler(logger, opts.RetryAttempts),
		metrics: metrics,
		logger:  logger,
		opts:    opts,
		columns: columns,
	}

	if err := p.build(ctx, names, catalog); err != nil {
		engine.Close()
		return nil, err
	}

	logger.Info("Pipeline ready",
		zap.Int("columns", len(columns)),
		zap.Int("expectations", p.set.Len()),
		zap.String("dialect", p.set.Dialect()))
	return p, nil
}

// build compiles the expectations and wires every stage
func (p *Pipeline) build(ctx context.Context, names []string, catalog *rules.Catalog) error {
	set, err := expectation.Compile(names, catalog.Templates, p.engine)
	if err != nil {
		return err
	}
	p.set = set

	if p.classifier, err = classifier.New(set, p.logger, classifier.WithWorkers(p.opts.Workers)); err != nil {
		return err
	}

	if !p.opts.ReadOnly {
		if err := p.prepareTables(ctx); err != nil {
			return err
		}
	}

	tracker, err := redaction.NewTracker(p.store, model.TableQuarantine)
	if err != nil {
		return err
	}
	if p.planner, err = redaction.NewPlanner(set, tracker, p.logger); err != nil {
		return err
	}
	if p.redactor, err = redaction.NewRedactor(set, p.logger); err != nil {
		return err
	}
	if p.merger, err = merger.NewStage(p.store, names, p.logger); err != nil {
		return err
	}
	p.verifier = NewVerifier(p.store, names, p.logger)
	return nil
}

// storeColumns returns the columns of a durable table. clean and quarantine
// hold input values and keep the input types. In redacted and
// clean_processed a column with expectations can receive a substituted value
// of any type, so it is stored as text there.
func (p *Pipeline) storeColumns(table string) []model.Column {
	substituted := table == model.TableRedacted || table == model.TableCleanProcessed
	withFailed := table == model.TableQuarantine || table == model.TableRedacted

	out := make([]model.Column, 0, len(p.columns)+1)
	for _, c := range p.columns {
		if substituted && len(p.set.ForColumn(c.Name)) > 0 {
			c.DataType = converter.TextType
		}
		c.Nullable = true
		out = append(out, c)
	}
	if withFailed {
		out = append(out, model.Column{
			Name:     model.FailedExpectationsColumn,
			DataType: converter.TextType,
			Nullable: true,
		})
	}
	return out
}

// prepareTables creates or validates the durable tables and gives each its
// initial may_contain_pii property
func (p *Pipeline) prepareTables(ctx context.Context) error {
	if err := p.store.Init(ctx); err != nil {
		return err
	}

	tables := []string{
		model.TableClean,
		model.TableQuarantine,
		model.TableRedacted,
		model.TableCleanProcessed,
	}

	for _, table := range tables {
		if err := p.store.EnsureTable(ctx, table, p.storeColumns(table)); err != nil {
			return err
		}

		_, ok, err := p.store.Property(ctx, table, model.PropertyMayContainPII)
		if err != nil {
			return err
		}
		if !ok {
			if err := p.store.SetProperty(ctx, table, model.PropertyMayContainPII, model.MayContainPII(table)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases the expression engine
func (p *Pipeline) Close() error {
	return p.engine.Close()
}

// Expectations returns the compiled expectations in evaluation order
func (p *Pipeline) Expectations() []model.BoundExpectation {
	return p.set.All()
}

// Projection returns the projection derived from the quarantine table. A
// read-only pipeline over a store that was never run plans from no failures.
func (p *Pipeline) Projection(ctx context.Context) (model.RedactionProjection, error) {
	if p.opts.ReadOnly {
		exists, err := p.store.Exists(ctx, model.TableQuarantine)
		if err != nil {
			return model.RedactionProjection{}, err
		}
		if !exists {
			return redaction.Plan(p.set, nil)
		}
	}

	projection, err := p.planner.Current(ctx)
	if err != nil {
		return model.RedactionProjection{}, err
	}
	p.projection = projection
	p.metrics.SetProjection(p.planner.Version(), len(projection.SubstitutedColumns()))
	return projection, nil
}

// ErrorSummary returns the error counts by category
func (p *Pipeline) ErrorSummary() map[ErrorCategory]int {
	return p.errors.GetErrorSummary()
}

// Run processes every batch after the source's checkpoint. It stops at the
// first batch that cannot be committed; that batch is not checkpointed, so
// the next run starts from it again.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	if p.opts.ReadOnly {
		return nil, errors.New("pipeline was built read-only")
	}

	offset, err := p.store.Checkpoint(ctx, p.source.Name())
	if err != nil {
		return nil, err
	}

	summary := NewRunSummary(uuid.New().String(), p.source.Name(), offset)
	p.logger.Info("Starting run",
		zap.String("run_id", summary.RunID),
		zap.Int64("offset", offset),
		zap.Int("batch_size", p.opts.BatchSize))

	runErr := p.run(ctx, offset, summary)

	summary.ProjectionVersions = p.planner.Version()
	summary.SubstitutedColumns = p.projection.SubstitutedColumns()
	summary.Complete()

	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.Int("batches", summary.Batches),
		zap.Int64("rows", summary.TotalRows),
		zap.Int64("quarantined", summary.QuarantinedRows),
		zap.Int64("next_offset", summary.EndOffset),
		zap.Duration("duration", summary.Duration),
	}
	if runErr != nil {
		p.logger.Error("Run stopped", append(fields, zap.Error(runErr))...)
		return summary, runErr
	}
	p.logger.Info("Run completed", fields...)
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, offset int64, summary *RunSummary) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		limit, err := p.batchLimit(ctx, offset)
		if err != nil {
			return err
		}

		var batch *source.Batch
		err = p.retry(ctx, "", "read", func() error {
			var err error
			batch, err = p.source.ReadBatch(ctx, offset, limit)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to read batch at offset %d: %w", offset, err)
		}
		if batch.Empty() {
			return nil
		}

		result, err := p.ProcessBatch(ctx, batch)
		summary.AddBatchResult(*result)
		p.metrics.RecordBatch(result)
		if err != nil {
			return err
		}

		offset = batch.NextOffset()
	}
}

// batchLimit returns how many rows to read at offset: the size of a batch
// that was started there and never checkpointed, else the configured size
func (p *Pipeline) batchLimit(ctx context.Context, offset int64) (int, error) {
	pending, ok, err := p.store.Pending(ctx, p.source.Name())
	if err != nil {
		return 0, err
	}
	if !ok || pending.Offset != offset || pending.Rows <= 0 {
		return p.opts.BatchSize, nil
	}

	p.logger.Info("Resuming started batch",
		zap.String("batch_id", pending.BatchID),
		zap.Int64("offset", offset),
		zap.Int("rows", pending.Rows))
	return pending.Rows, nil
}

// retry runs fn until it succeeds or the error handler gives up
func (p *Pipeline) retry(ctx context.Context, batchID, stage string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		record := NewErrorRecord(err, p.errors.CategorizeError(err)).
			WithBatch(batchID, stage).
			WithRetry(attempt)
		if p.errors.HandleError(record) != ActionRetry {
			return err
		}

		if err := sleep(ctx, p.opts.RetryDelay); err != nil {
			return err
		}
	}
}

// ProcessBatch runs one batch through every stage, retrying from the first
// uncommitted stage on storage errors
func (p *Pipeline) ProcessBatch(ctx context.Context, batch *source.Batch) (*BatchResult, error) {
	job := NewBatchJob(batch, p.opts.RetryAttempts)

	for {
		result := NewBatchResult(job)
		err := p.processBatch(ctx, batch, result)
		if err == nil {
			result.Complete(true)
			p.logger.Info("Batch committed",
				zap.String("batch_id", batch.ID),
				zap.Int64("offset", batch.Offset),
				zap.Int("clean", result.CleanRows),
				zap.Int("quarantined", result.QuarantinedRows),
				zap.Int("redactions", result.Redactions),
				zap.Strings("skipped", result.SkippedStages),
				zap.Duration("duration", time.Since(result.StartTime)))
			return result, nil
		}

		record := NewErrorRecord(err, p.errors.CategorizeError(err)).
			WithBatch(batch.ID, stageOf(err)).
			WithRetry(job.RetryCount)
		result.AddError(record)

		if p.errors.HandleError(record) != ActionRetry || !job.IsRetryable() {
			result.Complete(false)
			return result, fmt.Errorf("batch %s at offset %d: %w", batch.ID, batch.Offset, err)
		}

		job = job.Retry()
		if err := sleep(ctx, p.opts.RetryDelay); err != nil {
			result.Complete(false)
			return result, err
		}
	}
}

// processBatch is one attempt at a batch
func (p *Pipeline) processBatch(ctx context.Context, batch *source.Batch, result *BatchResult) error {
	err := p.stage(StageBegin, func() error {
		return p.store.BeginBatch(ctx, p.source.Name(), batch.Offset, len(batch.Records), batch.ID)
	})
	if err != nil {
		return err
	}

	var split *classifier.Split
	err = p.stage(StageClassify, func() error {
		var err error
		split, err = p.classifier.ClassifyBatch(ctx, batch.Records)
		return err
	})
	if err != nil {
		return err
	}
	result.CleanRows = len(split.Clean)
	result.QuarantinedRows = len(split.Quarantined)
	result.EvaluationErrors = len(split.EvaluationErrors)
	if len(split.EvaluationErrors) > 0 {
		p.errors.RecordError(NewErrorRecord(split.EvaluationErrors[0], ErrorCategoryEvaluation).
			WithBatch(batch.ID, StageClassify))
	}

	err = p.stage(StageClean, func() error {
		return p.append(ctx, StageClean, model.TableClean, batch.ID, split.Clean, result)
	})
	if err != nil {
		return err
	}

	err = p.stage(StageQuarantine, func() error {
		rows := make([]model.Record, len(split.Quarantined))
		for i, q := range split.Quarantined {
			row, err := q.Row()
			if err != nil {
				return err
			}
			rows[i] = row
		}
		return p.append(ctx, StageQuarantine, model.TableQuarantine, batch.ID, rows, result)
	})
	if err != nil {
		return err
	}

	err = p.stage(StagePlan, func() error {
		_, err := p.Projection(ctx)
		return err
	})
	if err != nil {
		return err
	}

	if err := p.stage(StageRedact, func() error { return p.redact(ctx, batch.ID, result) }); err != nil {
		return err
	}

	err = p.stage(StageMerge, func() error {
		n, appended, err := p.merger.MergeBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		result.MergedRows = n
		if !appended {
			result.Skip(StageMerge)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if p.opts.VerifyBatches {
		err = p.stage(StageVerify, func() error {
			_, err := p.verifier.VerifyBatch(ctx, batch.ID, len(batch.Records))
			return err
		})
		if err != nil {
			return err
		}
	}

	return p.stage(StageCheckpoint, func() error {
		if err := p.store.SaveCheckpoint(ctx, p.source.Name(), batch.NextOffset(), batch.ID); err != nil {
			return err
		}
		p.metrics.SetCheckpoint(batch.NextOffset())
		return nil
	})
}

// append writes records to a table and notes a skipped stage
func (p *Pipeline) append(
	ctx context.Context,
	stage, table, batchID string,
	records []model.Record,
	result *BatchResult,
) error {
	appended, err := p.store.Append(ctx, table, batchID, records)
	if err != nil {
		return err
	}
	if !appended {
		result.Skip(stage)
	}
	return nil
}

// redact applies the current projection to the batch's quarantined rows
// as stored, and appends them to redacted together with the audit trail
func (p *Pipeline) redact(ctx context.Context, batchID string, result *BatchResult) error {
	committed, err := p.store.IsCommitted(ctx, model.TableRedacted, batchID)
	if err != nil {
		return err
	}
	if committed {
		result.Skip(StageRedact)
		return nil
	}

	rows, err := p.store.ReadBatch(ctx, model.TableQuarantine, batchID)
	if err != nil {
		return err
	}

	redacted, err := p.redactor.Redact(ctx, p.projection, batchID, model.TableRedacted, rows)
	if err != nil {
		return err
	}

	var operations []model.RedactionOperation
	if p.opts.AuditEnabled {
		operations = redacted.Operations
	}

	appended, err := p.store.AppendWithAudit(ctx, model.TableRedacted, batchID, redacted.Rows, operations)
	if err != nil {
		return err
	}
	if !appended {
		result.Skip(StageRedact)
		return nil
	}

	result.RedactedRows = len(redacted.Rows)
	result.Redactions = len(redacted.Operations)
	result.ActionErrors = len(redacted.ActionErrors)

	byReason := make(map[string]int)
	for _, op := range redacted.Operations {
		byReason[op.Reason]++
	}
	for reason, n := range byReason {
		p.metrics.RecordRedactions(reason, n)
	}
	return nil
}

// stage times fn and tags its error with the stage name
func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	return nil
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

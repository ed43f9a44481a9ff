// pkg/pipeline/job.go
package pipeline

import (
	"time"

	"github.com/David-Botos/pii-redact/pkg/source"
)

// Stage names used in logs, errors and metrics
const (
	StageBegin      = "begin"
	StageClassify   = "classify"
	StageClean      = "append_clean"
	StageQuarantine = "append_quarantine"
	StagePlan       = "plan"
	StageRedact     = "redact"
	StageMerge      = "merge"
	StageVerify     = "verify"
	StageCheckpoint = "checkpoint"
)

// BatchJob is one source batch moving through the stages
type BatchJob struct {
	Batch      *source.Batch
	RetryCount int
	MaxRetries int
}

// NewBatchJob creates a job for a batch
func NewBatchJob(batch *source.Batch, maxRetries int) BatchJob {
	return BatchJob{
		Batch:      batch,
		MaxRetries: maxRetries,
	}
}

// IsRetryable checks if the job can be retried
func (j BatchJob) IsRetryable() bool {
	return j.RetryCount < j.MaxRetries
}

// Retry increments the retry count and returns the modified job
func (j BatchJob) Retry() BatchJob {
	j.RetryCount++
	return j
}

// BatchResult represents the outcome of one batch
type BatchResult struct {
	BatchID          string
	Offset           int64
	Success          bool
	RowsRead         int
	CleanRows        int
	QuarantinedRows  int
	RedactedRows     int
	MergedRows       int
	Redactions       int
	EvaluationErrors int
	ActionErrors     int
	SkippedStages    []string
	Errors           []ErrorRecord
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
	RetryCount       int
}

// NewBatchResult initializes a result for a job
func NewBatchResult(job BatchJob) *BatchResult {
	return &BatchResult{
		BatchID:       job.Batch.ID,
		Offset:        job.Batch.Offset,
		RowsRead:      len(job.Batch.Records),
		StartTime:     time.Now(),
		RetryCount:    job.RetryCount,
		SkippedStages: make([]string, 0),
		Errors:        make([]ErrorRecord, 0),
	}
}

// Complete marks the batch as complete and calculates duration
func (r *BatchResult) Complete(success bool) {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
	r.Success = success
}

// AddError adds an error to the result
func (r *BatchResult) AddError(err ErrorRecord) {
	r.Errors = append(r.Errors, err)
	r.Success = false
}

// Skip records a stage that was already committed
func (r *BatchResult) Skip(stage string) {
	r.SkippedStages = append(r.SkippedStages, stage)
}

// RunSummary represents the outcome of a run over one source
type RunSummary struct {
	RunID              string
	Source             string
	StartOffset        int64
	EndOffset          int64
	Batches            int
	SuccessfulBatches  int
	FailedBatches      int
	TotalRows          int64
	CleanRows          int64
	QuarantinedRows    int64
	MergedRows         int64
	Redactions         int64
	EvaluationErrors   int64
	ActionErrors       int64
	ProjectionVersions int
	SubstitutedColumns []string
	ErrorCategories    map[ErrorCategory]int
	Duration           time.Duration
	StartTime          time.Time
	EndTime            time.Time
	Throughput         float64 // rows/second
}

// NewRunSummary initializes a new run summary
func NewRunSummary(runID, sourceName string, startOffset int64) *RunSummary {
	return &RunSummary{
		RunID:           runID,
		Source:          sourceName,
		StartOffset:     startOffset,
		EndOffset:       startOffset,
		StartTime:       time.Now(),
		ErrorCategories: make(map[ErrorCategory]int),
	}
}

// AddBatchResult incorporates a batch result into the summary
func (s *RunSummary) AddBatchResult(result BatchResult) {
	s.Batches++
	if !result.Success {
		s.FailedBatches++
		for _, e := range result.Errors {
			s.ErrorCategories[e.Category]++
		}
		return
	}

	s.SuccessfulBatches++
	s.EndOffset = result.Offset + int64(result.RowsRead)
	s.TotalRows += int64(result.RowsRead)
	s.CleanRows += int64(result.CleanRows)
	s.QuarantinedRows += int64(result.QuarantinedRows)
	s.MergedRows += int64(result.MergedRows)
	s.Redactions += int64(result.Redactions)
	s.EvaluationErrors += int64(result.EvaluationErrors)
	s.ActionErrors += int64(result.ActionErrors)
}

// Complete marks the run as complete and calculates throughput
func (s *RunSummary) Complete() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
	if s.Duration.Seconds() > 0 {
		s.Throughput = float64(s.TotalRows) / s.Duration.Seconds()
	}
}

// SuccessRate returns the percentage of batches that committed
func (s *RunSummary) SuccessRate() float64 {
	if s.Batches == 0 {
		return 0
	}
	return float64(s.SuccessfulBatches) / float64(s.Batches) * 100
}

// pkg/pipeline/error.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/model"
	"github.com/David-Botos/pii-redact/pkg/redaction"
)

// Action defines the recommended action after an error
type Action int

const (
	// ActionContinue indicates processing should continue despite the error
	ActionContinue Action = iota
	// ActionRetry indicates the batch should be retried from its last committed stage
	ActionRetry
	// ActionAbort indicates the run should stop without checkpointing the batch
	ActionAbort
)

// String returns a string representation of the action
func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "Continue"
	case ActionRetry:
		return "Retry"
	case ActionAbort:
		return "Abort"
	default:
		return fmt.Sprintf("Unknown(%d)", a)
	}
}

// ErrorCategory defines categories of errors during a run
type ErrorCategory int

const (
	// Error categories with increasing severity
	ErrorCategoryNone ErrorCategory = iota
	ErrorCategoryEvaluation
	ErrorCategoryStorage
	ErrorCategoryConnection
	ErrorCategoryVerification
	ErrorCategorySchema
	ErrorCategoryConfig
	ErrorCategoryCancelled
)

// String returns a string representation of the error category
func (ec ErrorCategory) String() string {
	switch ec {
	case ErrorCategoryNone:
		return "None"
	case ErrorCategoryEvaluation:
		return "Evaluation"
	case ErrorCategoryStorage:
		return "Storage"
	case ErrorCategoryConnection:
		return "Connection"
	case ErrorCategoryVerification:
		return "Verification"
	case ErrorCategorySchema:
		return "SchemaMismatch"
	case ErrorCategoryConfig:
		return "Config"
	case ErrorCategoryCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", ec)
	}
}

// ErrVerification is returned when a batch's row counts do not reconcile
var ErrVerification = errors.New("batch verification failed")

// ErrorRecord represents a single error during a run
type ErrorRecord struct {
	Category   ErrorCategory
	BatchID    string
	Stage      string
	Error      error
	Message    string // Derived from Error but stored for reporting
	Timestamp  time.Time
	RetryCount int
}

// NewErrorRecord creates a new error record with current timestamp
func NewErrorRecord(err error, category ErrorCategory) ErrorRecord {
	record := ErrorRecord{
		Category:  category,
		Error:     err,
		Timestamp: time.Now(),
	}
	if err != nil {
		record.Message = err.Error()
	}
	return record
}

// WithBatch adds batch and stage information to the error record
func (r ErrorRecord) WithBatch(batchID, stage string) ErrorRecord {
	r.BatchID = batchID
	r.Stage = stage
	return r
}

// WithRetry sets retry information
func (r ErrorRecord) WithRetry(retryCount int) ErrorRecord {
	r.RetryCount = retryCount
	return r
}

// String returns a formatted error message
func (r ErrorRecord) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] ", r.Category))

	if r.BatchID != "" {
		sb.WriteString(fmt.Sprintf("Batch: %s ", r.BatchID))
	}
	if r.Stage != "" {
		sb.WriteString(fmt.Sprintf("Stage: %s ", r.Stage))
	}

	sb.WriteString(fmt.Sprintf("Error: %s", r.Message))

	if r.RetryCount > 0 {
		sb.WriteString(fmt.Sprintf(" (Retry: %d)", r.RetryCount))
	}
	return sb.String()
}

// ErrorHandler categorises errors and decides whether a batch is retried
type ErrorHandler struct {
	logger        *zap.Logger
	retryAttempts int

	mu           sync.Mutex
	errorCounts  map[ErrorCategory]int
	sampleErrors map[ErrorCategory][]ErrorRecord
	maxSamples   int
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger, retryAttempts int) *ErrorHandler {
	return &ErrorHandler{
		logger:        logger,
		retryAttempts: retryAttempts,
		errorCounts:   make(map[ErrorCategory]int),
		sampleErrors:  make(map[ErrorCategory][]ErrorRecord),
		maxSamples:    5,
	}
}

// CategorizeError determines the category of an error from its type
func (eh *ErrorHandler) CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}

	var (
		configErr *model.ConfigError
		schemaErr *model.SchemaMismatchError
		evalErr   *model.EvaluationError
		category  ErrorCategory
	)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		category = ErrorCategoryCancelled
	case errors.As(err, &configErr):
		category = ErrorCategoryConfig
	case errors.As(err, &schemaErr):
		category = ErrorCategorySchema
	case errors.Is(err, redaction.ErrUncovered), errors.Is(err, ErrVerification):
		category = ErrorCategoryVerification
	case errors.As(err, &evalErr):
		category = ErrorCategoryEvaluation
	case isConnectionError(err):
		category = ErrorCategoryConnection
	default:
		category = ErrorCategoryStorage
	}

	if eh.logger != nil {
		eh.logger.Debug("Categorized error",
			zap.String("error", err.Error()),
			zap.String("category", category.String()))
	}
	return category
}

// HandleError records an error and determines the action
func (eh *ErrorHandler) HandleError(record ErrorRecord) Action {
	eh.RecordError(record)

	switch record.Category {
	case ErrorCategoryNone, ErrorCategoryEvaluation:
		return ActionContinue
	case ErrorCategoryStorage, ErrorCategoryConnection:
		if record.RetryCount < eh.retryAttempts {
			return ActionRetry
		}
		return ActionAbort
	default:
		if eh.logger != nil {
			eh.logger.Error("Fatal error during run",
				zap.String("category", record.Category.String()),
				zap.String("batch_id", record.BatchID),
				zap.String("stage", record.Stage),
				zap.String("error", record.Message))
		}
		return ActionAbort
	}
}

// RecordError saves an error occurrence
func (eh *ErrorHandler) RecordError(record ErrorRecord) {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	eh.errorCounts[record.Category]++

	samples := eh.sampleErrors[record.Category]
	if len(samples) < eh.maxSamples {
		eh.sampleErrors[record.Category] = append(samples, record)
	}

	if eh.logger != nil {
		logLevel := zap.WarnLevel
		switch record.Category {
		case ErrorCategoryEvaluation:
			logLevel = zap.InfoLevel
		case ErrorCategorySchema, ErrorCategoryConfig, ErrorCategoryVerification:
			logLevel = zap.ErrorLevel
		}

		eh.logger.Log(logLevel, "Pipeline error",
			zap.String("category", record.Category.String()),
			zap.String("batch_id", record.BatchID),
			zap.String("stage", record.Stage),
			zap.String("error", record.Message),
			zap.Int("retryCount", record.RetryCount))
	}
}

// GetErrorSummary returns a copy of the error counts by category
func (eh *ErrorHandler) GetErrorSummary() map[ErrorCategory]int {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	summary := make(map[ErrorCategory]int, len(eh.errorCounts))
	for category, count := range eh.errorCounts {
		summary[category] = count
	}
	return summary
}

// GetErrorSamples returns sample errors for each category
func (eh *ErrorHandler) GetErrorSamples() map[ErrorCategory][]ErrorRecord {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	samples := make(map[ErrorCategory][]ErrorRecord, len(eh.sampleErrors))
	for category, records := range eh.sampleErrors {
		categorySamples := make([]ErrorRecord, len(records))
		copy(categorySamples, records)
		samples[category] = categorySamples
	}
	return samples
}

// isConnectionError checks the message of driver errors that carry no type
func isConnectionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof")
}

// StageError ties an error to the stage that produced it
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// stageOf returns the stage an error came from, if known
func stageOf(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}

// pkg/model/errors.go
package model

import (
	"fmt"
	"strings"
)

// ConfigError reports a malformed rule catalog or a rule that cannot be bound
// to the schema. It is fatal at pipeline definition time.
type ConfigError struct {
	Source string // catalog path, rule name or column
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	var sb strings.Builder
	sb.WriteString("config error")
	if e.Source != "" {
		sb.WriteString(" (" + e.Source + ")")
	}
	sb.WriteString(": " + e.Reason)
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError
func NewConfigError(source, reason string, err error) *ConfigError {
	return &ConfigError{Source: source, Reason: reason, Err: err}
}

// EvaluationError reports a constraint or action that could not be evaluated
// against a record value. The classifier treats it as a failed constraint.
type EvaluationError struct {
	ConstraintName string
	Column         string
	Err            error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation of %s on column %s failed: %v", e.ConstraintName, e.Column, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// SchemaMismatchError reports two views that disagree on their column set
type SchemaMismatchError struct {
	Table   string
	Missing []string
	Extra   []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch for %s: missing=%v extra=%v", e.Table, e.Missing, e.Extra)
}

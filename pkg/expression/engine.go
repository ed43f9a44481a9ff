// pkg/expression/engine.go

// Package expression compiles the constraint and action text of a rule
// catalog into closures evaluated against a single column value.
package expression

import (
	"fmt"
	"strings"

	"github.com/David-Botos/pii-redact/pkg/model"
)

// Supported dialects
const (
	DialectSQL      = "sql"
	DialectStarlark = "starlark"
)

// Engine compiles expressions of one dialect. Compiled closures are safe for
// concurrent use and stay valid until Close is called.
type Engine interface {
	// Dialect returns the dialect name
	Dialect() string
	// Placeholder renders the reference to a column that replaces "{}" in
	// constraint and action patterns
	Placeholder(column string) (string, error)
	// CompilePredicate compiles a boolean constraint over the column
	CompilePredicate(column, expr string) (model.Predicate, error)
	// CompileTransform compiles a substitution expression over the column
	CompileTransform(column, expr string) (model.Transform, error)
	// Close releases resources held by compiled expressions
	Close() error
}

// New creates the engine for a dialect. An empty dialect selects SQL.
func New(dialect string) (Engine, error) {
	switch strings.ToLower(dialect) {
	case "", DialectSQL:
		return NewSQLEngine()
	case DialectStarlark:
		return NewStarlarkEngine(), nil
	default:
		return nil, model.NewConfigError(dialect, "unsupported expression dialect", nil)
	}
}

// compileError wraps an expression that does not compile
func compileError(column, expr string, err error) error {
	return model.NewConfigError(column, fmt.Sprintf("cannot compile expression %q", expr), err)
}

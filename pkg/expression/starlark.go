// pkg/expression/starlark.go
package expression

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/David-Botos/pii-redact/pkg/model"
)

const defaultStarlarkMaxSteps = uint64(10_000)

// starlarkKeywords lists the reserved words a column may not be named after
var starlarkKeywords = map[string]bool{
	"and": true, "as": true, "assert": true, "break": true, "class": true,
	"continue": true, "def": true, "del": true, "elif": true, "else": true,
	"except": true, "finally": true, "for": true, "from": true, "global": true,
	"if": true, "import": true, "in": true, "is": true, "lambda": true,
	"load": true, "nonlocal": true, "not": true, "or": true, "pass": true,
	"raise": true, "return": true, "try": true, "while": true, "with": true,
	"yield": true,
}

// StarlarkEngine evaluates expressions written in Starlark. Each expression
// becomes the body of a one-argument lambda named after the column.
type StarlarkEngine struct {
	predeclared starlark.StringDict
	maxSteps    uint64
}

// NewStarlarkEngine creates an engine with the helper builtins predeclared
func NewStarlarkEngine() *StarlarkEngine {
	return &StarlarkEngine{
		predeclared: starlark.StringDict{
			"re_match":   starlark.NewBuiltin("re_match", starlarkReMatch),
			"re_replace": starlark.NewBuiltin("re_replace", starlarkReReplace),
			"sha256":     starlark.NewBuiltin("sha256", starlarkSHA256),
			"mask":       starlark.NewBuiltin("mask", starlarkMask),
		},
		maxSteps: defaultStarlarkMaxSteps,
	}
}

// Dialect returns "starlark"
func (e *StarlarkEngine) Dialect() string { return DialectStarlark }

// Close is a no-op; compiled functions hold no external resources
func (e *StarlarkEngine) Close() error { return nil }

// Placeholder returns the column name, which must be a valid identifier
func (e *StarlarkEngine) Placeholder(column string) (string, error) {
	if !isIdentifier(column) {
		return "", model.NewConfigError(column, "column name is not a valid Starlark identifier", nil)
	}
	return column, nil
}

// CompilePredicate compiles a constraint. None and False count as failure.
func (e *StarlarkEngine) CompilePredicate(column, expr string) (model.Predicate, error) {
	fn, err := e.compile(column, expr)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, value interface{}) (bool, error) {
		result, err := e.call(ctx, fn, value)
		if err != nil {
			return false, err
		}
		switch r := result.(type) {
		case starlark.NoneType:
			return false, nil
		case starlark.Bool:
			return bool(r), nil
		default:
			return false, fmt.Errorf("constraint returned %s, want bool", result.Type())
		}
	}, nil
}

// CompileTransform compiles an action
func (e *StarlarkEngine) CompileTransform(column, expr string) (model.Transform, error) {
	fn, err := e.compile(column, expr)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, value interface{}) (interface{}, error) {
		result, err := e.call(ctx, fn, value)
		if err != nil {
			return nil, err
		}
		return fromStarlark(result)
	}, nil
}

// compile evaluates "lambda <column>: (<expr>)" once and freezes the result
// so it can be called from several goroutines.
func (e *StarlarkEngine) compile(column, expr string) (starlark.Callable, error) {
	if _, err := e.Placeholder(column); err != nil {
		return nil, err
	}

	src := fmt.Sprintf("lambda %s: (%s)", column, expr)
	thread := &starlark.Thread{Name: "compile-" + column}
	thread.SetMaxExecutionSteps(e.maxSteps)

	value, err := starlark.EvalOptions(&syntax.FileOptions{}, thread, column, src, e.predeclared)
	if err != nil {
		return nil, compileError(column, expr, err)
	}

	fn, ok := value.(starlark.Callable)
	if !ok {
		return nil, compileError(column, expr, fmt.Errorf("got %s, want function", value.Type()))
	}
	value.Freeze()
	return fn, nil
}

// call runs fn on a fresh thread with the execution step limit applied
func (e *StarlarkEngine) call(ctx context.Context, fn starlark.Callable, value interface{}) (starlark.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	arg, err := toStarlark(value)
	if err != nil {
		return nil, err
	}

	thread := &starlark.Thread{Name: fn.Name()}
	thread.SetMaxExecutionSteps(e.maxSteps)
	return starlark.Call(thread, fn, starlark.Tuple{arg}, nil)
}

// isIdentifier reports whether name is a legal Starlark identifier
func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return !starlarkKeywords[name]
}

// toStarlark converts a record value to a Starlark value
func toStarlark(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(val), nil
	case []byte:
		return starlark.String(val), nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int32:
		return starlark.MakeInt64(int64(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float32:
		return starlark.Float(val), nil
	case float64:
		return starlark.Float(val), nil
	case time.Time:
		return starlark.String(val.Format(time.RFC3339Nano)), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// fromStarlark converts an action result back to a record value
func fromStarlark(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.String:
		return string(val), nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			return val.String(), nil
		}
		return i64, nil
	case starlark.Float:
		return float64(val), nil
	default:
		return nil, fmt.Errorf("action returned unsupported type %s", v.Type())
	}
}

// optionalString unpacks a string argument that may be None
type optionalString struct {
	value string
	isSet bool
}

func (o *optionalString) Unpack(v starlark.Value) error {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.String:
		o.value, o.isSet = string(val), true
		return nil
	default:
		o.value, o.isSet = v.String(), true
		return nil
	}
}

func starlarkReMatch(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern string
	var s optionalString
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &pattern, &s); err != nil {
		return nil, err
	}
	if !s.isSet {
		return starlark.False, nil
	}
	matched, err := regexpMatch(pattern, s.value)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(matched), nil
}

func starlarkReReplace(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s optionalString
	var pattern, replacement string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &s, &pattern, &replacement); err != nil {
		return nil, err
	}
	if !s.isSet {
		return starlark.None, nil
	}
	out, err := regexpReplace(s.value, pattern, replacement)
	if err != nil {
		return nil, err
	}
	return starlark.String(out), nil
}

func starlarkSHA256(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s optionalString
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	if !s.isSet {
		return starlark.None, nil
	}
	sum, err := hashString(s.value, 256)
	if err != nil {
		return nil, err
	}
	return starlark.String(sum), nil
}

func starlarkMask(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s optionalString
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	if !s.isSet {
		return starlark.None, nil
	}
	return starlark.String(maskString(s.value)), nil
}

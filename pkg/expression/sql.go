// pkg/expression/sql.go
package expression

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"

	"modernc.org/sqlite"

	"github.com/David-Botos/pii-redact/pkg/model"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions installs the helper functions catalogs may call. They
// apply to every SQLite connection opened afterwards in this process.
func registerFunctions() error {
	registerOnce.Do(func() {
		funcs := []struct {
			name  string
			nArgs int32
			fn    func(*sqlite.FunctionContext, []driver.Value) (driver.Value, error)
		}{
			{"regexp", 2, sqlRegexp},
			{"regexp_replace", 3, sqlRegexpReplace},
			{"sha2", 2, sqlSHA2},
			{"mask", 1, sqlMask},
		}
		for _, f := range funcs {
			if err := sqlite.RegisterDeterministicScalarFunction(f.name, f.nArgs, f.fn); err != nil {
				registerErr = fmt.Errorf("failed to register %s: %w", f.name, err)
				return
			}
		}
	})
	return registerErr
}

// sqlRegexp backs "value REGEXP pattern", which SQLite calls as regexp(pattern, value)
func sqlRegexp(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	matched, err := regexpMatch(toString(args[0]), toString(args[1]))
	if err != nil {
		return nil, err
	}
	if matched {
		return int64(1), nil
	}
	return int64(0), nil
}

func sqlRegexpReplace(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil {
		return nil, nil
	}
	return regexpReplace(toString(args[0]), toString(args[1]), toString(args[2]))
}

func sqlSHA2(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil {
		return nil, nil
	}
	bits, err := toInt(args[1])
	if err != nil {
		return nil, fmt.Errorf("sha2 bit length: %w", err)
	}
	return hashString(toString(args[0]), int(bits))
}

func sqlMask(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil {
		return nil, nil
	}
	return maskString(toString(args[0])), nil
}

// SQLEngine evaluates SQL expressions with an in-process SQLite database.
// Each expression is prepared once as a SELECT over a one-row derived table
// whose single column carries the value under test.
type SQLEngine struct {
	db *sql.DB

	mu    sync.Mutex
	stmts []*sql.Stmt
}

// NewSQLEngine opens the in-memory evaluation database
func NewSQLEngine() (*SQLEngine, error) {
	if err := registerFunctions(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open expression database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open expression database: %w", err)
	}

	return &SQLEngine{db: db}, nil
}

// Dialect returns "sql"
func (e *SQLEngine) Dialect() string { return DialectSQL }

// Placeholder quotes the column with backticks, as catalogs written for
// Spark SQL expect
func (e *SQLEngine) Placeholder(column string) (string, error) {
	if column == "" {
		return "", model.NewConfigError(column, "empty column name", nil)
	}
	return quoteIdentifier(column), nil
}

// CompilePredicate prepares a constraint. NULL results count as failure.
func (e *SQLEngine) CompilePredicate(column, expr string) (model.Predicate, error) {
	stmt, err := e.prepare(column, expr)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, value interface{}) (bool, error) {
		var result interface{}
		if err := stmt.QueryRowContext(ctx, bindValue(value)).Scan(&result); err != nil {
			return false, err
		}
		if result == nil {
			return false, nil
		}
		return toBool(result)
	}, nil
}

// CompileTransform prepares an action
func (e *SQLEngine) CompileTransform(column, expr string) (model.Transform, error) {
	stmt, err := e.prepare(column, expr)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, value interface{}) (interface{}, error) {
		var result interface{}
		if err := stmt.QueryRowContext(ctx, bindValue(value)).Scan(&result); err != nil {
			return nil, err
		}
		return normalizeResult(result), nil
	}, nil
}

// prepare compiles expr with the column bound to the single parameter
func (e *SQLEngine) prepare(column, expr string) (*sql.Stmt, error) {
	query := fmt.Sprintf("SELECT (%s) FROM (SELECT ? AS %s)", expr, quoteIdentifier(column))

	stmt, err := e.db.Prepare(query)
	if err != nil {
		return nil, compileError(column, expr, err)
	}

	e.mu.Lock()
	e.stmts = append(e.stmts, stmt)
	e.mu.Unlock()

	return stmt, nil
}

// Close closes all prepared statements and the database
func (e *SQLEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, stmt := range e.stmts {
		stmt.Close()
	}
	e.stmts = nil
	return e.db.Close()
}

// quoteIdentifier wraps a column name in backticks
func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

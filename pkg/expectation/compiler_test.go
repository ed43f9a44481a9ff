// pkg/expectation/compiler_test.go
package expectation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/pii-redact/pkg/expression"
	"github.com/David-Botos/pii-redact/pkg/model"
)

func newEngine(t *testing.T) expression.Engine {
	t.Helper()
	engine, err := expression.NewSQLEngine()
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestCompileOrderAndBinding(t *testing.T) {
	engine := newEngine(t)

	templates := []model.RuleTemplate{
		{Name: "{}_is_null", Constraint: "{} IS NULL", Action: "'REDACTED'", Columns: []string{"ssn", "email"}},
		{Name: "{}_short", Constraint: "length({}) < 3", Action: "mask({})", Columns: []string{"ssn"}},
	}

	set, err := Compile([]string{"name", "ssn", "email"}, templates, engine)
	require.NoError(t, err)

	var names []string
	for _, e := range set.All() {
		names = append(names, e.ConstraintName)
	}
	assert.Equal(t, []string{"ssn_is_null", "ssn_short", "email_is_null"}, names)
	assert.Equal(t, 3, set.Len())
	assert.Empty(t, set.ForColumn("name"))
	assert.Equal(t, []string{"name", "ssn", "email"}, set.Columns())

	bound, ok := set.Lookup("ssn_short")
	require.True(t, ok)
	assert.Equal(t, "ssn", bound.Column)
	assert.Equal(t, "length(`ssn`) < 3", bound.ConstraintExpr)
	assert.Equal(t, "mask(`ssn`)", bound.ActionExpr)
	assert.Equal(t, 1, bound.Ordinal)

	ok, err = bound.Predicate(context.Background(), "12")
	require.NoError(t, err)
	assert.True(t, ok)

	value, err := bound.Transform(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, "**3456", value)

	_, ok = set.Lookup("name_is_null")
	assert.False(t, ok)
}

func TestCompileRejectsDuplicateNames(t *testing.T) {
	engine := newEngine(t)

	templates := []model.RuleTemplate{
		{Name: "pii_check", Constraint: "{} IS NULL", Action: "NULL"},
	}

	_, err := Compile([]string{"ssn", "email"}, templates, engine)
	var cfgErr *model.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "pii_check", cfgErr.Source)
}

func TestCompileRejectsUnknownColumn(t *testing.T) {
	engine := newEngine(t)

	templates := []model.RuleTemplate{
		{Name: "{}_is_null", Constraint: "{} IS NULL", Action: "NULL", Columns: []string{"phone"}},
	}

	_, err := Compile([]string{"ssn"}, templates, engine)
	var cfgErr *model.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestCompileRejectsBadExpression(t *testing.T) {
	engine := newEngine(t)

	templates := []model.RuleTemplate{
		{Name: "{}_bad", Constraint: "{} IS", Action: "NULL"},
	}

	_, err := Compile([]string{"ssn"}, templates, engine)
	var cfgErr *model.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestCompileRequiresColumns(t *testing.T) {
	engine := newEngine(t)

	_, err := Compile(nil, []model.RuleTemplate{{Name: "a", Constraint: "1", Action: "1"}}, engine)
	var cfgErr *model.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestCompileStarlark(t *testing.T) {
	engine := expression.NewStarlarkEngine()

	templates := []model.RuleTemplate{
		{Name: "{}_no_digits", Constraint: "not re_match('[0-9]', {})", Action: "mask({})"},
	}

	set, err := Compile([]string{"ssn", "city"}, templates, engine)
	require.NoError(t, err)
	assert.Equal(t, "starlark", set.Dialect())

	bound, ok := set.Lookup("city_no_digits")
	require.True(t, ok)
	assert.Equal(t, "not re_match('[0-9]', city)", bound.ConstraintExpr)

	_, err = Compile([]string{"first name"}, templates, engine)
	var cfgErr *model.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

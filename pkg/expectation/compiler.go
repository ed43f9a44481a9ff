// pkg/expectation/compiler.go

// Package expectation binds rule templates to a concrete schema.
package expectation

import (
	"fmt"
	"strings"

	"github.com/David-Botos/pii-redact/pkg/expression"
	"github.com/David-Botos/pii-redact/pkg/model"
)

// Compile instantiates every template for every column it applies to.
// Columns form the outer loop and templates the inner one, so expectations
// keep catalog order within a column. A duplicate constraint name or a
// template restricted to a column the schema lacks is a ConfigError.
func Compile(columns []string, templates []model.RuleTemplate, engine expression.Engine) (*Set, error) {
	if len(columns) == 0 {
		return nil, model.NewConfigError("", "schema has no columns", nil)
	}
	if engine == nil {
		return nil, model.NewConfigError("", "expression engine is required", nil)
	}

	if err := validateColumns(columns, templates); err != nil {
		return nil, err
	}

	set := newSet(columns, engine.Dialect())

	for _, column := range columns {
		placeholder, err := engine.Placeholder(column)
		if err != nil {
			return nil, err
		}

		for _, tmpl := range templates {
			if !tmpl.AppliesTo(column) {
				continue
			}

			bound, err := bind(column, placeholder, tmpl, engine)
			if err != nil {
				return nil, err
			}

			if err := set.add(bound); err != nil {
				return nil, err
			}
		}
	}

	return set, nil
}

// bind substitutes the column into one template and compiles both expressions
func bind(column, placeholder string, tmpl model.RuleTemplate, engine expression.Engine) (model.BoundExpectation, error) {
	bound := model.BoundExpectation{
		Column:         column,
		ConstraintName: strings.ReplaceAll(tmpl.Name, model.Placeholder, column),
		ConstraintExpr: strings.ReplaceAll(tmpl.Constraint, model.Placeholder, placeholder),
		ActionExpr:     strings.ReplaceAll(tmpl.Action, model.Placeholder, placeholder),
	}

	predicate, err := engine.CompilePredicate(column, bound.ConstraintExpr)
	if err != nil {
		return bound, fmt.Errorf("constraint %s: %w", bound.ConstraintName, err)
	}

	transform, err := engine.CompileTransform(column, bound.ActionExpr)
	if err != nil {
		return bound, fmt.Errorf("action for %s: %w", bound.ConstraintName, err)
	}

	bound.Predicate = predicate
	bound.Transform = transform
	return bound, nil
}

// validateColumns checks that column restrictions only name schema columns
func validateColumns(columns []string, templates []model.RuleTemplate) error {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}

	for _, tmpl := range templates {
		for _, c := range tmpl.Columns {
			if !known[c] {
				return model.NewConfigError(tmpl.Name,
					fmt.Sprintf("rule references column %q which does not exist in the schema", c), nil)
			}
		}
	}
	return nil
}

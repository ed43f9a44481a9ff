// pkg/model/expectation.go
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Placeholder is the token substituted with a column reference in rule patterns
const Placeholder = "{}"

// FailedExpectationsColumn holds the failed expectation names on quarantine
// and redacted tables.
const FailedExpectationsColumn = "failed_expectations"

// RuleTemplate is one entry of the rule catalog. Each pattern contains the
// "{}" placeholder that is replaced per column.
type RuleTemplate struct {
	Name       string   `json:"name" yaml:"name"`
	Constraint string   `json:"constraint" yaml:"constraint"`
	Action     string   `json:"action" yaml:"action"`
	Columns    []string `json:"columns,omitempty" yaml:"columns,omitempty"` // empty means every column
}

// AppliesTo reports whether the template should be bound to the column
func (t RuleTemplate) AppliesTo(column string) bool {
	if len(t.Columns) == 0 {
		return true
	}
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Predicate evaluates a constraint against one column value.
// A false result means the constraint failed.
type Predicate func(ctx context.Context, value interface{}) (bool, error)

// Transform evaluates an action against one column value and returns the
// substituted value.
type Transform func(ctx context.Context, value interface{}) (interface{}, error)

// BoundExpectation is a RuleTemplate instantiated for a single column
type BoundExpectation struct {
	Column         string
	ConstraintName string
	ConstraintExpr string
	ActionExpr     string
	Ordinal        int // position in compile order, used for catalog-first resolution

	Predicate Predicate `json:"-"`
	Transform Transform `json:"-"`
}

// FailedExpectationSet lists, in expectation order, the constraint names a
// record failed. Empty means the record is clean.
type FailedExpectationSet []string

// Clean reports whether no expectation failed
func (f FailedExpectationSet) Clean() bool {
	return len(f) == 0
}

// Contains reports whether name is in the set
func (f FailedExpectationSet) Contains(name string) bool {
	for _, n := range f {
		if n == name {
			return true
		}
	}
	return false
}

// Encode renders the set as a JSON array for the failed_expectations column
func (f FailedExpectationSet) Encode() (string, error) {
	if f == nil {
		f = FailedExpectationSet{}
	}
	data, err := json.Marshal([]string(f))
	if err != nil {
		return "", fmt.Errorf("failed to encode failed expectations: %w", err)
	}
	return string(data), nil
}

// DecodeFailedExpectations parses a failed_expectations column value
func DecodeFailedExpectations(v interface{}) (FailedExpectationSet, error) {
	var raw []byte
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		raw = []byte(val)
	case []byte:
		raw = val
	default:
		return nil, fmt.Errorf("unexpected %s value of type %T", FailedExpectationsColumn, v)
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", FailedExpectationsColumn, err)
	}
	return FailedExpectationSet(names), nil
}

// Substitution replaces one column with the value of its action
type Substitution struct {
	Column         string
	ConstraintName string
	ActionExpr     string
	Transform      Transform `json:"-"`
}

// RedactionProjection decides, for every column, whether a record keeps its
// value or has it substituted. Passthrough and the substituted columns
// partition Columns.
type RedactionProjection struct {
	Columns       []string
	Passthrough   []string
	Substitutions []Substitution
}

// IsSubstituted reports whether the column is replaced by an action
func (p RedactionProjection) IsSubstituted(column string) bool {
	_, ok := p.Substitution(column)
	return ok
}

// Substitution returns the substitution for a column, if any
func (p RedactionProjection) Substitution(column string) (Substitution, bool) {
	for _, s := range p.Substitutions {
		if s.Column == column {
			return s, true
		}
	}
	return Substitution{}, false
}

// SubstitutedColumns returns the substituted column names in schema order
func (p RedactionProjection) SubstitutedColumns() []string {
	cols := make([]string, 0, len(p.Substitutions))
	for _, s := range p.Substitutions {
		cols = append(cols, s.Column)
	}
	return cols
}

// Key is a stable identity for the projection, used to detect changes
func (p RedactionProjection) Key() string {
	parts := make([]string, 0, len(p.Substitutions))
	for _, s := range p.Substitutions {
		parts = append(parts, s.Column+"="+s.ActionExpr)
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

// Expressions renders the projection as one expression per output column,
// the form the pipeline logs on every recomputation.
func (p RedactionProjection) Expressions() []string {
	out := make([]string, 0, len(p.Columns))
	for _, col := range p.Columns {
		if s, ok := p.Substitution(col); ok {
			out = append(out, s.ActionExpr+" AS "+col)
			continue
		}
		out = append(out, col)
	}
	return out
}

// Validate checks that passthrough and substituted columns partition
// Columns with no overlap and no omission
func (p RedactionProjection) Validate() error {
	seen := make(map[string]int, len(p.Columns))
	for _, c := range p.Passthrough {
		seen[c]++
	}
	for _, s := range p.Substitutions {
		seen[s.Column]++
	}

	for _, c := range p.Columns {
		switch seen[c] {
		case 0:
			return fmt.Errorf("projection omits column %s", c)
		case 1:
			delete(seen, c)
		default:
			return fmt.Errorf("projection lists column %s more than once", c)
		}
	}
	if len(seen) > 0 {
		unknown := make([]string, 0, len(seen))
		for c := range seen {
			unknown = append(unknown, c)
		}
		sort.Strings(unknown)
		return fmt.Errorf("projection references unknown columns %v", unknown)
	}
	return nil
}

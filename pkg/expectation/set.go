// pkg/expectation/set.go
package expectation

import (
	"fmt"

	"github.com/David-Botos/pii-redact/pkg/model"
)

// Set is the immutable result of compiling a catalog against a schema.
// It is shared read-only by every batch of a run.
type Set struct {
	dialect      string
	columns      []string
	expectations []model.BoundExpectation
	byName       map[string]int
	byColumn     map[string][]int
}

func newSet(columns []string, dialect string) *Set {
	cols := make([]string, len(columns))
	copy(cols, columns)

	return &Set{
		dialect:  dialect,
		columns:  cols,
		byName:   make(map[string]int),
		byColumn: make(map[string][]int),
	}
}

// add appends an expectation, rejecting duplicate constraint names
func (s *Set) add(bound model.BoundExpectation) error {
	if prev, exists := s.byName[bound.ConstraintName]; exists {
		return model.NewConfigError(bound.ConstraintName,
			fmt.Sprintf("duplicate constraint name (columns %s and %s)",
				s.expectations[prev].Column, bound.Column), nil)
	}

	bound.Ordinal = len(s.expectations)
	s.byName[bound.ConstraintName] = bound.Ordinal
	s.byColumn[bound.Column] = append(s.byColumn[bound.Column], bound.Ordinal)
	s.expectations = append(s.expectations, bound)
	return nil
}

// All returns the expectations in compile order
func (s *Set) All() []model.BoundExpectation {
	out := make([]model.BoundExpectation, len(s.expectations))
	copy(out, s.expectations)
	return out
}

// Lookup finds an expectation by constraint name
func (s *Set) Lookup(name string) (model.BoundExpectation, bool) {
	idx, ok := s.byName[name]
	if !ok {
		return model.BoundExpectation{}, false
	}
	return s.expectations[idx], true
}

// ForColumn returns the expectations bound to a column in catalog order
func (s *Set) ForColumn(column string) []model.BoundExpectation {
	idxs := s.byColumn[column]
	out := make([]model.BoundExpectation, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, s.expectations[idx])
	}
	return out
}

// Columns returns the schema the set was compiled against
func (s *Set) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// Len returns the number of expectations
func (s *Set) Len() int {
	return len(s.expectations)
}

// Dialect returns the expression dialect the set was compiled with
func (s *Set) Dialect() string {
	return s.dialect
}

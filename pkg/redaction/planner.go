// pkg/redaction/planner.go

// Package redaction derives the redaction projection from the failures seen
// in quarantine and applies it to quarantined records.
package redaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/David-Botos/pii-redact/pkg/expectation"
	"github.com/David-Botos/pii-redact/pkg/model"
)

// Plan builds the projection for a set of failed constraint names. Each
// column that failed is substituted with the action of its catalog-first
// failed expectation; every other column passes through. A name the set
// does not know is a ConfigError, since its column cannot be identified.
func Plan(set *expectation.Set, failedNames []string) (model.RedactionProjection, error) {
	chosen := make(map[string]model.BoundExpectation)

	for _, name := range failedNames {
		exp, ok := set.Lookup(name)
		if !ok {
			return model.RedactionProjection{}, model.NewConfigError(name,
				"failed expectation is not part of the compiled rule set", nil)
		}
		if current, exists := chosen[exp.Column]; !exists || exp.Ordinal < current.Ordinal {
			chosen[exp.Column] = exp
		}
	}

	columns := set.Columns()
	projection := model.RedactionProjection{
		Columns:     columns,
		Passthrough: make([]string, 0, len(columns)),
	}

	for _, col := range columns {
		exp, ok := chosen[col]
		if !ok {
			projection.Passthrough = append(projection.Passthrough, col)
			continue
		}
		projection.Substitutions = append(projection.Substitutions, model.Substitution{
			Column:         col,
			ConstraintName: exp.ConstraintName,
			ActionExpr:     exp.ActionExpr,
			Transform:      exp.Transform,
		})
	}

	return projection, nil
}

// Planner keeps the projection in step with the quarantine table. The
// projection is recomputed only when the distinct failed-name set grows,
// and since quarantine is append-only it never shrinks.
type Planner struct {
	set     *expectation.Set
	tracker *Tracker
	logger  *zap.Logger

	mu         sync.Mutex
	projection model.RedactionProjection
	version    int
	planned    bool
}

// NewPlanner creates a Planner over a compiled set and a quarantine tracker
func NewPlanner(set *expectation.Set, tracker *Tracker, logger *zap.Logger) (*Planner, error) {
	if set == nil {
		return nil, errors.New("expectation set cannot be nil")
	}
	if tracker == nil {
		return nil, errors.New("tracker cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Planner{
		set:     set,
		tracker: tracker,
		logger:  logger.Named("planner"),
	}, nil
}

// Current scans newly appended quarantine rows and returns the projection
// that covers every failure seen so far
func (p *Planner) Current(ctx context.Context) (model.RedactionProjection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed, err := p.tracker.Refresh(ctx)
	if err != nil {
		return model.RedactionProjection{}, fmt.Errorf("failed to refresh failed expectations: %w", err)
	}

	if p.planned && !changed {
		return p.projection, nil
	}

	names := p.tracker.Names()
	projection, err := Plan(p.set, names)
	if err != nil {
		return model.RedactionProjection{}, err
	}
	if err := projection.Validate(); err != nil {
		return model.RedactionProjection{}, fmt.Errorf("invalid projection: %w", err)
	}

	// a new failure on an already substituted column keeps the projection
	if p.planned && projection.Key() == p.projection.Key() {
		p.logger.Debug("Failed expectations changed without widening the projection",
			zap.Strings("failed_expectations", names))
		return p.projection, nil
	}

	p.projection = projection
	p.planned = true
	p.version++

	p.logger.Info("Recomputed redaction projection",
		zap.Int("version", p.version),
		zap.Strings("failed_columns", projection.SubstitutedColumns()),
		zap.Strings("failed_expectations", names),
		zap.Strings("projection", projection.Expressions()))

	return projection, nil
}

// Version returns how many distinct projections have been planned
func (p *Planner) Version() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

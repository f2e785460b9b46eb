package filter

import (
	"context"
	"fmt"

	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

// Stage evaluates one qualification criterion.
// Implementations must be safe for concurrent use and must not depend on
// the clock or randomness, so identical input yields an identical verdict.
type Stage interface {
	Name() string
	Evaluate(ctx context.Context, snap *storage.ProfileSnapshot, trail storage.DecisionTrail) storage.FilterVerdict
}

// Pipeline runs stages in order and stops at the first failure
type Pipeline struct {
	stages []Stage
}

// NewPipeline creates a pipeline over the given stages
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Evaluate runs the stages against snap. The returned trail holds one
// verdict per stage that ran; stages after a failing one are not invoked.
func (p *Pipeline) Evaluate(ctx context.Context, snap *storage.ProfileSnapshot) (bool, storage.DecisionTrail) {
	trail := make(storage.DecisionTrail, 0, len(p.stages))
	for _, stage := range p.stages {
		verdict := stage.Evaluate(ctx, snap, trail)
		verdict.Stage = stage.Name()
		trail = append(trail, verdict)
		if !verdict.Passed {
			return false, trail
		}
	}
	return true, trail
}

// StageNames returns the configured stage order
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

func pass(format string, args ...any) storage.FilterVerdict {
	return storage.FilterVerdict{Passed: true, Justification: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) storage.FilterVerdict {
	return storage.FilterVerdict{Passed: false, Justification: fmt.Sprintf(format, args...)}
}

package team

import (
	"github.com/Iron-Ham/sprintfleet/internal/agent"
	"github.com/Iron-Ham/sprintfleet/internal/budget"
	"github.com/Iron-Ham/sprintfleet/internal/coordination"
	"github.com/Iron-Ham/sprintfleet/internal/kanban"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
)

// DefaultMaxBorrowsPerSprint caps applied borrow decisions per sprint.
const DefaultMaxBorrowsPerSprint = 1

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCoordinator sets the coordination loop consulted at the start of a
// sprint. Without one, no borrows are planned and no check-in runs.
func WithCoordinator(l *coordination.Loop) Option {
	return func(o *Orchestrator) { o.coordinator = l }
}

// WithBudget runs the coordination, distribution and check-in steps under
// the tracker's step timeouts and records their timings.
func WithBudget(t *budget.Tracker) Option {
	return func(o *Orchestrator) { o.budget = t }
}

// WithMaxBorrowsPerSprint caps how many planned borrows are applied per
// sprint. Negative values are ignored; zero disables borrowing.
func WithMaxBorrowsPerSprint(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxBorrows = n
		}
	}
}

// WithWIPLimits sets the WIP limits applied to every team board.
func WithWIPLimits(limits map[kanban.Status]int) Option {
	return func(o *Orchestrator) { o.wipLimits = limits }
}

// WithNumSprints sets how many sprints Run executes. Values below one are
// ignored.
func WithNumSprints(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.numSprints = n
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAgentOptions sets options applied to every agent created during
// setup, e.g. a shared model.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(o *Orchestrator) {
		o.agentOpts = append(o.agentOpts, opts...)
	}
}

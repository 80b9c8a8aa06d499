package sprint

import "github.com/Iron-Ham/sprintfleet/internal/logging"

// DefaultCardsPerAgent is how many cards each agent may finish per sprint.
const DefaultCardsPerAgent = 2

// Option configures a Runner.
type Option func(*Runner)

// WithCardsPerAgent sets the per-agent quota. Values below one are ignored.
func WithCardsPerAgent(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.cardsPerAgent = n
		}
	}
}

// WithAgentWork asks agents that have a model to write a work note for each
// card. A card whose note fails stays in progress.
func WithAgentWork(enabled bool) Option {
	return func(r *Runner) { r.agentWork = enabled }
}

// WithLogger sets the runner logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

package coordination

import (
	"context"

	"github.com/Iron-Ham/sprintfleet/internal/bus"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
)

// Topic is the bus topic coordination outcomes are published on.
const Topic = "coordination"

// Sender is the sender id used for coordination broadcasts.
const Sender = "coordinator"

// DefaultCadence runs a full cycle every sprint.
const DefaultCadence = 1

// Publisher is the subset of the bus the loop broadcasts through.
type Publisher interface {
	Publish(ctx context.Context, sender, topic string, content bus.Content) (bus.Message, error)
}

// Option configures a Loop.
type Option func(*Loop)

// WithAnalyst sets the collaborator that evaluates team health. Without
// one the loop uses a deterministic summary.
func WithAnalyst(g Generator) Option {
	return func(l *Loop) { l.analyst = g }
}

// WithPlanner sets the collaborator that turns analysis into borrows and
// recommendations. Without one the analyst plans; without either the
// deterministic planner is used.
func WithPlanner(g Generator) Option {
	return func(l *Loop) { l.planner = g }
}

// WithCadence runs the full cycle every n sprints. Values below 1 are ignored.
func WithCadence(n int) Option {
	return func(l *Loop) {
		if n >= 1 {
			l.cadence = n
		}
	}
}

// WithEnabled turns the full cycle on or off.
func WithEnabled(enabled bool) Option {
	return func(l *Loop) { l.enabled = enabled }
}

// WithMidSprintCheckin turns the mid-sprint check-in on or off.
func WithMidSprintCheckin(enabled bool) Option {
	return func(l *Loop) { l.checkin = enabled }
}

// WithLogger sets the loop logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger.WithComponent("coordination")
		}
	}
}

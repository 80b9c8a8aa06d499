package kanban

import (
	"context"

	"github.com/Iron-Ham/sprintfleet/internal/bus"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
)

// Topic is the bus topic card moves are published on.
const Topic = "kanban"

// Publisher is the subset of the bus a board needs to announce moves.
type Publisher interface {
	Publish(ctx context.Context, sender, topic string, content bus.Content) (bus.Message, error)
}

// Option configures a Board.
type Option func(*Board)

// WithTeam scopes the board to one team. Cards added through the board are
// stamped with the team id and reads only see that team's cards.
func WithTeam(teamID string) Option {
	return func(b *Board) {
		b.teamID = teamID
	}
}

// WithWIPLimits sets per-column WIP limits. Only in_progress and review
// accept a limit; other columns and non-positive limits are ignored.
func WithWIPLimits(limits map[Status]int) Option {
	return func(b *Board) {
		for s, n := range limits {
			if WIPLimited(s) && n > 0 {
				b.wipLimits[s] = n
			}
		}
	}
}

// WithPublisher publishes a kanban topic event after every successful move.
func WithPublisher(p Publisher) Option {
	return func(b *Board) {
		b.publisher = p
	}
}

// WithLogger sets the board logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Board) {
		if l != nil {
			b.logger = l.WithComponent("kanban")
		}
	}
}

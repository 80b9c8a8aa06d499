package sprint

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/sprintfleet/internal/agent"
	"github.com/Iron-Ham/sprintfleet/internal/bus"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/kanban"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
	"github.com/Iron-Ham/sprintfleet/internal/team"
	"github.com/Iron-Ham/sprintfleet/internal/util"
)

// MetaWorkNote holds the note an agent wrote for a finished card.
const MetaWorkNote = "work_note"

// maxWorkNote bounds the stored work note, in runes.
const maxWorkNote = 280

// Dependency states written to card metadata.
const (
	dependencyOpen     = "open"
	dependencyResolved = "resolved"
)

// Runner is an offline sprint runner for one team.
type Runner struct {
	spec   team.Spec
	board  *kanban.Board
	store  kanban.CardStore
	roster team.Roster

	cardsPerAgent int
	agentWork     bool
	logger        *logging.Logger
}

// New creates a Runner for spec. The board must be scoped to the team; the
// store is used for metadata updates the board does not expose.
func New(spec team.Spec, board *kanban.Board, store kanban.CardStore, roster team.Roster, opts ...Option) (*Runner, error) {
	if board == nil {
		return nil, errors.New("sprint: Board is required")
	}
	if store == nil {
		return nil, errors.New("sprint: Store is required")
	}
	if roster == nil {
		return nil, errors.New("sprint: Roster is required")
	}

	r := &Runner{
		spec:          spec,
		board:         board,
		store:         store,
		roster:        roster,
		cardsPerAgent: DefaultCardsPerAgent,
		logger:        logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("sprint").WithTeam(spec.ID)
	return r, nil
}

// Factory returns a team.RunnerFactory that builds Runners over store.
func Factory(store kanban.CardStore, opts ...Option) team.RunnerFactory {
	return func(spec team.Spec, board *kanban.Board, roster team.Roster) (team.SprintRunner, error) {
		return New(spec, board, store, roster, opts...)
	}
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeBlocked
	outcomeStalled
)

// RunSprint implements team.SprintRunner.
func (r *Runner) RunSprint(ctx context.Context, n int) (team.SprintResult, error) {
	log := r.logger.WithSprint(n)
	agents := r.roster()

	res := team.SprintResult{TeamID: r.spec.ID, Sprint: n}
	for _, a := range agents {
		res.Agents = append(res.Agents, a.ID())
	}
	if len(agents) == 0 {
		log.Warn("no agents on roster")
		return res, nil
	}

	read, err := r.readInboxes(ctx, agents)
	if err != nil {
		return team.SprintResult{}, err
	}
	res.MessagesRead = read

	if err := r.unblock(ctx); err != nil {
		return team.SprintResult{}, err
	}
	if err := r.refine(ctx, len(agents)*r.cardsPerAgent); err != nil {
		return team.SprintResult{}, err
	}

	// Work left in progress by an earlier sprint is finished before new
	// work is pulled.
	carried, err := r.board.Cards(ctx, kanban.StatusInProgress)
	if err != nil {
		return team.SprintResult{}, fmt.Errorf("list in progress: %w", err)
	}

pull:
	for range r.cardsPerAgent {
		for _, a := range agents {
			if err := ctx.Err(); err != nil {
				return team.SprintResult{}, err
			}

			var card *kanban.Card
			if len(carried) > 0 {
				card = &carried[0]
				carried = carried[1:]
			} else {
				card, err = r.board.PullReadyTask(ctx)
				if err != nil {
					return team.SprintResult{}, err
				}
				if card == nil {
					break pull
				}
				res.CardsStarted++
			}

			result, err := r.work(ctx, a, *card, n)
			if err != nil {
				return team.SprintResult{}, errors.NewTeamError("card work failed", err).WithAgentID(a.ID())
			}
			if result == outcomeDone {
				res.Velocity += float64(card.StoryPoints)
				res.FeaturesCompleted++
			}
		}
	}

	blocked, err := r.board.Cards(ctx, kanban.StatusBlocked)
	if err != nil {
		return team.SprintResult{}, fmt.Errorf("list blocked: %w", err)
	}
	res.Blocked = len(blocked)

	log.Info("team sprint finished",
		"velocity", res.Velocity,
		"features", res.FeaturesCompleted,
		"started", res.CardsStarted,
		"blocked", res.Blocked,
		"agents", len(agents),
	)
	return res, nil
}

// readInboxes drains every agent's inbox and returns the message count.
func (r *Runner) readInboxes(ctx context.Context, agents []*agent.Agent) (int, error) {
	total := 0
	for _, a := range agents {
		msgs, err := a.Drain(ctx)
		if err != nil {
			return total, fmt.Errorf("drain %s: %w", a.ID(), err)
		}
		total += len(msgs)
	}
	return total, nil
}

// unblock marks the dependency of every blocked card as delivered and
// returns the card to ready. Cards blocked without a dependency stay put.
func (r *Runner) unblock(ctx context.Context) error {
	cards, err := r.board.Cards(ctx, kanban.StatusBlocked)
	if err != nil {
		return fmt.Errorf("list blocked: %w", err)
	}
	for _, c := range cards {
		if c.DependsOnTeam() == "" {
			continue
		}
		field := kanban.MetadataField(kanban.MetaDependencyStatus)
		if err := r.store.UpdateCardField(ctx, c.ID, field, dependencyResolved); err != nil {
			return fmt.Errorf("resolve %s: %w", c.ID, err)
		}
		if err := r.board.MoveCard(ctx, c.ID, kanban.StatusReady); err != nil {
			return fmt.Errorf("unblock %s: %w", c.ID, err)
		}
		r.logger.Debug("dependency resolved", "card_id", c.ID, "depends_on_team", c.DependsOnTeam())
	}
	return nil
}

// refine moves backlog cards to ready, highest priority first, until
// capacity cards are ready.
func (r *Runner) refine(ctx context.Context, capacity int) error {
	ready, err := r.board.Cards(ctx, kanban.StatusReady)
	if err != nil {
		return fmt.Errorf("list ready: %w", err)
	}
	need := capacity - len(ready)
	if need <= 0 {
		return nil
	}

	backlog, err := r.board.Cards(ctx, kanban.StatusBacklog)
	if err != nil {
		return fmt.Errorf("list backlog: %w", err)
	}
	slices.SortStableFunc(backlog, func(a, b kanban.Card) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return int(a.Seq - b.Seq)
	})
	for _, c := range backlog[:min(need, len(backlog))] {
		if err := r.board.MoveCard(ctx, c.ID, kanban.StatusReady); err != nil {
			return fmt.Errorf("refine %s: %w", c.ID, err)
		}
	}
	return nil
}

// openDependency returns the team card waits on, or "" when it can be
// worked now.
func openDependency(c kanban.Card, teamID string) string {
	dep := c.DependsOnTeam()
	if dep == "" || dep == teamID || c.Metadata[kanban.MetaDependencyStatus] == dependencyResolved {
		return ""
	}
	return dep
}

// work takes one in-progress card through to done, or parks it in blocked
// when it waits on another team.
func (r *Runner) work(ctx context.Context, a *agent.Agent, card kanban.Card, n int) (outcome, error) {
	log := r.logger.WithSprint(n).WithAgent(a.ID())

	if dep := openDependency(card, r.spec.ID); dep != "" {
		field := kanban.MetadataField(kanban.MetaDependencyStatus)
		if err := r.store.UpdateCardField(ctx, card.ID, field, dependencyOpen); err != nil {
			return outcomeStalled, fmt.Errorf("mark %s: %w", card.ID, err)
		}
		if err := r.board.MoveCard(ctx, card.ID, kanban.StatusBlocked); err != nil {
			return outcomeStalled, fmt.Errorf("block %s: %w", card.ID, err)
		}
		r.announce(ctx, a, bus.Content{"event": "card_blocked", "card_id": card.ID, "depends_on_team": dep})
		return outcomeBlocked, nil
	}

	if r.agentWork && a.HasModel() {
		note, err := a.Generate(ctx, workPrompt(r.spec, card))
		if err != nil {
			log.Warn("work note failed", "card_id", card.ID, "error", err.Error())
			return outcomeStalled, nil
		}
		note = util.Truncate(note, maxWorkNote)
		if err := r.store.UpdateCardField(ctx, card.ID, kanban.MetadataField(MetaWorkNote), note); err != nil {
			return outcomeStalled, fmt.Errorf("note %s: %w", card.ID, err)
		}
	}

	if err := r.store.UpdateCardField(ctx, card.ID, kanban.FieldSprint, n); err != nil {
		return outcomeStalled, fmt.Errorf("stamp %s: %w", card.ID, err)
	}
	for _, to := range []kanban.Status{kanban.StatusReview, kanban.StatusDone} {
		if err := r.board.MoveCard(ctx, card.ID, to); err != nil {
			if errors.Is(err, errors.ErrWIPLimitExceeded) {
				log.Info("card stalled", "card_id", card.ID, "to", string(to))
				return outcomeStalled, nil
			}
			return outcomeStalled, fmt.Errorf("finish %s: %w", card.ID, err)
		}
	}

	r.announce(ctx, a, bus.Content{
		"event":        "card_done",
		"card_id":      card.ID,
		"title":        card.Title,
		"story_points": card.StoryPoints,
	})
	return outcomeDone, nil
}

// announce tells the agent's teammates about a card. Failures are logged.
func (r *Runner) announce(ctx context.Context, a *agent.Agent, content bus.Content) {
	if _, err := a.SendToChannel(ctx, team.ChannelName(r.spec.ID), content); err != nil {
		r.logger.Debug("team announcement not sent", "agent_id", a.ID(), "error", err.Error())
	}
}

func workPrompt(spec team.Spec, card kanban.Card) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are on team %s. Write one sentence describing how you completed this card.\n", spec.DisplayName())
	fmt.Fprintf(&sb, "Card: %s (%d points)\n", card.Title, card.StoryPoints)
	if card.Description != "" {
		fmt.Fprintf(&sb, "Details: %s\n", card.Description)
	}
	return sb.String()
}

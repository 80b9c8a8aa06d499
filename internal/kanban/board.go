package kanban

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Iron-Ham/sprintfleet/internal/bus"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
)

// Board is a WIP-limited view over a CardStore, scoped to one team or, with
// no team, to every card. Each WIP check and the mutation it guards run
// under the board's lock, so concurrent pulls cannot both see capacity.
// Use a single Board per team.
type Board struct {
	store     CardStore
	teamID    string
	wipLimits map[Status]int
	publisher Publisher
	logger    *logging.Logger

	mu sync.Mutex
}

// NewBoard creates a Board over store.
func NewBoard(store CardStore, opts ...Option) *Board {
	b := &Board{
		store:     store,
		wipLimits: make(map[Status]int),
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.teamID != "" {
		b.logger = b.logger.WithTeam(b.teamID)
	}
	return b
}

// TeamID returns the team the board is scoped to, or "" for a global board.
func (b *Board) TeamID() string {
	return b.teamID
}

// WIPLimit returns the limit for s, if one is configured.
func (b *Board) WIPLimit(s Status) (int, bool) {
	n, ok := b.wipLimits[s]
	return n, ok
}

// AddCard stores c with status ready unless set, stamped with the board's
// team when the board is scoped.
func (b *Board) AddCard(ctx context.Context, c Card) (Card, error) {
	if c.Title == "" {
		return Card{}, errors.NewValidationError("card title is required").WithField("title")
	}
	if c.Status == "" {
		c.Status = StatusReady
	}
	if !c.Status.Valid() {
		return Card{}, errors.NewValidationError("unknown card status").
			WithField("status").WithValue(string(c.Status)).WithSentinel(errors.ErrInvalidStatus)
	}
	if b.teamID != "" {
		c.TeamID = b.teamID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkCapacity(ctx, c.Status); err != nil {
		return Card{}, err
	}
	stored, err := b.store.AddCard(ctx, c)
	if err != nil {
		return Card{}, fmt.Errorf("add card: %w", err)
	}
	b.logger.Debug("card added", "card_id", stored.ID, "status", string(stored.Status))
	return stored, nil
}

// checkCapacity fails when s is WIP-limited and full. Callers hold b.mu.
func (b *Board) checkCapacity(ctx context.Context, s Status) error {
	limit, ok := b.wipLimits[s]
	if !ok {
		return nil
	}
	n, err := b.store.WIPCountForTeam(ctx, s, b.teamID)
	if err != nil {
		return fmt.Errorf("count %s: %w", s, err)
	}
	if n >= limit {
		return errors.NewResourceExhaustedError(string(s), n, limit).WithCause(errors.ErrWIPLimitExceeded)
	}
	return nil
}

// PullReadyTask moves the highest-priority ready card (oldest first among
// equals) to in_progress and returns it. It returns nil without changing
// anything when no card is ready or in_progress is at its WIP limit.
func (b *Board) PullReadyTask(ctx context.Context) (*Card, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkCapacity(ctx, StatusInProgress); err != nil {
		if errors.Is(err, errors.ErrWIPLimitExceeded) {
			b.logger.Debug("pull skipped at wip limit")
			return nil, nil
		}
		return nil, err
	}

	ready, err := b.store.CardsByStatus(ctx, StatusReady, b.teamID)
	if err != nil {
		return nil, fmt.Errorf("list ready cards: %w", err)
	}
	if len(ready) == 0 {
		return nil, nil
	}

	slices.SortStableFunc(ready, func(x, y Card) int {
		if x.Priority != y.Priority {
			return y.Priority - x.Priority
		}
		switch {
		case x.Seq < y.Seq:
			return -1
		case x.Seq > y.Seq:
			return 1
		}
		return 0
	})
	card := ready[0]

	if err := b.store.UpdateCardField(ctx, card.ID, FieldStatus, StatusInProgress); err != nil {
		return nil, fmt.Errorf("pull card %s: %w", card.ID, err)
	}
	card.Status = StatusInProgress
	b.announce(ctx, card.ID, StatusReady, StatusInProgress)
	return &card, nil
}

// MoveCard sets the status of card id. Moving into a full WIP-limited
// column fails with a ResourceExhaustedError matching ErrWIPLimitExceeded
// and leaves the card where it was. Moving a card to its current status is
// a no-op.
func (b *Board) MoveCard(ctx context.Context, id string, to Status) error {
	if !to.Valid() {
		return errors.NewValidationError("unknown card status").
			WithField("status").WithValue(string(to)).WithSentinel(errors.ErrInvalidStatus)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	card, err := b.store.GetCard(ctx, id)
	if err != nil {
		return err
	}
	if b.teamID != "" && card.TeamID != b.teamID {
		return CardNotFound(id)
	}
	if card.Status == to {
		return nil
	}

	if err := b.checkCapacity(ctx, to); err != nil {
		b.logger.Info("move rejected",
			"card_id", id,
			"from", string(card.Status),
			"to", string(to),
			"error", err.Error(),
		)
		return err
	}
	if err := b.store.UpdateCardField(ctx, id, FieldStatus, to); err != nil {
		return fmt.Errorf("move card %s: %w", id, err)
	}
	b.announce(ctx, id, card.Status, to)
	return nil
}

// announce publishes a move event. Failures are logged only.
func (b *Board) announce(ctx context.Context, id string, from, to Status) {
	b.logger.Debug("card moved", "card_id", id, "from", string(from), "to", string(to))
	if b.publisher == nil {
		return
	}
	sender := "kanban"
	if b.teamID != "" {
		sender = "kanban-" + b.teamID
	}
	_, err := b.publisher.Publish(ctx, sender, Topic, bus.Content{
		"card_id": id,
		"team_id": b.teamID,
		"from":    string(from),
		"to":      string(to),
	})
	if err != nil {
		b.logger.Debug("kanban event not published", "card_id", id, "error", err.Error())
	}
}

// Snapshot returns the board's cards grouped by status.
func (b *Board) Snapshot(ctx context.Context) (map[Status][]Card, error) {
	cards, err := b.store.ListCards(ctx, b.teamID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	out := make(map[Status][]Card, len(Statuses()))
	for _, s := range Statuses() {
		out[s] = []Card{}
	}
	for _, c := range cards {
		out[c.Status] = append(out[c.Status], c)
	}
	return out, nil
}

// Counts returns the number of cards per status.
func (b *Board) Counts(ctx context.Context) (map[Status]int, error) {
	snap, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[Status]int, len(snap))
	for s, cards := range snap {
		out[s] = len(cards)
	}
	return out, nil
}

// Cards returns the board's cards in status.
func (b *Board) Cards(ctx context.Context, s Status) ([]Card, error) {
	return b.store.CardsByStatus(ctx, s, b.teamID)
}

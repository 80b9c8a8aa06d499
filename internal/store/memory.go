package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/sprintfleet/internal/kanban"
)

// MemoryStore is an in-process CardStore.
type MemoryStore struct {
	mu    sync.RWMutex
	cards map[string]kanban.Card
	order []string
	seq   int64
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cards: make(map[string]kanban.Card),
		now:   time.Now,
	}
}

// AddCard implements kanban.CardStore.
func (m *MemoryStore) AddCard(_ context.Context, c kanban.Card) (kanban.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := m.cards[c.ID]; ok {
		return kanban.Card{}, duplicateCard(c.ID)
	}
	m.seq++
	c.Seq = m.seq
	c.CreatedAt = m.now()
	c.UpdatedAt = c.CreatedAt
	c = c.Clone()

	m.cards[c.ID] = c
	m.order = append(m.order, c.ID)
	return c.Clone(), nil
}

// GetCard implements kanban.CardStore.
func (m *MemoryStore) GetCard(_ context.Context, id string) (kanban.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cards[id]
	if !ok {
		return kanban.Card{}, kanban.CardNotFound(id)
	}
	return c.Clone(), nil
}

func (m *MemoryStore) filter(keep func(kanban.Card) bool) []kanban.Card {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []kanban.Card
	for _, id := range m.order {
		if c := m.cards[id]; keep(c) {
			out = append(out, c.Clone())
		}
	}
	return out
}

// CardsByStatus implements kanban.CardStore.
func (m *MemoryStore) CardsByStatus(_ context.Context, status kanban.Status, teamID string) ([]kanban.Card, error) {
	return m.filter(func(c kanban.Card) bool {
		return c.Status == status && (teamID == "" || c.TeamID == teamID)
	}), nil
}

// WIPCountForTeam implements kanban.CardStore.
func (m *MemoryStore) WIPCountForTeam(ctx context.Context, status kanban.Status, teamID string) (int, error) {
	cards, err := m.CardsByStatus(ctx, status, teamID)
	return len(cards), err
}

// CardsWithDependency implements kanban.CardStore.
func (m *MemoryStore) CardsWithDependency(_ context.Context) ([]kanban.Card, error) {
	return m.filter(func(c kanban.Card) bool {
		return c.DependsOnTeam() != ""
	}), nil
}

// UpdateCardField implements kanban.CardStore.
func (m *MemoryStore) UpdateCardField(_ context.Context, id, field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cards[id]
	if !ok {
		return kanban.CardNotFound(id)
	}
	c = c.Clone()
	if err := kanban.ApplyField(&c, field, value); err != nil {
		return err
	}
	c.UpdatedAt = m.now()
	m.cards[id] = c
	return nil
}

// ListCards implements kanban.CardStore.
func (m *MemoryStore) ListCards(_ context.Context, teamID string) ([]kanban.Card, error) {
	return m.filter(func(c kanban.Card) bool {
		return teamID == "" || c.TeamID == teamID
	}), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

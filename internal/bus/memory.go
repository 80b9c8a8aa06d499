package bus

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/Iron-Ham/sprintfleet/internal/errors"
)

// DefaultMaxHistory bounds the history ring when no size is configured.
const DefaultMaxHistory = 1000

// MemoryBackend keeps inboxes and history in process memory.
type MemoryBackend struct {
	mu         sync.Mutex
	inboxes    map[string][]Message
	history    []Message
	maxHistory int
}

// NewMemoryBackend creates a MemoryBackend whose history holds at most
// maxHistory messages. Non-positive values use DefaultMaxHistory.
func NewMemoryBackend(maxHistory int) *MemoryBackend {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &MemoryBackend{
		inboxes:    make(map[string][]Message),
		maxHistory: maxHistory,
	}
}

// CreateInbox implements Backend.
func (m *MemoryBackend) CreateInbox(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inboxes[id]; ok {
		return errors.NewAlreadyExistsError("participant", id).WithSentinel(errors.ErrAlreadyRegistered)
	}
	m.inboxes[id] = nil
	return nil
}

// DeleteInbox implements Backend.
func (m *MemoryBackend) DeleteInbox(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inboxes, id)
	return nil
}

// IsRegistered implements Backend.
func (m *MemoryBackend) IsRegistered(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inboxes[id]
	return ok, nil
}

// Participants implements Backend.
func (m *MemoryBackend) Participants(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.inboxes)), nil
}

// Push implements Backend.
func (m *MemoryBackend) Push(_ context.Context, id string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.inboxes[id]
	if !ok {
		return fmt.Errorf("no inbox for %q", id)
	}
	m.inboxes[id] = append(q, msg)
	return nil
}

// Pop implements Backend.
func (m *MemoryBackend) Pop(_ context.Context, id string) (Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.inboxes[id]
	if len(q) == 0 {
		return Message{}, false, nil
	}
	msg := q[0]
	q[0] = Message{}
	m.inboxes[id] = q[1:]
	return msg, true, nil
}

// Len implements Backend.
func (m *MemoryBackend) Len(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inboxes[id]), nil
}

// AppendHistory implements Backend.
func (m *MemoryBackend) AppendHistory(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, msg)
	if over := len(m.history) - m.maxHistory; over > 0 {
		clear(m.history[:over])
		m.history = m.history[over:]
	}
	return nil
}

// History implements Backend.
func (m *MemoryBackend) History(_ context.Context, limit int, channel string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []Message
	if channel == "" {
		matched = m.history
	} else {
		for _, msg := range m.history {
			if msg.Channel == channel {
				matched = append(matched, msg)
			}
		}
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	out := make([]Message, len(matched))
	copy(out, matched)
	return out, nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	return nil
}

// Package agent provides the agent collaborator: a text generator bound to
// a participant id on the message bus.
//
// Every messaging method is a thin pass-through to the bus with the
// agent's id filled in as sender or recipient. Generate delegates to the
// configured [Model]; agents without one fail with [ErrNoModel].
package agent

import (
	"context"
	"time"

	"github.com/Iron-Ham/sprintfleet/internal/bus"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
)

// ErrNoModel is returned by Generate when the agent has no model.
var ErrNoModel = errors.New("agent: no model configured")

// Model produces text for a prompt.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Option configures an Agent.
type Option func(*Agent)

// WithModel sets the model behind Generate.
func WithModel(m Model) Option {
	return func(a *Agent) { a.model = m }
}

// WithRole sets a free-form role label, e.g. "analyst".
func WithRole(role string) Option {
	return func(a *Agent) { a.role = role }
}

// WithLogger sets the agent logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// Agent is one participant. It is safe for concurrent use to the extent
// the bus and model are.
type Agent struct {
	id     string
	role   string
	bus    *bus.Bus
	model  Model
	logger *logging.Logger
}

// New creates an agent with the given id on b. The agent is not registered
// until Join is called.
func New(id string, b *bus.Bus, opts ...Option) (*Agent, error) {
	if id == "" {
		return nil, errors.NewValidationError("agent id is required").WithField("id")
	}
	if b == nil {
		return nil, errors.New("agent: Bus is required")
	}
	a := &Agent{id: id, bus: b, logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithAgent(id)
	return a, nil
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.id }

// Role returns the agent role label.
func (a *Agent) Role() string { return a.role }

// HasModel reports whether Generate can succeed.
func (a *Agent) HasModel() bool { return a.model != nil }

// Join registers the agent on the bus.
func (a *Agent) Join(ctx context.Context) error {
	return a.bus.Register(ctx, a.id)
}

// Leave unregisters the agent. It is a no-op if the agent never joined.
func (a *Agent) Leave(ctx context.Context) error {
	return a.bus.Unregister(ctx, a.id)
}

// Generate asks the agent's model for a response to prompt.
func (a *Agent) Generate(ctx context.Context, prompt string) (string, error) {
	if a.model == nil {
		return "", ErrNoModel
	}
	out, err := a.model.Generate(ctx, prompt)
	if err != nil {
		a.logger.Warn("generate failed", "error", err.Error())
		return "", err
	}
	return out, nil
}

// SendMessage sends content to recipient's inbox.
func (a *Agent) SendMessage(ctx context.Context, recipient string, content bus.Content) (bus.Message, error) {
	return a.bus.Send(ctx, a.id, recipient, content)
}

// SendToChannel sends content to every other member of channel.
func (a *Agent) SendToChannel(ctx context.Context, channel string, content bus.Content) (bus.Message, error) {
	return a.bus.SendToChannel(ctx, a.id, channel, content)
}

// Broadcast sends content to every other registered participant.
func (a *Agent) Broadcast(ctx context.Context, content bus.Content) (bus.Message, error) {
	return a.bus.Broadcast(ctx, a.id, content)
}

// ReceiveMessage blocks until a message arrives in the agent's inbox.
func (a *Agent) ReceiveMessage(ctx context.Context) (bus.Message, error) {
	return a.bus.Receive(ctx, a.id)
}

// TryReceiveMessage pops the oldest inbox message without blocking.
func (a *Agent) TryReceiveMessage(ctx context.Context) (bus.Message, bool, error) {
	return a.bus.TryReceive(ctx, a.id)
}

// Drain pops every queued message.
func (a *Agent) Drain(ctx context.Context) ([]bus.Message, error) {
	var out []bus.Message
	for {
		msg, ok, err := a.bus.TryReceive(ctx, a.id)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, msg)
	}
}

// RequestFrom sends a request to recipient and waits up to timeout for a reply.
func (a *Agent) RequestFrom(ctx context.Context, recipient string, content bus.Content, timeout time.Duration) (bus.Message, error) {
	return a.bus.Request(ctx, a.id, recipient, content, timeout)
}

// Reply answers the request with id requestID. It returns false when the
// request is no longer pending.
func (a *Agent) Reply(ctx context.Context, requestID string, content bus.Content) bool {
	_, ok := a.bus.Reply(ctx, a.id, requestID, content)
	return ok
}

// SubscribeTopic invokes handler for every event published on topic.
func (a *Agent) SubscribeTopic(topic string, handler bus.Handler) error {
	return a.bus.Subscribe(topic, a.id, handler)
}

// UnsubscribeTopic removes the agent's handler for topic.
func (a *Agent) UnsubscribeTopic(topic string) bool {
	return a.bus.Unsubscribe(topic, a.id)
}

// Publish publishes content on topic with the agent as sender.
func (a *Agent) Publish(ctx context.Context, topic string, content bus.Content) (bus.Message, error) {
	return a.bus.Publish(ctx, a.id, topic, content)
}

package bus

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/sprintfleet/internal/errors"
	"github.com/Iron-Ham/sprintfleet/internal/logging"
)

// Bus is the per-experiment message substrate shared by every team,
// agent and coordinator. It supports direct, channel, broadcast, pub/sub
// and request/reply messaging. It is safe for concurrent use.
//
// Participants must Register before they can receive. Channels are created
// explicitly and never implicitly by a send.
type Bus struct {
	backend      Backend
	logger       *logging.Logger
	maxHistory   int
	pollInterval time.Duration
	now          func() time.Time

	// mu guards participants, channels and topics. Deliveries hold the read
	// lock so a participant cannot be unregistered mid fan-out.
	mu           sync.RWMutex
	participants map[string]chan struct{} // id -> wake signal for Receive
	channels     map[string]*channel
	topics       map[string]map[string]Handler // topic -> subscriber id -> handler

	pendingMu sync.Mutex
	pending   map[string]chan Message // request id -> single-resolution reply slot

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a running Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger:       logging.NopLogger(),
		maxHistory:   DefaultMaxHistory,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		participants: make(map[string]chan struct{}),
		channels:     make(map[string]*channel),
		topics:       make(map[string]map[string]Handler),
		pending:      make(map[string]chan Message),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.backend == nil {
		b.backend = NewMemoryBackend(b.maxHistory)
	}
	return b
}

func (b *Bus) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Bus) newMessage(typ MessageType, sender string, recipients []string, content Content) Message {
	return Message{
		ID:         uuid.NewString(),
		Sender:     sender,
		Recipients: recipients,
		Type:       typ,
		Content:    maps.Clone(content),
		Timestamp:  b.now(),
	}
}

func notRegistered(id string) error {
	return errors.NewNotFoundError("participant", id).WithSentinel(errors.ErrNotRegistered)
}

func channelNotFound(name string) error {
	return errors.NewNotFoundError("channel", name).WithSentinel(errors.ErrChannelNotFound)
}

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

// Register creates an inbox for id.
func (b *Bus) Register(ctx context.Context, id string) error {
	if id == "" {
		return errors.NewValidationError("participant id is required").WithField("id")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed() {
		return errors.ErrBusClosed
	}
	if _, ok := b.participants[id]; ok {
		return errors.NewAlreadyExistsError("participant", id).WithSentinel(errors.ErrAlreadyRegistered)
	}
	// The backend rejects ids held by another bus sharing it.
	if err := b.backend.CreateInbox(ctx, id); err != nil {
		return err
	}
	b.participants[id] = make(chan struct{}, 1)
	b.logger.Debug("participant registered", "participant", id)
	return nil
}

// Unregister removes the inbox for id along with its channel memberships
// and topic subscriptions. Unregistering an unknown id is a no-op.
func (b *Bus) Unregister(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	wake, ok := b.participants[id]
	for _, ch := range b.channels {
		delete(ch.members, id)
	}
	for topic, subs := range b.topics {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
	if !ok {
		return nil
	}

	delete(b.participants, id)
	close(wake)
	if err := b.backend.DeleteInbox(ctx, id); err != nil {
		return err
	}
	b.logger.Debug("participant unregistered", "participant", id)
	return nil
}

// IsRegistered reports whether id was registered through this bus.
func (b *Bus) IsRegistered(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.participants[id]
	return ok
}

// Registered returns the ids registered through this bus, sorted.
func (b *Bus) Registered() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Sorted(maps.Keys(b.participants))
}

// Participants returns every addressable id, sorted. With a shared backend
// this includes participants registered by other processes.
func (b *Bus) Participants(ctx context.Context) ([]string, error) {
	if b.closed() {
		return nil, errors.ErrBusClosed
	}
	return b.backend.Participants(ctx)
}

// -----------------------------------------------------------------------------
// Delivery
// -----------------------------------------------------------------------------

// deliver pushes msg to every recipient's inbox and records it in history.
// All recipients are checked before anything is pushed. The caller must
// hold b.mu for reading.
func (b *Bus) deliver(ctx context.Context, msg Message) error {
	if b.closed() {
		return errors.ErrBusClosed
	}
	for _, id := range msg.Recipients {
		ok, err := b.addressable(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return notRegistered(id)
		}
	}
	return b.push(ctx, msg)
}

// push writes msg to each recipient inbox without checking registration.
// Local receivers are woken; remote ones pick it up on their poll.
func (b *Bus) push(ctx context.Context, msg Message) error {
	for _, id := range msg.Recipients {
		if err := b.backend.Push(ctx, id, msg); err != nil {
			return fmt.Errorf("deliver %s to %s: %w", msg.ID, id, err)
		}
		if wake, ok := b.participants[id]; ok {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}

	b.record(ctx, msg)
	return nil
}

// addressable reports whether id is registered here or on the shared
// backend. The caller must hold b.mu for reading.
func (b *Bus) addressable(ctx context.Context, id string) (bool, error) {
	if _, ok := b.participants[id]; ok {
		return true, nil
	}
	ok, err := b.backend.IsRegistered(ctx, id)
	if err != nil {
		return false, fmt.Errorf("lookup participant %s: %w", id, err)
	}
	return ok, nil
}

func (b *Bus) record(ctx context.Context, msg Message) {
	if err := b.backend.AppendHistory(ctx, msg); err != nil {
		b.logger.Warn("failed to record message history",
			"message_id", msg.ID,
			"type", string(msg.Type),
			"error", err.Error(),
		)
	}
}

// Send delivers content from sender to recipient's inbox.
func (b *Bus) Send(ctx context.Context, sender, recipient string, content Content) (Message, error) {
	msg := b.newMessage(TypeDirect, sender, []string{recipient}, content)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.deliver(ctx, msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// SendToChannel delivers content to every member of name except sender.
func (b *Bus) SendToChannel(ctx context.Context, sender, name string, content Content) (Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ch, ok := b.channels[name]
	if !ok {
		return Message{}, channelNotFound(name)
	}

	var recipients []string
	for id := range ch.members {
		if id != sender {
			recipients = append(recipients, id)
		}
	}
	slices.Sort(recipients)

	msg := b.newMessage(TypeChannel, sender, recipients, content)
	msg.Channel = name
	if err := b.deliver(ctx, msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Broadcast delivers content to every registered participant except
// sender, including those registered by other buses sharing the backend.
func (b *Bus) Broadcast(ctx context.Context, sender string, content Content) (Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed() {
		return Message{}, errors.ErrBusClosed
	}
	ids, err := b.backend.Participants(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("broadcast: %w", err)
	}
	recipients := slices.DeleteFunc(ids, func(id string) bool { return id == sender })

	msg := b.newMessage(TypeBroadcast, sender, recipients, content)
	if err := b.push(ctx, msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// -----------------------------------------------------------------------------
// Receiving
// -----------------------------------------------------------------------------

// TryReceive pops the oldest message from id's inbox without blocking.
func (b *Bus) TryReceive(ctx context.Context, id string) (Message, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed() {
		return Message{}, false, errors.ErrBusClosed
	}
	if _, ok := b.participants[id]; !ok {
		return Message{}, false, notRegistered(id)
	}
	return b.backend.Pop(ctx, id)
}

// Receive blocks until a message is available for id, ctx is done, or the
// bus is closed. In-process deliveries wake it immediately; messages pushed
// by other processes are picked up on the poll interval.
func (b *Bus) Receive(ctx context.Context, id string) (Message, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		msg, ok, err := b.TryReceive(ctx, id)
		if err != nil {
			return Message{}, err
		}
		if ok {
			return msg, nil
		}

		b.mu.RLock()
		wake := b.participants[id]
		b.mu.RUnlock()

		select {
		case <-wake:
		case <-ticker.C:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-b.done:
			return Message{}, errors.ErrBusClosed
		}
	}
}

// Pending returns the number of queued messages for id, which may be
// registered by another bus sharing the backend.
func (b *Bus) Pending(ctx context.Context, id string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ok, err := b.addressable(ctx, id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, notRegistered(id)
	}
	return b.backend.Len(ctx, id)
}

// -----------------------------------------------------------------------------
// Channels
// -----------------------------------------------------------------------------

// CreateChannel creates a channel with the given registered members.
func (b *Bus) CreateChannel(name string, members []string, metadata map[string]any) error {
	if name == "" {
		return errors.NewValidationError("channel name is required").WithField("name")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.channels[name]; ok {
		return errors.NewAlreadyExistsError("channel", name).WithSentinel(errors.ErrChannelExists)
	}
	set := make(map[string]struct{}, len(members))
	for _, id := range members {
		if _, ok := b.participants[id]; !ok {
			return notRegistered(id)
		}
		set[id] = struct{}{}
	}

	b.channels[name] = &channel{
		name:      name,
		members:   set,
		createdAt: b.now(),
		metadata:  maps.Clone(metadata),
	}
	b.logger.Debug("channel created", "channel", name, "members", len(set))
	return nil
}

// DeleteChannel removes a channel.
func (b *Bus) DeleteChannel(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.channels[name]; !ok {
		return channelNotFound(name)
	}
	delete(b.channels, name)
	return nil
}

// AddToChannel adds a registered participant to a channel. Adding an
// existing member is a no-op.
func (b *Bus) AddToChannel(name, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[name]
	if !ok {
		return channelNotFound(name)
	}
	if _, ok := b.participants[id]; !ok {
		return notRegistered(id)
	}
	ch.members[id] = struct{}{}
	return nil
}

// RemoveFromChannel removes a participant from a channel. Removing a
// non-member is a no-op.
func (b *Bus) RemoveFromChannel(name, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[name]
	if !ok {
		return channelNotFound(name)
	}
	delete(ch.members, id)
	return nil
}

// Channel returns a copy of the named channel.
func (b *Bus) Channel(name string) (ChannelInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ch, ok := b.channels[name]
	if !ok {
		return ChannelInfo{}, false
	}
	return ch.info(), true
}

// Channels returns copies of every channel, sorted by name.
func (b *Bus) Channels() []ChannelInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]ChannelInfo, 0, len(b.channels))
	for _, name := range slices.Sorted(maps.Keys(b.channels)) {
		out = append(out, b.channels[name].info())
	}
	return out
}

// -----------------------------------------------------------------------------
// Pub/Sub
// -----------------------------------------------------------------------------

// Subscribe registers handler for topic under subscriber id, replacing any
// previous handler for the same pair. Subscribers need not be registered
// participants.
func (b *Bus) Subscribe(topic, id string, handler Handler) error {
	if topic == "" || id == "" || handler == nil {
		return errors.NewValidationError("topic, subscriber id and handler are required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed() {
		return errors.ErrBusClosed
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]Handler)
		b.topics[topic] = subs
	}
	subs[id] = handler
	return nil
}

// Unsubscribe removes id's handler for topic. It returns false if there
// was no such subscription.
func (b *Bus) Unsubscribe(topic, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return false
	}
	if _, ok := subs[id]; !ok {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
	return true
}

// SubscriberCount returns the number of subscribers on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Publish invokes every current subscriber of topic concurrently and waits
// for all of them before recording the event in history. A handler that
// fails or panics is logged and does not stop the others.
func (b *Bus) Publish(ctx context.Context, sender, topic string, content Content) (Message, error) {
	b.mu.RLock()
	if b.closed() {
		b.mu.RUnlock()
		return Message{}, errors.ErrBusClosed
	}
	handlers := maps.Clone(b.topics[topic])
	b.mu.RUnlock()

	msg := b.newMessage(TypeEvent, sender, slices.Sorted(maps.Keys(handlers)), content)
	msg.Channel = topic

	var wg conc.WaitGroup
	for id, h := range handlers {
		wg.Go(func() {
			b.dispatch(ctx, topic, id, h, msg)
		})
	}
	wg.Wait()

	b.record(ctx, msg)
	return msg, nil
}

func (b *Bus) dispatch(ctx context.Context, topic, subscriber string, h Handler, msg Message) {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = h(ctx, msg.clone()) })

	if r := pc.Recovered(); r != nil {
		b.logger.Error("subscriber panicked",
			"topic", topic,
			"subscriber", subscriber,
			"panic", fmt.Sprint(r.Value),
			"stack", string(r.Stack),
		)
		return
	}
	if err != nil {
		b.logger.Warn("subscriber failed",
			"topic", topic,
			"subscriber", subscriber,
			"error", err.Error(),
		)
	}
}

// -----------------------------------------------------------------------------
// Request/Reply
// -----------------------------------------------------------------------------

// Request sends content to recipient and waits for a Reply. It fails with a
// TimeoutError matching ErrRequestTimeout when no reply arrives within
// timeout; a non-positive timeout waits until ctx is done. The pending
// entry is removed before Request returns, so later replies are dropped.
func (b *Bus) Request(ctx context.Context, sender, recipient string, content Content, timeout time.Duration) (Message, error) {
	msg := b.newMessage(TypeRequest, sender, []string{recipient}, content)

	// The reply slot exists before delivery so a fast responder cannot
	// reply to an id that is not yet pending.
	slot := make(chan Message, 1)
	b.pendingMu.Lock()
	b.pending[msg.ID] = slot
	b.pendingMu.Unlock()
	defer b.forget(msg.ID)

	b.mu.RLock()
	err := b.deliver(ctx, msg)
	b.mu.RUnlock()
	if err != nil {
		return Message{}, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case reply := <-slot:
		return reply, nil
	case <-expired:
		b.logger.Debug("request timed out",
			"request_id", msg.ID,
			"recipient", recipient,
			"timeout", timeout.String(),
		)
		return Message{}, errors.NewTimeoutError(
			fmt.Sprintf("request %s from %s to %s", msg.ID, sender, recipient), timeout,
		).WithCause(errors.ErrRequestTimeout)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-b.done:
		return Message{}, errors.ErrBusClosed
	}
}

func (b *Bus) forget(id string) {
	b.pendingMu.Lock()
	delete(b.pending, id)
	b.pendingMu.Unlock()
}

// IsPending reports whether a request with the given id is awaiting a reply.
func (b *Bus) IsPending(requestID string) bool {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	_, ok := b.pending[requestID]
	return ok
}

// PendingRequests returns the number of requests awaiting a reply.
func (b *Bus) PendingRequests() int {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return len(b.pending)
}

// Reply resolves the pending request originalID with content. The first
// reply wins. If originalID is not pending (unknown, already answered or
// timed out) the reply is dropped and ok is false.
func (b *Bus) Reply(ctx context.Context, sender, originalID string, content Content) (Message, bool) {
	b.pendingMu.Lock()
	slot, ok := b.pending[originalID]
	if ok {
		delete(b.pending, originalID)
	}
	b.pendingMu.Unlock()

	if !ok || b.closed() {
		b.logger.Debug("dropping reply to request that is no longer pending",
			"request_id", originalID,
			"sender", sender,
		)
		return Message{}, false
	}

	msg := b.newMessage(TypeReply, sender, nil, content)
	msg.ReplyTo = originalID
	slot <- msg
	b.record(ctx, msg)
	return msg, true
}

// -----------------------------------------------------------------------------
// History & lifecycle
// -----------------------------------------------------------------------------

// History returns up to limit of the most recent messages in chronological
// order, restricted to channel (or topic) when it is non-empty.
func (b *Bus) History(ctx context.Context, limit int, channel string) ([]Message, error) {
	return b.backend.History(ctx, limit, channel)
}

// Close stops the bus. Blocked Receive and Request calls return
// ErrBusClosed and later operations fail with it. Close is idempotent.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		b.mu.Lock()
		defer b.mu.Unlock()
		err = b.backend.Close()
	})
	return err
}

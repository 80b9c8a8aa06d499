package bus

import "context"

// Backend stores inboxes and message history. The Bus owns routing
// (channels, subscriptions, pending requests) and only talks to storage
// through this interface.
//
// Inboxes are FIFO per participant. History is bounded; implementations
// drop the oldest entries once the bound is reached. The participant set is
// shared by every Bus using the same backend, so it is the source of truth
// for who can be addressed.
type Backend interface {
	// CreateInbox registers id with an empty inbox. It fails with an error
	// matching errors.ErrAlreadyRegistered when id is already registered.
	CreateInbox(ctx context.Context, id string) error
	// DeleteInbox removes the inbox for id. Deleting a missing inbox is not an error.
	DeleteInbox(ctx context.Context, id string) error
	// IsRegistered reports whether id has an inbox.
	IsRegistered(ctx context.Context, id string) (bool, error)
	// Participants returns every registered id, sorted.
	Participants(ctx context.Context) ([]string, error)
	// Push appends msg to the inbox of id.
	Push(ctx context.Context, id string, msg Message) error
	// Pop removes and returns the oldest message in the inbox of id.
	// ok is false when the inbox is empty.
	Pop(ctx context.Context, id string) (msg Message, ok bool, err error)
	// Len returns the number of queued messages for id.
	Len(ctx context.Context, id string) (int, error)
	// AppendHistory records msg in the global history and, when msg.Channel
	// is set, in that channel's history.
	AppendHistory(ctx context.Context, msg Message) error
	// History returns up to limit of the most recent messages in
	// chronological order, restricted to channel when it is non-empty.
	// A limit <= 0 returns everything retained.
	History(ctx context.Context, limit int, channel string) ([]Message, error)
	// Close releases backend resources.
	Close() error
}

package bus

import (
	"context"
	"maps"
	"slices"
	"time"
)

// MessageType identifies how a message was addressed.
type MessageType string

const (
	// TypeDirect is a point-to-point message to one inbox.
	TypeDirect MessageType = "direct"
	// TypeChannel is a message fanned out to the members of a channel.
	TypeChannel MessageType = "channel"
	// TypeBroadcast is a message fanned out to every registered participant.
	TypeBroadcast MessageType = "broadcast"
	// TypeRequest is a direct message that expects a reply.
	TypeRequest MessageType = "request"
	// TypeReply answers a request. Replies have no recipients.
	TypeReply MessageType = "reply"
	// TypeEvent is a pub/sub message published to a topic.
	TypeEvent MessageType = "event"
)

var validTypes = map[MessageType]bool{
	TypeDirect:    true,
	TypeChannel:   true,
	TypeBroadcast: true,
	TypeRequest:   true,
	TypeReply:     true,
	TypeEvent:     true,
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return validTypes[t]
}

// Content is the opaque key/value payload of a message.
type Content map[string]any

// Message is created once by the bus and never mutated afterwards.
// Receivers must treat Recipients, Content and Metadata as read-only.
type Message struct {
	ID         string
	Sender     string
	Recipients []string
	Type       MessageType
	Content    Content
	Timestamp  time.Time
	// Channel is the channel name for TypeChannel and the topic for TypeEvent.
	Channel string
	// ReplyTo is the request ID a TypeReply answers.
	ReplyTo  string
	Metadata map[string]any
}

// String returns the content value for key as a string, or "" when absent.
func (m Message) String(key string) string {
	if v, ok := m.Content[key].(string); ok {
		return v
	}
	return ""
}

func (m Message) clone() Message {
	m.Recipients = slices.Clone(m.Recipients)
	m.Content = maps.Clone(m.Content)
	m.Metadata = maps.Clone(m.Metadata)
	return m
}

// ChannelInfo is a point-in-time copy of a channel's state.
type ChannelInfo struct {
	Name      string
	Members   []string
	CreatedAt time.Time
	Metadata  map[string]any
}

// Has reports whether id is a member.
func (c ChannelInfo) Has(id string) bool {
	return slices.Contains(c.Members, id)
}

type channel struct {
	name      string
	members   map[string]struct{}
	createdAt time.Time
	metadata  map[string]any
}

func (c *channel) info() ChannelInfo {
	members := make([]string, 0, len(c.members))
	for id := range c.members {
		members = append(members, id)
	}
	slices.Sort(members)
	return ChannelInfo{
		Name:      c.name,
		Members:   members,
		CreatedAt: c.createdAt,
		Metadata:  maps.Clone(c.metadata),
	}
}

// Handler receives messages published to a subscribed topic. Handlers for
// the same publish run concurrently; a returned error or panic is logged and
// does not affect other handlers.
type Handler func(ctx context.Context, msg Message) error

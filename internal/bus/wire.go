package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireMessage is the cross-process shape shared with other backends and the
// event exporter. Empty channel and reply_to are encoded as null.
type wireMessage struct {
	ID         string         `json:"id"`
	Sender     string         `json:"sender"`
	Recipients []string       `json:"recipients"`
	Type       MessageType    `json:"type"`
	Content    Content        `json:"content"`
	Timestamp  string         `json:"timestamp"`
	Channel    *string        `json:"channel"`
	ReplyTo    *string        `json:"reply_to"`
	Metadata   map[string]any `json:"metadata"`
}

// MarshalJSON encodes the message in the wire format.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:         m.ID,
		Sender:     m.Sender,
		Recipients: m.Recipients,
		Type:       m.Type,
		Content:    m.Content,
		Timestamp:  m.Timestamp.UTC().Format(time.RFC3339Nano),
		Metadata:   m.Metadata,
	}
	if w.Recipients == nil {
		w.Recipients = []string{}
	}
	if w.Content == nil {
		w.Content = Content{}
	}
	if w.Metadata == nil {
		w.Metadata = map[string]any{}
	}
	if m.Channel != "" {
		w.Channel = &m.Channel
	}
	if m.ReplyTo != "" {
		w.ReplyTo = &m.ReplyTo
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire format.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Type.Valid() {
		return fmt.Errorf("unknown message type %q", w.Type)
	}

	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", w.Timestamp, err)
	}

	*m = Message{
		ID:         w.ID,
		Sender:     w.Sender,
		Recipients: w.Recipients,
		Type:       w.Type,
		Content:    w.Content,
		Timestamp:  ts,
		Metadata:   w.Metadata,
	}
	if len(m.Recipients) == 0 {
		m.Recipients = nil
	}
	if len(m.Metadata) == 0 {
		m.Metadata = nil
	}
	if w.Channel != nil {
		m.Channel = *w.Channel
	}
	if w.ReplyTo != nil {
		m.ReplyTo = *w.ReplyTo
	}
	return nil
}

// Encode returns the wire encoding of msg.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a wire-encoded message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

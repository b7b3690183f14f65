package bus

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// ErrBusClosed is returned by Subscribe after the bus has been closed
var ErrBusClosed = errors.New("bus closed")

// Topic identifies one event channel
type Topic string

const (
	TopicUserCreated    Topic = "user.created"
	TopicMessageSent    Topic = "message.sent"
	TopicMessageUpdated Topic = "message.updated"
	TopicMessageDeleted Topic = "message.deleted"
	TopicChatCreated    Topic = "chat.created"
	TopicChatUpdated    Topic = "chat.updated"
	TopicChatDeleted    Topic = "chat.deleted"
)

// Event is one delivered publication
type Event struct {
	Topic   Topic
	Payload json.RawMessage
}

// Decode unmarshals the payload into v
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Bus is a typed publish/subscribe contract. Implementations own their
// transport and must release it on Close.
type Bus interface {
	Publish(ctx context.Context, topic Topic, payload interface{}) error
	// Subscribe returns a channel of events for the topic plus a cancel
	// function that stops delivery and releases the subscription.
	Subscribe(ctx context.Context, topic Topic) (<-chan Event, func(), error)
	Close() error
}

// MessageSentPayload is published on TopicMessageSent after a turn is
// durably finalized
type MessageSentPayload struct {
	UserID     uuid.UUID `json:"user_id"`
	ChatID     uuid.UUID `json:"chat_id"`
	MessageID  uuid.UUID `json:"message_id"`
	TokensUsed int64     `json:"tokens_used"`
}

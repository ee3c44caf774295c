package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventNewMessage     EventType = "NEW_MESSAGE"
	EventReadUpdated    EventType = "READ_UPDATED"
	EventMessageEdited  EventType = "MESSAGE_EDITED"
	EventMessageDeleted EventType = "MESSAGE_DELETED"
)

// Event is one of NewMessage, ReadUpdated, MessageEdited or MessageDeleted.
// Every event carries the conversation version it was committed at, so an
// observer that sees a gap knows to re-fetch.
type Event interface {
	Type() EventType
	Conversation() (id string, participants []string, version int64)
	isEvent()
}

type eventHeader struct {
	ConversationID string   `json:"-"`
	Participants   []string `json:"-"`
	Version        int64    `json:"-"`
}

func (h eventHeader) Conversation() (string, []string, int64) {
	return h.ConversationID, h.Participants, h.Version
}

func (eventHeader) isEvent() {}

func headerFor(c *Conversation) eventHeader {
	return eventHeader{ConversationID: c.ID, Participants: c.Participants(), Version: c.Version}
}

type NewMessage struct {
	eventHeader
	Message *Message `json:"message"`
}

func (NewMessage) Type() EventType { return EventNewMessage }

type ReadUpdated struct {
	eventHeader
	ReaderID    string    `json:"reader_id"`
	LastReadSeq int64     `json:"last_read_seq"`
	UnreadCount int       `json:"unread_count"`
	ReadAt      time.Time `json:"read_at"`
}

func (ReadUpdated) Type() EventType { return EventReadUpdated }

type MessageEdited struct {
	eventHeader
	Message *Message `json:"message"`
}

func (MessageEdited) Type() EventType { return EventMessageEdited }

type MessageDeleted struct {
	eventHeader
	MessageID string    `json:"message_id"`
	Seq       int64     `json:"seq"`
	DeletedBy string    `json:"deleted_by"`
	DeletedAt time.Time `json:"deleted_at"`
	// Preview after the delete, so list views can update without a re-fetch.
	LastMessagePreview string `json:"last_message_preview"`
}

func (MessageDeleted) Type() EventType { return EventMessageDeleted }

// Envelope is the wire form of an Event, both on websockets and on the Redis
// channel between nodes.
type Envelope struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Participants   []string        `json:"participants"`
	Version        int64           `json:"version"`
	Payload        json.RawMessage `json:"payload"`
}

// Topics lists every topic an envelope is delivered to.
func (e *Envelope) Topics() []string {
	topics := make([]string, 0, len(e.Participants)+1)
	topics = append(topics, ConversationTopic(e.ConversationID))
	for _, p := range e.Participants {
		topics = append(topics, UserTopic(p))
	}
	return topics
}

func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

func UserTopic(userID string) string {
	return "user:" + userID
}

func NewEnvelope(ev Event) (*Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	id, participants, version := ev.Conversation()
	return &Envelope{
		Type:           ev.Type(),
		ConversationID: id,
		Participants:   participants,
		Version:        version,
		Payload:        payload,
	}, nil
}

// Event decodes the payload back into its concrete type.
func (e *Envelope) Event() (Event, error) {
	header := eventHeader{ConversationID: e.ConversationID, Participants: e.Participants, Version: e.Version}

	switch e.Type {
	case EventNewMessage:
		ev := NewMessage{eventHeader: header}
		if err := unmarshalPayload(e.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventReadUpdated:
		ev := ReadUpdated{eventHeader: header}
		if err := unmarshalPayload(e.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventMessageEdited:
		ev := MessageEdited{eventHeader: header}
		if err := unmarshalPayload(e.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventMessageDeleted:
		ev := MessageDeleted{eventHeader: header}
		if err := unmarshalPayload(e.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

func unmarshalPayload(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

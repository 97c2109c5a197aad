// Package events delivers booking lifecycle events to a message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is a serialized event ready for a sink.
type Message struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	Body       []byte    `json:"body"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewMessage marshals payload into a message. An empty id gets a fresh UUID.
func NewMessage(id, eventType, key string, payload interface{}) (Message, error) {
	if id == "" {
		id = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return Message{
		ID:         id,
		Type:       eventType,
		Key:        key,
		Body:       body,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// Publisher delivers a message to a broker.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// NopPublisher drops every message.
type NopPublisher struct{}

// Name implements Publisher.
func (NopPublisher) Name() string { return "none" }

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Message) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lugares/apiserver/types"
	"github.com/rs/zerolog"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// PlaceEventHandler receives one decoded place event.
type PlaceEventHandler func(ctx context.Context, event types.PlaceEvent) error

// Attribute keys set on every published place event.
const (
	AttrEventType = "type"
	AttrOwnerUID  = "owner_uid"
)

// MQ carries place events over a backend as JSON messages.
type MQ struct {
	backend Backend
	logger  zerolog.Logger
}

// New constructs an MQ for the provided backend.
func New(backend Backend, logger zerolog.Logger) *MQ {
	return &MQ{backend: backend, logger: logger}
}

// PublishPlaceEvent encodes event and publishes it to channel, returning the
// broker message id.
func (m *MQ) PublishPlaceEvent(ctx context.Context, channel string, event types.PlaceEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode place event: %w", err)
	}
	attrs := map[string]string{
		AttrEventType: string(event.Type),
		AttrOwnerUID:  event.Place.OwnerUID,
	}
	id, err := m.backend.Publish(ctx, channel, data, attrs)
	if err != nil {
		return "", fmt.Errorf("publish place event: %w", err)
	}
	return id, nil
}

// SubscribePlaceEvents decodes every message on channel and hands it to
// handler until ctx is done. Malformed payloads are acked and dropped.
func (m *MQ) SubscribePlaceEvents(ctx context.Context, channel string, handler PlaceEventHandler) error {
	return m.backend.Subscribe(ctx, channel, func(ctx context.Context, msg Message) error {
		var event types.PlaceEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			m.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("discarding malformed place event")
			return nil
		}
		return handler(ctx, event)
	})
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}

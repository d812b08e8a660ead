package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/lugares/apiserver/internal/mq"
	"github.com/lugares/apiserver/types"
)

// EventSource delivers decoded place events from a broker channel.
type EventSource interface {
	SubscribePlaceEvents(ctx context.Context, channel string, handler mq.PlaceEventHandler) error
}

// EventSink publishes place events to a broker channel.
type EventSink interface {
	PublishPlaceEvent(ctx context.Context, channel string, event types.PlaceEvent) (string, error)
}

// Relay moves place events from the broker into the local hub, so every
// server instance serves the events produced by any instance.
type Relay struct {
	source  EventSource
	channel string
	hub     *Hub
}

func NewRelay(source EventSource, channel string, hub *Hub) *Relay {
	return &Relay{source: source, channel: channel, hub: hub}
}

// Run subscribes to the channel until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	err := r.source.SubscribePlaceEvents(ctx, r.channel, func(ctx context.Context, event types.PlaceEvent) error {
		r.hub.Broadcast(event)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("feed relay: %w", err)
	}
	return nil
}

// Publisher sends place events to the broker channel.
type Publisher struct {
	sink    EventSink
	channel string
}

func NewPublisher(sink EventSink, channel string) *Publisher {
	return &Publisher{sink: sink, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, event types.PlaceEvent) error {
	_, err := p.sink.PublishPlaceEvent(ctx, p.channel, event)
	return err
}

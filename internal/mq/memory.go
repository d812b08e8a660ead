package mq

import (
	"context"
	"errors"
	"strings"
	"sync"
)

const memoryBuffer = 64

// Memory is an in-process Backend. Every subscriber of a channel receives
// every message published after it subscribed. It is used when no broker is
// configured and in tests.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Message]struct{}
	closed bool
}

// NewMemory constructs an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[chan Message]struct{})}
}

// Publish delivers data to the current subscribers of channel. A subscriber
// whose buffer is full misses the message.
func (m *Memory) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("memory channel is required")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", errors.New("memory backend closed")
	}

	message := Message{ID: newMessageID(), Data: data, Attributes: attrs}
	for sub := range m.subs[channel] {
		select {
		case sub <- message:
		default:
		}
	}
	return message.ID, nil
}

// Subscribe blocks, invoking handler for each message, until ctx is done.
func (m *Memory) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("memory channel is required")
	}

	sub := make(chan Message, memoryBuffer)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("memory backend closed")
	}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[chan Message]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.subs[channel], sub)
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-sub:
			_ = handler(ctx, message)
		}
	}
}

// Subscribers returns the number of active subscribers of channel.
func (m *Memory) Subscribers(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[channel])
}

// Close rejects further publishes and subscriptions.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

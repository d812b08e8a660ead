package feed

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lugares/apiserver/types"
)

const clientBuffer = 64

// Client is one live subscriber interested in the places of a single owner.
type Client struct {
	ID       string
	OwnerUID string
	Send     chan types.PlaceEvent
}

// Hub fans place events out to the clients watching the owning user.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan types.PlaceEvent
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan types.PlaceEvent, 256),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every remaining client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for id, client := range h.clients {
			delete(h.clients, id)
			close(client.Send)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				if client.OwnerUID != event.Place.OwnerUID {
					continue
				}
				select {
				case client.Send <- event:
				default:
					// Client buffer full, skip
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues event for delivery. Events are dropped once the hub stops.
func (h *Hub) Broadcast(event types.PlaceEvent) {
	select {
	case h.broadcast <- event:
	case <-h.done:
	}
}

// Watch registers a new client for ownerUID and returns its event channel
// together with a cancel function that unregisters it. The channel is closed
// after cancel or when the hub stops.
func (h *Hub) Watch(ownerUID string) (<-chan types.PlaceEvent, func()) {
	client := &Client{
		ID:       uuid.NewString(),
		OwnerUID: ownerUID,
		Send:     make(chan types.PlaceEvent, clientBuffer),
	}
	h.Register(client)

	var once sync.Once
	return client.Send, func() {
		once.Do(func() { h.Unregister(client) })
	}
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

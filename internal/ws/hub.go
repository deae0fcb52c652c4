package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"groupchat/internal/backplane"
	"groupchat/internal/models"
	"groupchat/internal/observability"
	"groupchat/internal/rooms"
)

// Hub maintains live clients and fans frames out to rooms.
type Hub struct {
	clients map[string]*Client
	rooms   *rooms.Tracker
	relay   backplane.Backplane
	mu      sync.RWMutex
}

// NewHub creates an empty hub over tracker.
func NewHub(tracker *rooms.Tracker) *Hub {
	if tracker == nil {
		tracker = rooms.NewTracker()
	}
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   tracker,
	}
}

// SetBackplane relays every broadcast to other instances through bp.
func (h *Hub) SetBackplane(bp backplane.Backplane) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = bp
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID()] = c
}

// Unregister removes a client from the hub and from every room. It returns the rooms it left.
func (h *Hub) Unregister(c *Client) []string {
	h.mu.Lock()
	delete(h.clients, c.ID())
	h.mu.Unlock()

	left := h.rooms.LeaveAll(c.ID())
	c.close()
	return left
}

// CloseAll closes every live client and waits until each connection loop has
// released it, or until ctx ends.
func (h *Hub) CloseAll(ctx context.Context) error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
	for _, c := range clients {
		select {
		case <-c.released:
		case <-ctx.Done():
			return fmt.Errorf("drain %d websocket clients: %w", len(clients), ctx.Err())
		}
	}
	return nil
}

// Join adds a live connection to room. Unknown connections are ignored.
func (h *Hub) Join(connID, room string) bool {
	h.mu.RLock()
	_, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.rooms.Join(connID, room)
}

// Rooms returns the rooms a connection has joined.
func (h *Hub) Rooms(connID string) []string {
	return h.rooms.Rooms(connID)
}

// ClientCount returns the number of live clients on this instance.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of rooms with at least one local member.
func (h *Hub) RoomCount() int {
	return h.rooms.RoomCount()
}

// Broadcast sends event to every connection in room except exceptConnID.
func (h *Hub) Broadcast(ctx context.Context, room, exceptConnID, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	h.deliver(room, exceptConnID, frame)
	h.publish(ctx, backplane.Message{Room: room, Except: exceptConnID, Frame: frame})
	return nil
}

// BroadcastAll sends event to every connected client.
func (h *Hub) BroadcastAll(ctx context.Context, event string, payload any) error {
	return h.Broadcast(ctx, "", "", event, payload)
}

// SendTo sends event to a single local connection.
func (h *Hub) SendTo(connID, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	h.push(c, frame)
	return nil
}

// NotifyUser sends event to every connection of userID.
func (h *Hub) NotifyUser(ctx context.Context, userID, event string, payload any) error {
	return h.Broadcast(ctx, PersonalRoom(userID), "", event, payload)
}

// NotifyRoom sends event to every connection that joined room.
func (h *Hub) NotifyRoom(ctx context.Context, room, event string, payload any) error {
	return h.Broadcast(ctx, room, "", event, payload)
}

// Deliver hands a frame relayed by another instance to local clients.
func (h *Hub) Deliver(msg backplane.Message) {
	observability.IncBackplane("received")
	h.deliver(msg.Room, msg.Except, msg.Frame)
}

func (h *Hub) deliver(room, except string, frame []byte) {
	var targets []*Client
	h.mu.RLock()
	if room == "" {
		targets = make([]*Client, 0, len(h.clients))
		for id, c := range h.clients {
			if id != except {
				targets = append(targets, c)
			}
		}
	} else {
		for _, id := range h.rooms.Members(room) {
			if c, ok := h.clients[id]; ok && id != except {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()

	if room != "" {
		observability.ObserveFanout(len(targets))
	}
	for _, c := range targets {
		h.push(c, frame)
	}
}

func (h *Hub) push(c *Client, frame []byte) {
	if c.enqueue(frame) || c.isClosed() {
		return
	}
	log.Printf("websocket send queue full %s, dropping client", c.info)
	observability.IncWSEvent("ws_slow_consumer")
	c.close()
}

func (h *Hub) publish(ctx context.Context, msg backplane.Message) {
	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return
	}
	if err := relay.Publish(ctx, msg); err != nil {
		observability.IncBackplane("failed")
		log.Printf("backplane publish room=%q failed: %v", msg.Room, err)
		return
	}
	observability.IncBackplane("published")
}

func encodeFrame(event string, payload any) ([]byte, error) {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

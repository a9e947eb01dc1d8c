package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// EventType represents the type of a hub payload.
type EventType string

const (
	EventNewMessage       EventType = "new-message"
	EventMessageRead      EventType = "message-read"
	EventAssignmentStatus EventType = "assignment-status"
)

// RoomMessage packages a payload for a conversation-room broadcast.
type RoomMessage struct {
	Room    string
	Payload []byte
}

type subscription struct {
	client *Client
	room   string
}

// Hub manages active clients and room-scoped broadcasts. A single
// goroutine owns the client and room maps; all mutation goes through
// the channels.
type Hub struct {
	clients     map[*Client]bool
	rooms       map[string]map[*Client]bool
	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	broadcast   chan RoomMessage
}

// NewHub builds a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		rooms:       make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		broadcast:   make(chan RoomMessage, 64),
	}
}

// Run starts the hub loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			h.dropClient(client)
		case sub := <-h.subscribe:
			if !h.clients[sub.client] {
				continue
			}
			if h.rooms[sub.room] == nil {
				h.rooms[sub.room] = make(map[*Client]bool)
			}
			h.rooms[sub.room][sub.client] = true
		case sub := <-h.unsubscribe:
			h.leaveRoom(sub.client, sub.room)
		case message := <-h.broadcast:
			for client := range h.rooms[message.Room] {
				select {
				case client.Send <- message.Payload:
				default:
					// Slow consumer: drop it rather than block the hub.
					h.dropClient(client)
				}
			}
		}
	}
}

func (h *Hub) dropClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for room := range h.rooms {
		h.leaveRoom(client, room)
	}
	close(client.Send)
}

func (h *Hub) leaveRoom(client *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// BroadcastRoom sends a payload to every client joined to the room.
func (h *Hub) BroadcastRoom(room string, payload []byte) {
	h.broadcast <- RoomMessage{Room: room, Payload: payload}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// Client represents a websocket connection.
type Client struct {
	Conn *websocket.Conn
	Hub  *Hub
	Send chan []byte

	mu     sync.RWMutex
	userID string
}

// NewClient returns a client ready for registration.
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan []byte, 256),
		userID: userID,
	}
}

// UserID returns the authenticated user behind the connection.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// JoinRoom subscribes the client to a conversation room.
func (c *Client) JoinRoom(room string) {
	c.Hub.subscribe <- subscription{client: c, room: room}
}

// LeaveRoom unsubscribes the client from a conversation room.
func (c *Client) LeaveRoom(room string) {
	c.Hub.unsubscribe <- subscription{client: c, room: room}
}

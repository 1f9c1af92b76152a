package services

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/relay-gateway/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	streamWriteWait = 10 * time.Second

	// Buffered events per client before the client is dropped as too slow.
	streamSendBuffer = 64
)

// StreamEvent is one dispatch-log change pushed to stream subscribers.
type StreamEvent struct {
	Type  string               `json:"type"`
	Entry models.DispatchEntry `json:"entry"`
}

// Hub fans dispatch events out to connected websocket clients. Registration
// and broadcast go through channels serviced by Run; clients that cannot
// keep up are unregistered rather than allowed to block the hub.
type Hub struct {
	clients    map[*StreamClient]bool
	register   chan *StreamClient
	unregister chan *StreamClient
	events     chan StreamEvent

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*StreamClient]bool),
		register:   make(chan *StreamClient),
		unregister: make(chan *StreamClient),
		events:     make(chan StreamEvent, 256),
	}
}

// Run services the hub channels until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("Starting dispatch stream hub")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.drop(client)
		case event := <-h.events:
			h.mu.RLock()
			clients := make([]*StreamClient, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()

			for _, c := range clients {
				select {
				case c.send <- event:
				default:
					h.drop(c)
				}
			}
		}
	}
}

// Publish queues an event for broadcast. Drops the event when the hub is
// saturated; the stream is a live view, not a durable feed.
func (h *Hub) Publish(entry models.DispatchEntry) {
	select {
	case h.events <- StreamEvent{Type: "dispatch", Entry: entry}:
	default:
	}
}

func (h *Hub) drop(client *StreamClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// StreamClient is one websocket subscriber.
type StreamClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan StreamEvent
}

// NewStreamClient registers a websocket connection with the hub and starts
// its writer goroutine.
func NewStreamClient(hub *Hub, conn *websocket.Conn) *StreamClient {
	client := &StreamClient{
		hub:  hub,
		conn: conn,
		send: make(chan StreamEvent, streamSendBuffer),
	}
	hub.register <- client

	go client.writeLoop()
	go client.readLoop()

	return client
}

func (c *StreamClient) writeLoop() {
	defer c.conn.Close()

	for event := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := c.conn.WriteJSON(event); err != nil {
			c.hub.unregister <- c
			return
		}
	}
}

// readLoop drains and discards client frames so pings and close messages are
// processed, and unregisters on disconnect.
func (c *StreamClient) readLoop() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

package sse

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClientNotFound = errors.New("SSE client not found")
	ErrChannelFull    = errors.New("SSE message channel full")
)

const (
	TopicNegotiation = "negotiation"
	TopicTransfer    = "transfer"
)

// Client is an active SSE connection. An empty Topics list receives every topic.
type Client struct {
	ID          string
	Topics      []string
	ConnectedAt time.Time
	Messages    chan *Message
}

func NewClient(id string, topics []string) *Client {
	return &Client{
		ID:          id,
		Topics:      topics,
		ConnectedAt: time.Now().UTC(),
		Messages:    make(chan *Message, 100),
	}
}

func (c *Client) Close() {
	close(c.Messages)
}

func (c *Client) subscribed(topic string) bool {
	return len(c.Topics) == 0 || slices.Contains(c.Topics, topic)
}

// Message is one SSE event.
type Message struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewMessage(topic, event string, data json.RawMessage) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Hub fans messages out to registered clients. Slow clients drop messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends the message to every client subscribed to its topic.
func (h *Hub) Publish(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.subscribed(message.Topic) {
			trySend(c, message)
		}
	}
}

func (h *Hub) SendToClient(clientID string, message *Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.clients[clientID]
	if c == nil {
		return ErrClientNotFound
	}
	if !trySend(c, message) {
		return ErrChannelFull
	}
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func trySend(c *Client, msg *Message) bool {
	select {
	case c.Messages <- msg:
		return true
	default:
		return false
	}
}

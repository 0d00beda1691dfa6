package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"transvisor/internal/metrics"
)

const (
	TopicLOS        = "los"
	TopicVisibility = "visibility"
	TopicRoutes     = "routes"
)

var topics = map[string]struct{}{
	TopicLOS:        {},
	TopicVisibility: {},
	TopicRoutes:     {},
}

func ValidTopic(topic string) bool {
	_, ok := topics[topic]
	return ok
}

// Client is one websocket connection. Send is never closed; Done is closed
// once the hub drops the client, and writers should stop then.
type Client struct {
	ID     string
	Send   chan []byte
	topics map[string]struct{}
	mu     sync.RWMutex

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:     id,
		Send:   make(chan []byte, bufferSize),
		topics: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Deliver queues data without blocking. It reports false when the client
// has been dropped or its buffer is full.
func (c *Client) Deliver(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) HasTopic(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *Client) addTopics(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range names {
		c.topics[t] = struct{}{}
	}
}

func (c *Client) removeTopics(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range names {
		delete(c.topics, t)
	}
}

func (c *Client) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]string, 0, len(c.topics))
	for t := range c.topics {
		result = append(result, t)
	}
	return result
}

type Event struct {
	Topic   string
	Payload any
}

// Message is the wire form of an Event.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type Hub struct {
	mu           sync.RWMutex
	clients      map[*Client]struct{}
	topicClients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	events     chan Event
	stopped    chan struct{}

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:      make(map[*Client]struct{}),
		topicClients: make(map[string]map[*Client]struct{}),
		register:     make(chan *Client, 16),
		unregister:   make(chan *Client, 16),
		events:       make(chan Event, 256),
		stopped:      make(chan struct{}),
		logger:       logger.With("component", "hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			close(h.stopped)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(total))
			h.logger.Debug("client registered", "client_id", client.ID, "total", total)

		case client := <-h.unregister:
			h.removeClient(client)

		case ev := <-h.events:
			h.fanout(ev)
		}
	}
}

// Subscribe adds the client to the given topics. Unknown topics are ignored.
func (h *Hub) Subscribe(client *Client, names []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	accepted := make([]string, 0, len(names))
	for _, t := range names {
		if !ValidTopic(t) {
			continue
		}
		if h.topicClients[t] == nil {
			h.topicClients[t] = make(map[*Client]struct{})
		}
		h.topicClients[t][client] = struct{}{}
		accepted = append(accepted, t)
	}
	client.addTopics(accepted)
	return accepted
}

func (h *Hub) Unsubscribe(client *Client, names []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.removeTopics(names)
	h.dropLocked(client, names)
}

// Publish queues an event for every client subscribed to topic. Events are
// dropped when the queue is full.
func (h *Hub) Publish(topic string, payload any) {
	select {
	case h.events <- Event{Topic: topic, Payload: payload}:
	default:
		h.logger.Warn("event channel full, dropping event", "topic", topic)
	}
}

// Register adds client to the hub. A client registered after Run has
// returned is closed straight away.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stopped:
		client.close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCounts returns the number of clients per topic.
func (h *Hub) SubscriberCounts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make(map[string]int, len(topics))
	for t := range topics {
		counts[t] = len(h.topicClients[t])
	}
	return counts
}

func (h *Hub) fanout(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.topicClients[ev.Topic]
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(Message{Type: ev.Topic, Payload: ev.Payload})
	if err != nil {
		h.logger.Error("failed to encode event", "topic", ev.Topic, "error", err)
		return
	}

	for client := range clients {
		if !client.Deliver(data) {
			h.logger.Debug("client send buffer full", "client_id", client.ID)
		}
	}
}

func (h *Hub) dropLocked(client *Client, names []string) {
	for _, t := range names {
		if h.topicClients[t] != nil {
			delete(h.topicClients[t], client)
			if len(h.topicClients[t]) == 0 {
				delete(h.topicClients, t)
			}
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	h.dropLocked(client, client.Topics())
	delete(h.clients, client)
	client.close()
	metrics.WSClients.Set(float64(len(h.clients)))
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*Client]struct{})
	h.topicClients = make(map[string]map[*Client]struct{})
	metrics.WSClients.Set(0)
}

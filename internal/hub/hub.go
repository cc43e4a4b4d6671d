package hub

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
)

type Client struct {
	ID     string
	Send   chan []byte
	topics map[string]bool
}

func NewClient(id string, buf int) *Client {
	return &Client{ID: id, Send: make(chan []byte, buf), topics: make(map[string]bool)}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// SubscribeMessage is the client->server frame.
type SubscribeMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.topics[topic] = true
}

func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.topics, topic)
}

// Broadcast delivers payload to every client subscribed to topic. Slow clients
// drop messages rather than block the fan-out.
func (h *Hub) Broadcast(topic string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, client := range h.clients {
		if !client.topics[topic] {
			continue
		}
		select {
		case client.Send <- payload:
			sent++
		default:
			log.Printf("drop message for client %s topic=%s", client.ID, topic)
		}
	}
	return sent
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	if !validTopic(msg.Topic) {
		return SubscribeMessage{}, false
	}
	return msg, true
}

func validTopic(topic string) bool {
	rest, ok := strings.CutPrefix(topic, "restaurant/")
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

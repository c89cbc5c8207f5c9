// Package hub fans events out to the WebSocket clients watching a
// stream.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/TechSanzo/chaturbate/pkg/log"
)

// Hub tracks connected clients grouped by the stream they watch.
type Hub struct {
	clients    map[string]*Client            // clientID -> client
	streams    map[string]map[string]*Client // streamID -> clientID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *StreamMessage
	mu         sync.RWMutex
	config     Config
}

// StreamMessage is one payload addressed to a stream's watchers.
type StreamMessage struct {
	StreamID string
	Message  []byte
	Exclude  string // client ID to skip
}

// NewHub creates a hub.
func NewHub(cfg Config) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		streams:    make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *StreamMessage, 256),
		config:     cfg,
	}
}

// Run processes register, unregister, and broadcast traffic until the
// process exits. Run once in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.L().Debug().Str("client_id", client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for streamID, watchers := range h.streams {
					delete(watchers, client.ID)
					if len(watchers) == 0 {
						delete(h.streams, streamID)
					}
				}
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()
			log.L().Debug().Str("client_id", client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			if watchers, ok := h.streams[msg.StreamID]; ok {
				for clientID, client := range watchers {
					if clientID == msg.Exclude {
						continue
					}
					select {
					case client.Send <- msg.Message:
					default:
						go h.removeClient(client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister drops a client and its stream memberships.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JoinStream adds a client to a stream's watcher set.
func (h *Hub) JoinStream(client *Client, streamID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.streams[streamID]; !ok {
		h.streams[streamID] = make(map[string]*Client)
	}
	h.streams[streamID][client.ID] = client
	log.L().Info().Str("client_id", client.ID).Str(log.FieldStreamID, streamID).Msg("client joined stream")
}

// LeaveStream removes a client from a stream's watcher set.
func (h *Hub) LeaveStream(client *Client, streamID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if watchers, ok := h.streams[streamID]; ok {
		delete(watchers, client.ID)
		if len(watchers) == 0 {
			delete(h.streams, streamID)
		}
	}
	log.L().Info().Str("client_id", client.ID).Str(log.FieldStreamID, streamID).Msg("client left stream")
}

// BroadcastToStream sends a JSON payload to every watcher of a stream.
func (h *Hub) BroadcastToStream(streamID string, message interface{}, exclude string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.broadcast <- &StreamMessage{StreamID: streamID, Message: data, Exclude: exclude}
	return nil
}

// BroadcastRawToStream sends raw bytes to every watcher of a stream.
func (h *Hub) BroadcastRawToStream(streamID string, data []byte, exclude string) {
	h.broadcast <- &StreamMessage{StreamID: streamID, Message: data, Exclude: exclude}
}

// StreamClientCount returns how many clients watch a stream through
// this process.
func (h *Hub) StreamClientCount(streamID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if watchers, ok := h.streams[streamID]; ok {
		return len(watchers)
	}
	return 0
}

func (h *Hub) removeClient(client *Client) {
	h.unregister <- client
}

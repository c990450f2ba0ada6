package events

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

const (
	TypeMemberJoined        = "member_joined"
	TypeMemberLeft          = "member_left"
	TypeFormationClosed     = "formation_closed"
	TypeGroupDissolved      = "group_dissolved"
	TypeGroupExpired        = "group_expired"
	TypeBidSubmitted        = "bid_submitted"
	TypeBidInvalidated      = "bid_invalidated"
	TypeBidExpired          = "bid_expired"
	TypeBidPromoted         = "bid_promoted"
	TypeAcceptanceConfirmed = "acceptance_confirmed"
	TypeAcceptanceFailed    = "acceptance_failed"
	TypeAcceptanceRevoked   = "acceptance_revoked"
	TypeQuorumReached       = "quorum_reached"
	TypeDeadlineExtended    = "deadline_extended"
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Client struct {
	ID     string
	UserID uuid.UUID
	Groups map[uuid.UUID]bool
	Send   chan []byte
}

// Hub fans group-scoped domain events out to connected SSE clients. Delivery
// is fire-and-forget; a slow client drops events rather than blocking the
// protocol.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *GroupMessage
	mu         sync.RWMutex
}

type GroupMessage struct {
	GroupID uuid.UUID
	Event   Event
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *GroupMessage, 256),
	}
}

func (h *Hub) Run() {
	for {
		select {
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

		case msg := <-h.broadcast:
			h.mu.RLock()
			data, _ := json.Marshal(msg.Event)
			for _, client := range h.clients {
				if client.Groups[msg.GroupID] {
					select {
					case client.Send <- data:
					default:
						// Client buffer full, skip
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast emits one domain event to every client watching the group.
func (h *Hub) Broadcast(groupID uuid.UUID, eventType string, data any) {
	h.broadcast <- &GroupMessage{
		GroupID: groupID,
		Event:   Event{Type: eventType, Data: data},
	}
}

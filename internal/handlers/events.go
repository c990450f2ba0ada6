package handlers

import (
	"context"

	"github.com/bidpool/bidpool-api/internal/events"
	"github.com/bidpool/bidpool-api/internal/middleware"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
)

type EventsHandler struct {
	hub          HubInterface
	groupService GroupServiceInterface
}

func NewEventsHandler(hub HubInterface, groupService GroupServiceInterface) *EventsHandler {
	return &EventsHandler{hub: hub, groupService: groupService}
}

// Connect streams the group's protocol events over SSE: joins, bids,
// confirmations, quorum, deadline moves. Members and contractors both watch
// the same stream.
func (h *EventsHandler) Connect(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	groupID, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		c.BadRequest("invalid group id")
		return
	}

	ctx := context.Background()

	if _, err := h.groupService.GetByID(ctx, groupID); err != nil {
		respondServiceError(c, err)
		return
	}

	sseCtx := c.SSE()

	clientID := uuid.New().String()
	client := &events.Client{
		ID:     clientID,
		UserID: userID,
		Groups: map[uuid.UUID]bool{groupID: true},
		Send:   make(chan []byte, 256),
	}

	h.hub.Register(client)
	defer h.hub.Unregister(client)

	if err := sseCtx.SendJSON(map[string]string{
		"type":      "connected",
		"client_id": clientID,
	}, "system", ""); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		<-c.Request.Context().Done()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			if err := sseCtx.Send(string(msg), "message", ""); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

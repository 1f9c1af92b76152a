package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/relay-gateway/internal/services"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The endpoint is master-only and credential-authenticated; origin
	// checks add nothing for non-browser clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler upgrades master connections to a live dispatch-event feed.
type StreamHandler struct {
	hub *services.Hub
}

func NewStreamHandler(hub *services.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// Stream subscribes the caller to dispatch events.
// GET /api/v1/logs/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade stream connection")
		return
	}

	services.NewStreamClient(h.hub, conn)
}

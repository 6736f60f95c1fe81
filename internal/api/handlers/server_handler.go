package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/isdelr/ark-warden/internal/services"
	"github.com/rs/zerolog/log"
)

// ServerHandler handles read-only queries about the game server.
type ServerHandler struct {
	service services.LifecycleServiceProvider
}

// NewServerHandler creates a new ServerHandler.
func NewServerHandler(service services.LifecycleServiceProvider) *ServerHandler {
	return &ServerHandler{service: service}
}

// Status handles the request to get the current run state.
func (h *ServerHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.service.Status(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// Players handles the request to list connected players.
func (h *ServerHandler) Players(w http.ResponseWriter, r *http.Request) {
	players, err := h.service.ListPlayers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list players")
		http.Error(w, "Failed to list players: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(players)
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/isdelr/ark-warden/internal/models"
	"github.com/isdelr/ark-warden/internal/services"
	"github.com/rs/zerolog/log"
)

const (
	defaultEventLimit = 20
	maxEventLimit     = 500
)

// EventHandler serves the audit trail written by the lifecycle and backup services.
type EventHandler struct {
	service services.EventServiceProvider
}

func NewEventHandler(service services.EventServiceProvider) *EventHandler {
	return &EventHandler{service: service}
}

// GetRecent returns the newest events. Optional query parameters:
// limit (default 20, capped at 500), level ("info", "warn", "error") and
// type, a prefix such as "server." or "backup.".
func (h *EventHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := strconv.Atoi(query.Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultEventLimit
	}
	limit = min(limit, maxEventLimit)

	events, err := h.service.GetRecentEvents(limit)
	if err != nil {
		log.Error().Err(err).Int("limit", limit).Msg("Failed to read audit events")
		http.Error(w, "Failed to read events", http.StatusInternalServerError)
		return
	}
	events = filterEvents(events, query.Get("level"), query.Get("type"))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		log.Warn().Err(err).Msg("Failed to write events response")
	}
}

func filterEvents(events []models.Event, level, typePrefix string) []models.Event {
	if level == "" && typePrefix == "" {
		return events
	}
	kept := make([]models.Event, 0, len(events))
	for _, e := range events {
		if level != "" && !strings.EqualFold(e.Level, level) {
			continue
		}
		if typePrefix != "" && !strings.HasPrefix(e.Type, typePrefix) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

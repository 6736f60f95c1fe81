package services

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/ark-warden/internal/models"
	"github.com/rs/zerolog/log"
)

// EventServiceProvider defines the interface for event services.
type EventServiceProvider interface {
	CreateEvent(eventType, level, message string) error
	GetRecentEvents(limit int) ([]models.Event, error)
}

// EventService keeps an audit trail of lifecycle, backup and rollback outcomes.
type EventService struct {
	db *sql.DB
}

// NewEventService creates a new EventService.
func NewEventService(db *sql.DB) *EventService {
	return &EventService{db: db}
}

// CreateEvent logs a new event to the database.
func (s *EventService) CreateEvent(eventType, level, message string) error {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Level:     level,
		Message:   message,
		CreatedAt: time.Now(),
	}

	_, err := s.db.Exec("INSERT INTO events (id, type, level, message, created_at) VALUES (?, ?, ?, ?, ?)",
		event.ID, event.Type, event.Level, event.Message, event.CreatedAt.UnixNano())
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("Failed to record event")
	}
	return err
}

// GetRecentEvents retrieves the most recent events from the database.
func (s *EventService) GetRecentEvents(limit int) ([]models.Event, error) {
	rows, err := s.db.Query("SELECT id, type, level, message, created_at FROM events ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var event models.Event
		var createdAt int64
		if err := rows.Scan(&event.ID, &event.Type, &event.Level, &event.Message, &createdAt); err != nil {
			return nil, err
		}
		event.CreatedAt = time.Unix(0, createdAt)
		events = append(events, event)
	}
	return events, rows.Err()
}

// discardEvents is used when no audit trail is wired.
type discardEvents struct{}

func (discardEvents) CreateEvent(string, string, string) error { return nil }
func (discardEvents) GetRecentEvents(int) ([]models.Event, error) { return nil, nil }

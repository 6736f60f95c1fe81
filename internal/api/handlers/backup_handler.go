package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/ark-warden/internal/models"
	"github.com/isdelr/ark-warden/internal/services"
	"github.com/rs/zerolog/log"
)

// BackupHandler handles HTTP requests related to backups.
type BackupHandler struct {
	backups   services.BackupServiceProvider
	lifecycle services.LifecycleServiceProvider
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(backups services.BackupServiceProvider, lifecycle services.LifecycleServiceProvider) *BackupHandler {
	return &BackupHandler{backups: backups, lifecycle: lifecycle}
}

// RestorePayload is the expected JSON body for restoring a backup.
type RestorePayload struct {
	Force bool `json:"force"`
}

// GetAll handles the request to list archives.
func (h *BackupHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	backups, err := h.backups.GetBackups()
	if err != nil {
		log.Error().Err(err).Msg("Failed to retrieve backups")
		http.Error(w, "Failed to retrieve backups: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(backups)
}

// Create handles the request to save the world and take a backup.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	// Saving and archiving can take a while; progress is published over the websocket.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		outcome, err := h.lifecycle.Save(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to save and back up in background")
			return
		}
		if !outcome.Saved {
			log.Warn().Int("attempts", len(outcome.Attempts)).Msg("Background save was not acknowledged")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "Save and backup started."})
}

// Restore handles the request to roll back to a backup.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	backupID := chi.URLParam(r, "backupId")
	var payload RestorePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), commandTimeout)
	defer cancel()

	outcome, err := h.lifecycle.Rollback(ctx, backupID, payload.Force)
	if err != nil {
		log.Error().Err(err).Str("backup_id", backupID).Msg("Failed to restore backup")
		if errors.Is(err, services.ErrArchiveNotFound) {
			http.Error(w, "Backup not found", http.StatusNotFound)
			return
		}
		switch {
		case errors.Is(err, services.ErrPathEscape):
			outcome = models.Outcome{Kind: models.OutcomeError, Message: "Archive rejected: it contains paths outside the data directory."}
		case outcome.Kind == "":
			outcome = models.Outcome{Kind: models.OutcomeError, Message: err.Error()}
		}
	}
	writeOutcome(w, outcome)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/ark-warden/internal/commands"
	"github.com/isdelr/ark-warden/internal/models"
	"github.com/rs/zerolog/log"
)

// commandTimeout bounds one command, including the save retries and start script of a restart.
const commandTimeout = 10 * time.Minute

// CommandHandler exposes the command table over HTTP.
type CommandHandler struct {
	table *commands.Table
}

// NewCommandHandler creates a new CommandHandler.
func NewCommandHandler(table *commands.Table) *CommandHandler {
	return &CommandHandler{table: table}
}

// CommandPayload is the expected JSON body for running a command.
type CommandPayload struct {
	Args string `json:"args"`
}

// Run handles the request to run a named command.
func (h *CommandHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var payload CommandPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// A dropped connection must not abort a restart half way.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), commandTimeout)
	defer cancel()

	outcome := h.table.Dispatch(ctx, name, payload.Args)
	log.Info().Str("command", name).Str("kind", string(outcome.Kind)).Msg("Command finished")
	writeOutcome(w, outcome)
}

// List handles the request to list available commands.
func (h *CommandHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.table.Names())
}

func writeOutcome(w http.ResponseWriter, outcome models.Outcome) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(outcome.Kind))
	json.NewEncoder(w).Encode(outcome)
}

func statusFor(kind models.OutcomeKind) int {
	switch kind {
	case models.OutcomeUnknownCommand:
		return http.StatusNotFound
	case models.OutcomeInvalidArgs:
		return http.StatusBadRequest
	case models.OutcomeBlocked, models.OutcomeAlreadyRunning, models.OutcomeNeedsConfirmation:
		return http.StatusConflict
	case models.OutcomeError:
		return http.StatusInternalServerError
	case models.OutcomeSaveFailed, models.OutcomeExitUnconfirmed:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/isdelr/ark-warden/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// logReporter surfaces progress on the terminal when no websocket is attached.
type logReporter struct{}

func (logReporter) Publish(action string, payload interface{}) {
	if attempt, ok := payload.(models.SaveAttempt); ok {
		log.Info().Str("action", action).Int("attempt", attempt.Attempt).Bool("success", attempt.Success).Msg("Save attempt")
		return
	}
	log.Info().Str("action", action).Interface("payload", payload).Msg("Progress")
}

// ExitError carries the outcome kind out of exec as a non-zero status.
type ExitError struct {
	Kind models.OutcomeKind
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command finished with %s", e.Kind)
}

func newExecCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command> [args...]",
		Short: "Run one command (status, save, restart, rollback, ...) and print its outcome",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logReporter{})
			if err != nil {
				return err
			}
			defer a.Close()

			outcome := a.table.Dispatch(cmd.Context(), args[0], strings.Join(args[1:], " "))
			fmt.Fprintln(cmd.OutOrStdout(), outcome.Message)
			if failedKind(outcome.Kind) {
				return &ExitError{Kind: outcome.Kind}
			}
			return nil
		},
	}
}

func failedKind(kind models.OutcomeKind) bool {
	switch kind {
	case models.OutcomeError, models.OutcomeBlocked, models.OutcomeSaveFailed, models.OutcomeExitUnconfirmed,
		models.OutcomeInvalidArgs, models.OutcomeUnknownCommand, models.OutcomeNeedsConfirmation:
		return true
	}
	return false
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/isdelr/ark-warden/internal/console"
	"github.com/isdelr/ark-warden/internal/metrics"
	"github.com/isdelr/ark-warden/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const (
	cmdListPlayers = "listplayers"
	cmdSaveWorld   = "SaveWorld"
	cmdDoExit      = "DoExit"
	cmdBroadcast   = "Broadcast"

	noPlayersLine = "No Players Connected"
)

// Reporter receives progress while a lifecycle operation runs.
type Reporter interface {
	Publish(action string, payload interface{})
}

// LifecycleConfig tunes the save retry loop and names the start script.
type LifecycleConfig struct {
	StartScript  string
	SaveAttempts int           // defaults to 3
	RetryDelay   time.Duration // pause between failed attempts, defaults to 1s
}

// SaveOutcome describes one save+backup run.
type SaveOutcome struct {
	Saved    bool                 `json:"saved"`
	Response string               `json:"response,omitempty"`
	Attempts []models.SaveAttempt `json:"attempts"`
	Backup   *models.Backup       `json:"backup,omitempty"`
}

// LifecycleServiceProvider defines the interface for lifecycle services.
type LifecycleServiceProvider interface {
	Status(ctx context.Context) models.ServerStatus
	Probe(ctx context.Context) (models.ServerStatus, error)
	ListPlayers(ctx context.Context) ([]string, error)
	Broadcast(ctx context.Context, message string) (string, error)
	Save(ctx context.Context) (SaveOutcome, error)
	Start(ctx context.Context) (models.Outcome, error)
	Restart(ctx context.Context, force bool) (models.Outcome, error)
	Shutdown(ctx context.Context, force bool) (models.Outcome, error)
	Rollback(ctx context.Context, archiveID string, force bool) (models.Outcome, error)
}

// LifecycleService sequences save, stop, start and rollback against one game server.
// Mutating operations share a single lock; status queries do not take it.
type LifecycleService struct {
	console      console.Executor
	backups      BackupServiceProvider
	rollback     RollbackServiceProvider
	scripts      ScriptRunner
	eventService EventServiceProvider
	reporter     Reporter
	cfg          LifecycleConfig
	lock         *semaphore.Weighted
}

// NewLifecycleService creates a new LifecycleService. reporter and eventService may be nil.
func NewLifecycleService(
	exec console.Executor,
	backups BackupServiceProvider,
	rollback RollbackServiceProvider,
	scripts ScriptRunner,
	eventService EventServiceProvider,
	reporter Reporter,
	cfg LifecycleConfig,
) *LifecycleService {
	if cfg.SaveAttempts < 1 {
		cfg.SaveAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if eventService == nil {
		eventService = discardEvents{}
	}
	if reporter == nil {
		reporter = discardReporter{}
	}
	return &LifecycleService{
		console:      exec,
		backups:      backups,
		rollback:     rollback,
		scripts:      scripts,
		eventService: eventService,
		reporter:     reporter,
		cfg:          cfg,
		lock:         semaphore.NewWeighted(1),
	}
}

// execute runs one console command and records it.
func (s *LifecycleService) execute(ctx context.Context, command string) (string, error) {
	name := strings.Fields(command)[0]
	resp, err := s.console.Execute(ctx, command)
	switch {
	case err != nil:
		metrics.ConsoleCommands.WithLabelValues(name, "error").Inc()
		log.Debug().Err(err).Str("command", name).Msg("Console command failed")
	case resp == "":
		metrics.ConsoleCommands.WithLabelValues(name, "empty").Inc()
	default:
		metrics.ConsoleCommands.WithLabelValues(name, "ok").Inc()
	}
	return resp, err
}

// Probe queries the player list. A failed query yields Unknown and the error.
func (s *LifecycleService) Probe(ctx context.Context) (models.ServerStatus, error) {
	resp, err := s.execute(ctx, cmdListPlayers)
	if err != nil {
		return models.ServerStatus{State: models.StateUnknown}, err
	}
	if resp == "" {
		return models.ServerStatus{State: models.StateStopped}, nil
	}
	return models.ServerStatus{State: models.StateRunning, Players: len(parsePlayers(resp))}, nil
}

// Status treats an unanswered query as a stopped server.
func (s *LifecycleService) Status(ctx context.Context) models.ServerStatus {
	status, err := s.Probe(ctx)
	if err != nil {
		return models.ServerStatus{State: models.StateStopped}
	}
	return status
}

// ListPlayers returns the names of connected players.
func (s *LifecycleService) ListPlayers(ctx context.Context) ([]string, error) {
	resp, err := s.execute(ctx, cmdListPlayers)
	if err != nil {
		return nil, err
	}
	return parsePlayers(resp), nil
}

// parsePlayers reads lines of the form "0. Name, 00023A8B...".
func parsePlayers(resp string) []string {
	players := []string{}
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == noPlayersLine || !strings.Contains(line, ",") {
			continue
		}
		name := strings.TrimSpace(strings.SplitN(line, ",", 2)[0])
		if idx, rest, ok := strings.Cut(name, ". "); ok && isDigits(idx) {
			name = rest
		}
		players = append(players, name)
	}
	return players
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Broadcast shows a message to everyone in game.
func (s *LifecycleService) Broadcast(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("broadcast message is empty")
	}
	return s.execute(ctx, cmdBroadcast+" "+message)
}

// Save issues SaveWorld until the server acknowledges it, then archives the data directory.
func (s *LifecycleService) Save(ctx context.Context) (SaveOutcome, error) {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return SaveOutcome{}, fmt.Errorf("wait for lifecycle lock: %w", err)
	}
	defer s.lock.Release(1)
	return s.save(ctx)
}

func (s *LifecycleService) save(ctx context.Context) (SaveOutcome, error) {
	outcome := SaveOutcome{Attempts: []models.SaveAttempt{}}
	for i := 1; i <= s.cfg.SaveAttempts; i++ {
		resp, err := s.execute(ctx, cmdSaveWorld)
		attempt := models.SaveAttempt{Attempt: i, Success: err == nil && resp != "", Response: resp}
		if err != nil {
			attempt.Error = err.Error()
		}
		outcome.Attempts = append(outcome.Attempts, attempt)
		s.reporter.Publish("save.attempt", attempt)

		if attempt.Success {
			metrics.SaveAttempts.WithLabelValues("ok").Inc()
			outcome.Saved = true
			outcome.Response = resp
			break
		}
		metrics.SaveAttempts.WithLabelValues("failed").Inc()
		log.Warn().Int("attempt", i).Int("max", s.cfg.SaveAttempts).Msg("Save was not acknowledged")

		if i < s.cfg.SaveAttempts {
			select {
			case <-ctx.Done():
				return outcome, ctx.Err()
			case <-time.After(s.cfg.RetryDelay):
			}
		}
	}

	if !outcome.Saved {
		s.eventService.CreateEvent("server.save.fail", "error", fmt.Sprintf("Save failed after %d attempts.", len(outcome.Attempts)))
		return outcome, nil
	}

	s.reporter.Publish("backup.start", nil)
	backup, err := s.backups.CreateBackup(ctx)
	if backup.Name != "" {
		outcome.Backup = &backup
	}
	if err != nil {
		s.reporter.Publish("backup.fail", err.Error())
		return outcome, fmt.Errorf("backup after save: %w", err)
	}
	s.reporter.Publish("backup.done", backup)
	s.eventService.CreateEvent("server.save", "info", fmt.Sprintf("World saved and backed up as '%s'.", backup.Name))
	return outcome, nil
}

// Start launches the server when it is not already running.
func (s *LifecycleService) Start(ctx context.Context) (models.Outcome, error) {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return models.Outcome{}, fmt.Errorf("wait for lifecycle lock: %w", err)
	}
	defer s.lock.Release(1)

	if status := s.Status(ctx); !status.Stopped() {
		return models.Outcome{Kind: models.OutcomeAlreadyRunning, Message: "The server is already running."}, nil
	}
	return s.runStartScript(ctx)
}

func (s *LifecycleService) runStartScript(ctx context.Context) (models.Outcome, error) {
	s.reporter.Publish("server.start", nil)
	out, err := s.scripts.Run(ctx, s.cfg.StartScript)
	if err != nil {
		s.eventService.CreateEvent("server.start.fail", "error", err.Error())
		return models.Outcome{Kind: models.OutcomeError, Message: "The start script failed."}, err
	}
	s.eventService.CreateEvent("server.start", "info", "Start script executed.")
	if out == "" {
		return models.Outcome{Kind: models.OutcomeNoOutput, Message: "Succeeded."}, nil
	}
	return models.Outcome{Kind: models.OutcomeOK, Message: out}, nil
}

// Restart saves, stops and starts the server again.
func (s *LifecycleService) Restart(ctx context.Context, force bool) (models.Outcome, error) {
	return s.stop(ctx, force, true)
}

// Shutdown saves and stops the server.
func (s *LifecycleService) Shutdown(ctx context.Context, force bool) (models.Outcome, error) {
	return s.stop(ctx, force, false)
}

func (s *LifecycleService) stop(ctx context.Context, force, restart bool) (models.Outcome, error) {
	action := "shutdown"
	if restart {
		action = "restart"
	}
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return models.Outcome{}, fmt.Errorf("wait for lifecycle lock: %w", err)
	}
	defer s.lock.Release(1)

	if !force {
		status, err := s.Probe(ctx)
		if err != nil {
			log.Warn().Err(err).Str("action", action).Msg("Refusing to stop a server in unknown state")
			return blocked(models.ReasonStateUnknown,
				fmt.Sprintf("Could not determine the server state. Run '%s force' to %s anyway.", action, action)), nil
		}
		if status.Players > 0 {
			s.eventService.CreateEvent("server."+action+".blocked", "warn", fmt.Sprintf("%d players online.", status.Players))
			return blocked(models.ReasonPlayersPresent,
				fmt.Sprintf("%d players are still connected. Run '%s force' to %s anyway.", status.Players, action, action)), nil
		}
	}

	save, err := s.save(ctx)
	if err != nil {
		return models.Outcome{Kind: models.OutcomeError, Message: "Save or backup failed; the server was left running."}, err
	}
	if !save.Saved {
		return blocked(models.ReasonServerUnresponsive,
			fmt.Sprintf("The server is not accepting commands. The %s was aborted.", action)), nil
	}

	s.reporter.Publish("server.exit", nil)
	resp, err := s.execute(ctx, cmdDoExit)
	if err != nil || resp == "" {
		s.eventService.CreateEvent("server."+action, "warn", "Exit was not confirmed.")
		return models.Outcome{
			Kind:    models.OutcomeExitUnconfirmed,
			Message: "Shutdown could not be confirmed. Check with 'status' and start the server with 'start'.",
		}, nil
	}
	s.eventService.CreateEvent("server."+action, "info", resp)

	if !restart {
		return models.Outcome{Kind: models.OutcomeOK, Message: resp}, nil
	}
	return s.runStartScript(ctx)
}

// Rollback restores an archive into the data directory. It requires force as
// confirmation and a server that is confirmed not running.
func (s *LifecycleService) Rollback(ctx context.Context, archiveID string, force bool) (models.Outcome, error) {
	if !force {
		return models.Outcome{
			Kind:    models.OutcomeNeedsConfirmation,
			Message: fmt.Sprintf("Rolling back discards the current data. Run 'rollback %s force' to confirm.", archiveID),
		}, nil
	}
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return models.Outcome{}, fmt.Errorf("wait for lifecycle lock: %w", err)
	}
	defer s.lock.Release(1)

	status, err := s.Probe(ctx)
	switch {
	case err != nil && !errors.Is(err, console.ErrUnreachable):
		return blocked(models.ReasonStateUnknown, "Could not confirm the server is stopped. Rollback aborted."), nil
	case err == nil && !status.Stopped():
		return blocked(models.ReasonServerLive, "The server is running. Stop it before rolling back."), nil
	}

	s.reporter.Publish("rollback.start", archiveID)
	n, err := s.rollback.Restore(ctx, archiveID)
	if err != nil {
		return models.Outcome{Kind: models.OutcomeError, Message: fmt.Sprintf("Rollback failed: %v", err)}, err
	}
	s.reporter.Publish("rollback.done", n)
	return models.Outcome{Kind: models.OutcomeOK, Message: fmt.Sprintf("Rolled back to %s (%d files restored).", archiveID, n)}, nil
}

func blocked(reason, message string) models.Outcome {
	return models.Outcome{Kind: models.OutcomeBlocked, Reason: reason, Message: message}
}

type discardReporter struct{}

func (discardReporter) Publish(string, interface{}) {}

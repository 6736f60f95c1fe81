package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/isdelr/ark-warden/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// saveTimeout bounds one scheduled save+backup, including waiting for the lifecycle lock.
const saveTimeout = 30 * time.Minute

// Scheduler triggers the periodic save and backup.
type Scheduler struct {
	lifecycle services.LifecycleServiceProvider
	eventSvc  services.EventServiceProvider
	cron      *cron.Cron
	spec      string
}

// NewScheduler validates the cron expression, e.g. "@every 1h" or "0 * * * *".
func NewScheduler(spec string, lifecycle services.LifecycleServiceProvider, eventSvc services.EventServiceProvider) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid backup schedule %q: %w", spec, err)
	}
	s := &Scheduler{
		lifecycle: lifecycle,
		eventSvc:  eventSvc,
		spec:      spec,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := s.cron.AddFunc(spec, s.runScheduledSave); err != nil {
		return nil, fmt.Errorf("register backup schedule: %w", err)
	}
	return s, nil
}

// Run starts the scheduler in its own goroutine.
func (s *Scheduler) Run() {
	log.Info().Str("schedule", s.spec).Msg("Starting background scheduler...")
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running save to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("Stopping background scheduler.")
}

// runScheduledSave saves and backs up a running server; a stopped server has nothing new to save.
func (s *Scheduler) runScheduledSave() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if status := s.lifecycle.Status(ctx); status.Stopped() {
		log.Debug().Msg("Scheduler: server stopped, skipping scheduled backup")
		return
	}

	outcome, err := s.lifecycle.Save(ctx)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("Scheduler: scheduled backup failed")
		s.eventSvc.CreateEvent("schedule.backup.fail", "error", fmt.Sprintf("Scheduled backup failed: %v", err))
	case !outcome.Saved:
		log.Warn().Int("attempts", len(outcome.Attempts)).Msg("Scheduler: server did not acknowledge save")
		s.eventSvc.CreateEvent("schedule.backup.fail", "warn", "Scheduled save was not acknowledged; no backup taken.")
	default:
		name := ""
		if outcome.Backup != nil {
			name = outcome.Backup.Name
		}
		log.Info().Str("backup", name).Msg("Scheduler: scheduled backup complete")
		s.eventSvc.CreateEvent("schedule.backup", "info", fmt.Sprintf("Scheduled backup '%s' created.", name))
	}
}

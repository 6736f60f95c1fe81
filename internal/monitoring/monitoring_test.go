package monitoring

import (
	"context"
	"sync"
	"testing"

	"github.com/isdelr/ark-warden/internal/models"
	"github.com/isdelr/ark-warden/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLifecycle struct {
	services.LifecycleServiceProvider
	status models.ServerStatus
	save   services.SaveOutcome
	saves  int
}

func (s *stubLifecycle) Status(context.Context) models.ServerStatus { return s.status }

func (s *stubLifecycle) Save(context.Context) (services.SaveOutcome, error) {
	s.saves++
	return s.save, nil
}

type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingEvents) CreateEvent(eventType, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
	return nil
}

func (r *recordingEvents) GetRecentEvents(int) ([]models.Event, error) { return nil, nil }

type recordingReporter struct {
	actions  []string
	payloads []interface{}
}

func (r *recordingReporter) Publish(action string, payload interface{}) {
	r.actions = append(r.actions, action)
	r.payloads = append(r.payloads, payload)
}

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	_, err := NewScheduler("every hour please", &stubLifecycle{}, &recordingEvents{})
	assert.Error(t, err)

	s, err := NewScheduler("@every 1h", &stubLifecycle{}, &recordingEvents{})
	require.NoError(t, err)
	s.Run()
	s.Stop()
}

func TestScheduler_SkipsStoppedServer(t *testing.T) {
	lc := &stubLifecycle{status: models.ServerStatus{State: models.StateStopped}}
	events := &recordingEvents{}
	s, err := NewScheduler("0 * * * *", lc, events)
	require.NoError(t, err)

	s.runScheduledSave()
	assert.Zero(t, lc.saves)
	assert.Empty(t, events.types)
}

func TestScheduler_SavesRunningServer(t *testing.T) {
	lc := &stubLifecycle{
		status: models.ServerStatus{State: models.StateRunning},
		save:   services.SaveOutcome{Saved: true, Backup: &models.Backup{Name: "2024-01-02_(15-04-05).zip"}},
	}
	events := &recordingEvents{}
	s, err := NewScheduler("0 * * * *", lc, events)
	require.NoError(t, err)

	s.runScheduledSave()
	assert.Equal(t, 1, lc.saves)
	assert.Equal(t, []string{"schedule.backup"}, events.types)

	lc.save = services.SaveOutcome{}
	s.runScheduledSave()
	assert.Equal(t, []string{"schedule.backup", "schedule.backup.fail"}, events.types)
}

func TestStatUpdater_PublishesReport(t *testing.T) {
	lc := &stubLifecycle{status: models.ServerStatus{State: models.StateRunning, Players: 3}}
	events := &recordingEvents{}
	reporter := &recordingReporter{}
	su := NewStatUpdater(lc, events, reporter, t.TempDir(), 0)

	report := su.update()
	assert.Equal(t, 3, report.Status.Players)
	assert.Positive(t, report.Host.BackupDiskFree)
	require.Equal(t, []string{"status.update"}, reporter.actions)
	assert.Equal(t, report, reporter.payloads[0])

	lc.status = models.ServerStatus{State: models.StateStopped}
	su.update()
	assert.Contains(t, events.types, "server.state")
}

func TestStatUpdater_CPUAlertCooldown(t *testing.T) {
	events := &recordingEvents{}
	su := NewStatUpdater(&stubLifecycle{}, events, &recordingReporter{}, "", 0)

	su.checkAndAlertForHighCPU(95)
	su.checkAndAlertForHighCPU(97)
	su.checkAndAlertForHighCPU(50)
	assert.Equal(t, []string{"system.alert.cpu"}, events.types)
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/isdelr/ark-warden/internal/commands"
	"github.com/isdelr/ark-warden/internal/models"
	"github.com/isdelr/ark-warden/internal/services"
	"github.com/isdelr/ark-warden/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLifecycle struct {
	services.LifecycleServiceProvider
	status   models.ServerStatus
	outcome  models.Outcome
	err      error
	rollback []string
}

func (s *stubLifecycle) Status(context.Context) models.ServerStatus { return s.status }

func (s *stubLifecycle) ListPlayers(context.Context) ([]string, error) {
	return []string{"Alice"}, nil
}

func (s *stubLifecycle) Shutdown(context.Context, bool) (models.Outcome, error) {
	return s.outcome, s.err
}

func (s *stubLifecycle) Rollback(_ context.Context, id string, force bool) (models.Outcome, error) {
	s.rollback = append(s.rollback, id)
	if !force {
		return models.Outcome{Kind: models.OutcomeNeedsConfirmation}, nil
	}
	return s.outcome, s.err
}

type stubBackups struct{}

func (stubBackups) CreateBackup(context.Context) (models.Backup, error) { return models.Backup{}, nil }

func (stubBackups) GetBackups() ([]models.Backup, error) {
	return []models.Backup{{Name: "2024-01-02_(15-04-05).zip", Path: "/secret/path", Size: 42}}, nil
}

type stubEvents struct{}

func (stubEvents) CreateEvent(string, string, string) error { return nil }

func (stubEvents) GetRecentEvents(limit int) ([]models.Event, error) {
	return []models.Event{
		{ID: "1", Type: "server.save", Level: "info", Message: "saved"},
		{ID: "2", Type: "backup.failed", Level: "error", Message: "disk full"},
	}, nil
}

type stubTunnel struct{}

func (stubTunnel) CheckTunnel(context.Context) (bool, error) { return true, nil }

func (stubTunnel) ReloadTunnel(context.Context, bool) (models.Outcome, error) {
	return models.Outcome{Kind: models.OutcomeOK}, nil
}

func newTestServer(t *testing.T, lc *stubLifecycle) *httptest.Server {
	t.Helper()
	hub := websocket.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	router := NewRouter(Deps{
		Hub:       hub,
		Table:     commands.NewTable(lc, stubBackups{}, stubTunnel{}),
		Lifecycle: lc,
		Backups:   stubBackups{},
		Events:    stubEvents{},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postCommand(t *testing.T, srv *httptest.Server, name, body string) (int, models.Outcome) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/commands/"+name, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var outcome models.Outcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
	return resp.StatusCode, outcome
}

func TestRouter_Healthz(t *testing.T) {
	srv := newTestServer(t, &stubLifecycle{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_Metrics(t *testing.T) {
	srv := newTestServer(t, &stubLifecycle{})
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_Commands(t *testing.T) {
	lc := &stubLifecycle{status: models.ServerStatus{State: models.StateRunning, Players: 2}}
	srv := newTestServer(t, lc)

	code, outcome := postCommand(t, srv, "status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.OutcomeRunning, outcome.Kind)

	code, outcome = postCommand(t, srv, "nope", `{}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, models.OutcomeUnknownCommand, outcome.Kind)

	lc.outcome = models.Outcome{Kind: models.OutcomeBlocked, Reason: models.ReasonPlayersPresent}
	code, outcome = postCommand(t, srv, "shutdown", `{"args":""}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, models.ReasonPlayersPresent, outcome.Reason)

	code, _ = postCommand(t, srv, "shutdown", `{"args":"now please"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRouter_InvalidBody(t *testing.T) {
	srv := newTestServer(t, &stubLifecycle{})
	resp, err := http.Post(srv.URL+"/api/v1/commands/status", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_BackupsHidePaths(t *testing.T) {
	srv := newTestServer(t, &stubLifecycle{})
	resp, err := http.Get(srv.URL + "/api/v1/backups")
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	require.Len(t, raw, 1)
	assert.Equal(t, "2024-01-02_(15-04-05).zip", raw[0]["name"])
	assert.NotContains(t, raw[0], "path")
}

func TestRouter_Restore(t *testing.T) {
	lc := &stubLifecycle{outcome: models.Outcome{Kind: models.OutcomeOK}}
	srv := newTestServer(t, lc)

	resp, err := http.Post(srv.URL+"/api/v1/backups/snap/restore", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/v1/backups/snap/restore", "application/json", strings.NewReader(`{"force":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"snap", "snap"}, lc.rollback)

	lc.outcome = models.Outcome{Kind: models.OutcomeError}
	lc.err = services.ErrArchiveNotFound
	resp, err = http.Post(srv.URL+"/api/v1/backups/missing/restore", "application/json", strings.NewReader(`{"force":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_ServerEndpoints(t *testing.T) {
	srv := newTestServer(t, &stubLifecycle{status: models.ServerStatus{State: models.StateStopped}})

	resp, err := http.Get(srv.URL + "/api/v1/server/status")
	require.NoError(t, err)
	var status models.ServerStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, models.StateStopped, status.State)

	resp, err = http.Get(srv.URL + "/api/v1/server/players")
	require.NoError(t, err)
	var players []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&players))
	resp.Body.Close()
	assert.Equal(t, []string{"Alice"}, players)
}

func TestRouter_Events(t *testing.T) {
	srv := newTestServer(t, &stubLifecycle{})
	resp, err := http.Get(srv.URL + "/api/v1/events?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	var events []models.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	assert.Len(t, events, 2)
}

func TestRouter_EventsFiltered(t *testing.T) {
	srv := newTestServer(t, &stubLifecycle{})

	resp, err := http.Get(srv.URL + "/api/v1/events?level=ERROR")
	require.NoError(t, err)
	var events []models.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	resp.Body.Close()
	require.Len(t, events, 1)
	assert.Equal(t, "backup.failed", events[0].Type)

	resp, err = http.Get(srv.URL + "/api/v1/events?type=server.")
	require.NoError(t, err)
	events = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	resp.Body.Close()
	require.Len(t, events, 1)
	assert.Equal(t, "server.save", events[0].Type)
}

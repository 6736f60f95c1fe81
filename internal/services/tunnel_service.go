package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/isdelr/ark-warden/internal/models"
	ps "github.com/mitchellh/go-ps"
	"github.com/rs/zerolog/log"
)

// TunnelConfig names the scripts and process of the port-forwarding helper.
type TunnelConfig struct {
	CheckScript   string // prints "0" when the tunnel is down; optional
	RestartScript string
	ProcessName   string // matched against running executables when no check script is set
}

// TunnelServiceProvider defines the interface for tunnel services.
type TunnelServiceProvider interface {
	CheckTunnel(ctx context.Context) (bool, error)
	ReloadTunnel(ctx context.Context, force bool) (models.Outcome, error)
}

// TunnelService supervises the tunnel that exposes the game port.
type TunnelService struct {
	cfg          TunnelConfig
	scripts      ScriptRunner
	status       LifecycleServiceProvider
	eventService EventServiceProvider
	processes    func() ([]ps.Process, error)
}

// NewTunnelService creates a new TunnelService.
func NewTunnelService(cfg TunnelConfig, scripts ScriptRunner, lifecycle LifecycleServiceProvider, eventService EventServiceProvider) *TunnelService {
	if eventService == nil {
		eventService = discardEvents{}
	}
	return &TunnelService{
		cfg:          cfg,
		scripts:      scripts,
		status:       lifecycle,
		eventService: eventService,
		processes:    ps.Processes,
	}
}

// CheckTunnel reports whether the tunnel helper is running.
func (s *TunnelService) CheckTunnel(ctx context.Context) (bool, error) {
	if s.cfg.CheckScript != "" {
		out, err := s.scripts.Run(ctx, s.cfg.CheckScript)
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(out) != "0", nil
	}
	if s.cfg.ProcessName == "" {
		return false, errors.New("no tunnel check script or process name configured")
	}

	processes, err := s.processes()
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}
	want := strings.ToLower(s.cfg.ProcessName)
	for _, p := range processes {
		if strings.Contains(strings.ToLower(p.Executable()), want) {
			return true, nil
		}
	}
	return false, nil
}

// ReloadTunnel restarts the tunnel helper. Players are dropped by a restart,
// so it refuses while anyone is connected unless forced. A server that does
// not answer has nobody to drop.
func (s *TunnelService) ReloadTunnel(ctx context.Context, force bool) (models.Outcome, error) {
	if !force {
		status, err := s.status.Probe(ctx)
		if err == nil && status.Players > 0 {
			return blocked(models.ReasonPlayersPresent,
				fmt.Sprintf("%d players are still connected. Run 'reload_tunnel force' to reload anyway.", status.Players)), nil
		}
	}

	out, err := s.scripts.Run(ctx, s.cfg.RestartScript)
	if err != nil {
		s.eventService.CreateEvent("tunnel.reload.fail", "error", err.Error())
		return models.Outcome{Kind: models.OutcomeError, Message: "Tunnel reload failed. Try again."}, err
	}
	log.Info().Bool("force", force).Msg("Tunnel reloaded")
	s.eventService.CreateEvent("tunnel.reload", "info", "Tunnel reloaded.")
	if out == "" {
		return models.Outcome{Kind: models.OutcomeOK, Message: "Succeeded."}, nil
	}
	return models.Outcome{Kind: models.OutcomeOK, Message: out}, nil
}

package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/isdelr/ark-warden/internal/metrics"
	"github.com/isdelr/ark-warden/internal/models"
	"github.com/isdelr/ark-warden/internal/services"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	highCPUThreshold = 90.0
	alertCooldown    = 15 * time.Minute
)

// StatUpdater periodically polls the server and host and broadcasts a StatusReport.
type StatUpdater struct {
	lifecycle  services.LifecycleServiceProvider
	eventSvc   services.EventServiceProvider
	reporter   services.Reporter
	backupPath string
	interval   time.Duration
	done       chan struct{}

	lastState    models.ServerState
	highCPUAlert time.Time
}

// NewStatUpdater creates a new StatUpdater.
func NewStatUpdater(lifecycle services.LifecycleServiceProvider, eventSvc services.EventServiceProvider, reporter services.Reporter, backupPath string, interval time.Duration) *StatUpdater {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &StatUpdater{
		lifecycle:  lifecycle,
		eventSvc:   eventSvc,
		reporter:   reporter,
		backupPath: backupPath,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

// Run starts the periodic updates and blocks until Stop.
func (su *StatUpdater) Run() {
	log.Info().Dur("interval", su.interval).Msg("Starting background stat updater...")
	ticker := time.NewTicker(su.interval)
	defer ticker.Stop()

	// Run once immediately on start
	su.update()

	for {
		select {
		case <-su.done:
			log.Info().Msg("Stopping background stat updater.")
			return
		case <-ticker.C:
			su.update()
		}
	}
}

// Stop halts the periodic updates.
func (su *StatUpdater) Stop() {
	close(su.done)
}

func (su *StatUpdater) update() models.StatusReport {
	ctx, cancel := context.WithTimeout(context.Background(), su.interval)
	defer cancel()

	report := models.StatusReport{
		Status: su.lifecycle.Status(ctx),
		Host:   su.hostStats(ctx),
	}

	if report.Status.State == models.StateRunning {
		metrics.ServerUp.Set(1)
	} else {
		metrics.ServerUp.Set(0)
	}
	metrics.PlayersOnline.Set(float64(report.Status.Players))

	if su.lastState != "" && su.lastState != report.Status.State {
		log.Info().Str("from", string(su.lastState)).Str("to", string(report.Status.State)).Msg("Server state changed")
		su.eventSvc.CreateEvent("server.state", "info", fmt.Sprintf("Server is now %s.", report.Status))
	}
	su.lastState = report.Status.State
	su.checkAndAlertForHighCPU(report.Host.CPUPercent)

	su.reporter.Publish("status.update", report)
	return report
}

// hostStats samples the machine; any probe that fails is left at zero.
func (su *StatUpdater) hostStats(ctx context.Context) models.HostStats {
	var stats models.HostStats
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	} else if err != nil {
		log.Debug().Err(err).Msg("StatUpdater: cpu sample failed")
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryPercent = vm.UsedPercent
	} else {
		log.Debug().Err(err).Msg("StatUpdater: memory sample failed")
	}
	if su.backupPath != "" {
		if usage, err := disk.UsageWithContext(ctx, su.backupPath); err == nil {
			stats.BackupDiskFree = usage.Free
		} else {
			log.Debug().Err(err).Str("path", su.backupPath).Msg("StatUpdater: disk sample failed")
		}
	}
	return stats
}

func (su *StatUpdater) checkAndAlertForHighCPU(cpuPercent float64) {
	if cpuPercent <= highCPUThreshold {
		return
	}
	// If an alert was sent recently, do nothing.
	if !su.highCPUAlert.IsZero() && time.Since(su.highCPUAlert) < alertCooldown {
		return
	}
	msg := fmt.Sprintf("High CPU usage (%.1f%%) detected on the game host.", cpuPercent)
	su.eventSvc.CreateEvent("system.alert.cpu", "warn", msg)
	su.highCPUAlert = time.Now()
}

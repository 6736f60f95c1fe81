// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConsoleCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_console_commands_total",
		Help: "RCON commands issued, by command and result.",
	}, []string{"command", "result"})

	SaveAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_save_attempts_total",
		Help: "Save attempts, by result.",
	}, []string{"result"})

	BackupsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_backups_created_total",
		Help: "Backup archives written successfully.",
	})

	BackupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_backup_failures_total",
		Help: "Backup attempts that did not produce an archive.",
	})

	BackupsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_backups_evicted_total",
		Help: "Archives removed by the retention cap.",
	})

	BackupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "warden_backup_duration_seconds",
		Help:    "Time spent writing one archive.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	BackupArchives = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_backup_archives",
		Help: "Archives currently held in the backup directory.",
	})

	Restores = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_restores_total",
		Help: "Rollback attempts, by result.",
	}, []string{"result"})

	PlayersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_players_online",
		Help: "Players reported by the last status poll.",
	})

	ServerUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_server_up",
		Help: "1 when the last status poll found the server running.",
	})
)

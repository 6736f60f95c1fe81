package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/isdelr/ark-warden/internal/api"
	"github.com/isdelr/ark-warden/internal/monitoring"
	"github.com/isdelr/ark-warden/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the backup scheduler and the status poller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			// Set up WebSocket Hub
			hub := websocket.NewHub()
			go hub.Run()
			defer hub.Stop()

			a, err := newApp(cmd.Context(), cfg, hub)
			if err != nil {
				return err
			}
			defer a.Close()

			// Set up and run the background stats updater
			statUpdater := monitoring.NewStatUpdater(a.lifecycle, a.events, hub, cfg.BackupPath, cfg.StatusInterval)
			go statUpdater.Run()

			// Set up and run the background scheduler
			scheduler, err := monitoring.NewScheduler(cfg.BackupSchedule, a.lifecycle, a.events)
			if err != nil {
				statUpdater.Stop()
				return err
			}
			scheduler.Run()

			router := api.NewRouter(api.Deps{
				Hub:            hub,
				Table:          a.table,
				Lifecycle:      a.lifecycle,
				Backups:        a.backups,
				Events:         a.events,
				AllowedOrigins: cfg.AllowedOrigins,
			})

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Graceful shutdown
			serveErr := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.ListenAddr).Msg("Server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-serveErr:
				if err != nil {
					log.Error().Err(err).Msg("HTTP server failed")
				}
			}
			log.Info().Msg("Shutting down server...")

			statUpdater.Stop() // Stop the monitoring service
			scheduler.Stop()   // Waits for a scheduled backup in progress

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}

			log.Info().Msg("Server exiting")
			return nil
		},
	}
}

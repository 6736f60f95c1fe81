package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/isdelr/ark-warden/internal/commands"
	"github.com/isdelr/ark-warden/internal/config"
	"github.com/isdelr/ark-warden/internal/console"
	"github.com/isdelr/ark-warden/internal/database"
	"github.com/isdelr/ark-warden/internal/logger"
	"github.com/isdelr/ark-warden/internal/services"
	"github.com/isdelr/ark-warden/internal/storage"
)

// app holds the wired services shared by serve and exec.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	events    *services.EventService
	backups   *services.BackupService
	lifecycle *services.LifecycleService
	tunnel    *services.TunnelService
	table     *commands.Table
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger.Init(cfg.LogLevel)
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, reporter services.Reporter) (*app, error) {
	// Ensure the backup directory exists
	if err := os.MkdirAll(cfg.BackupPath, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply database migrations: %w", err)
	}

	var mirror storage.Mirror
	s3, err := storage.NewS3Mirror(ctx, cfg.Mirror)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize offsite mirror: %w", err)
	}
	if s3 != nil {
		mirror = s3
	}

	scripts, err := services.NewScriptRunner(cfg.ScriptInterpreter, cfg.ScriptTimeout)
	if err != nil {
		db.Close()
		return nil, err
	}

	dialect := console.DialectStrict
	if cfg.RCONLegacy {
		dialect = console.DialectLegacy
	}
	rcon := console.New(console.Config{
		Addr:     cfg.RCONAddr,
		Password: cfg.RCONPassword,
		Dialect:  dialect,
		Timeout:  cfg.RCONTimeout,
	})

	// Set up services
	eventService := services.NewEventService(db)
	backupService := services.NewBackupService(services.BackupConfig{
		SourceRoot:     cfg.DataDir,
		BackupPath:     cfg.BackupPath,
		MaxBackupCount: cfg.MaxBackupCount,
		Filter: services.AnyOf(
			services.ExcludeExtensions(cfg.BackupExcludeExts...),
			services.ExcludeGlobs(cfg.BackupExcludeGlobs...),
			services.KeepCanonical(cfg.CanonicalFiles...),
		),
	}, eventService, mirror)
	rollbackService := services.NewRollbackService(cfg.BackupPath, cfg.DataDir, eventService)
	lifecycleService := services.NewLifecycleService(rcon, backupService, rollbackService, scripts, eventService, reporter, services.LifecycleConfig{
		StartScript: cfg.StartScript,
	})
	tunnelService := services.NewTunnelService(services.TunnelConfig{
		CheckScript:   cfg.TunnelCheckScript,
		RestartScript: cfg.TunnelRestartScript,
		ProcessName:   cfg.TunnelProcessName,
	}, scripts, lifecycleService, eventService)

	return &app{
		cfg:       cfg,
		db:        db,
		events:    eventService,
		backups:   backupService,
		lifecycle: lifecycleService,
		tunnel:    tunnelService,
		table:     commands.NewTable(lifecycleService, backupService, tunnelService),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

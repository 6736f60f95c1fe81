package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	ListenAddr   string
	DatabasePath string
	LogLevel     string

	DataDir            string // Live save data of the game server
	BackupPath         string // One archive per snapshot
	MaxBackupCount     int
	BackupSchedule     string // cron spec for the periodic save+backup
	BackupExcludeExts  []string
	BackupExcludeGlobs []string
	CanonicalFiles     []string // Keep only these among same-named variants

	RCONAddr     string
	RCONPassword string
	RCONLegacy   bool
	RCONTimeout  time.Duration

	ScriptInterpreter   string
	ScriptTimeout       time.Duration
	StartScript         string
	TunnelRestartScript string
	TunnelCheckScript   string
	TunnelProcessName   string

	StatusInterval time.Duration
	AllowedOrigins []string

	Mirror MirrorConfig
}

// MirrorConfig configures the optional offsite copy of every archive.
type MirrorConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether an offsite mirror is configured.
func (m MirrorConfig) Enabled() bool {
	return m.Endpoint != "" && m.Bucket != ""
}

// Load loads configuration from an optional file, environment variables, and defaults.
// Environment variables use the upper-cased key, e.g. RCON_ADDR or BACKUP_PATH.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		ListenAddr:   v.GetString("listen_addr"),
		DatabasePath: v.GetString("database_path"),
		LogLevel:     v.GetString("log_level"),

		DataDir:            v.GetString("data_dir"),
		BackupPath:         v.GetString("backup_path"),
		MaxBackupCount:     v.GetInt("max_backup_count"),
		BackupSchedule:     v.GetString("backup_schedule"),
		BackupExcludeExts:  getList(v, "backup_exclude_exts"),
		BackupExcludeGlobs: getList(v, "backup_exclude_globs"),
		CanonicalFiles:     getList(v, "canonical_files"),

		RCONAddr:     v.GetString("rcon_addr"),
		RCONPassword: v.GetString("rcon_password"),
		RCONLegacy:   v.GetBool("rcon_legacy"),
		RCONTimeout:  v.GetDuration("rcon_timeout"),

		ScriptInterpreter:   v.GetString("script_interpreter"),
		ScriptTimeout:       v.GetDuration("script_timeout"),
		StartScript:         v.GetString("start_script"),
		TunnelRestartScript: v.GetString("tunnel_restart_script"),
		TunnelCheckScript:   v.GetString("tunnel_check_script"),
		TunnelProcessName:   v.GetString("tunnel_process_name"),

		StatusInterval: v.GetDuration("status_interval"),
		AllowedOrigins: getList(v, "allowed_origins"),

		Mirror: MirrorConfig{
			Endpoint:  v.GetString("mirror_endpoint"),
			AccessKey: v.GetString("mirror_access_key"),
			SecretKey: v.GetString("mirror_secret_key"),
			Bucket:    v.GetString("mirror_bucket"),
			UseSSL:    v.GetBool("mirror_use_ssl"),
		},
	}

	if cfg.RCONPassword == "" {
		if file := v.GetString("rcon_password_file"); file != "" {
			pass, err := readSecretFile(file)
			if err != nil {
				return nil, fmt.Errorf("read rcon password: %w", err)
			}
			cfg.RCONPassword = pass
		}
	}

	if cfg.MaxBackupCount < 1 {
		return nil, fmt.Errorf("max_backup_count must be at least 1, got %d", cfg.MaxBackupCount)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "127.0.0.1:8080")
	v.SetDefault("database_path", "./ark-warden.db")
	v.SetDefault("log_level", "info")

	v.SetDefault("data_dir", "./SavedArks")
	v.SetDefault("backup_path", "./backups")
	v.SetDefault("max_backup_count", 10)
	v.SetDefault("backup_schedule", "@every 1h")
	v.SetDefault("backup_exclude_exts", []string{"bak"})
	v.SetDefault("backup_exclude_globs", []string{})
	v.SetDefault("canonical_files", []string{"Fjordur.ark"})

	v.SetDefault("rcon_addr", "127.0.0.1:32330")
	v.SetDefault("rcon_password", "")
	v.SetDefault("rcon_password_file", "rcon_password")
	v.SetDefault("rcon_legacy", true)
	v.SetDefault("rcon_timeout", 5*time.Second)

	if runtime.GOOS == "windows" {
		v.SetDefault("script_interpreter", "powershell -NonInteractive -File")
		v.SetDefault("start_script", "scripts/start_ark_server.ps1")
		v.SetDefault("tunnel_restart_script", "scripts/restart_playit.ps1")
		v.SetDefault("tunnel_check_script", "scripts/check_connection.ps1")
	} else {
		v.SetDefault("script_interpreter", "/bin/sh")
		v.SetDefault("start_script", "scripts/start_ark_server.sh")
		v.SetDefault("tunnel_restart_script", "scripts/restart_playit.sh")
		v.SetDefault("tunnel_check_script", "")
	}
	v.SetDefault("script_timeout", 2*time.Minute)
	v.SetDefault("tunnel_process_name", "playit")

	v.SetDefault("status_interval", 15*time.Second)
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("mirror_endpoint", "")
	v.SetDefault("mirror_access_key", "")
	v.SetDefault("mirror_secret_key", "")
	v.SetDefault("mirror_bucket", "")
	v.SetDefault("mirror_use_ssl", false)
}

// getList accepts either a real list (config file) or a comma separated string (env).
func getList(v *viper.Viper, key string) []string {
	raw := v.GetStringSlice(key)
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// readSecretFile reads a one-line secret, dropping the trailing line terminator.
// A missing file is not an error: the password simply stays empty.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

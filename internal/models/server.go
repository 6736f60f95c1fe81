package models

import "fmt"

// ServerState is the coarse run state derived from a console query.
type ServerState string

const (
	StateUnknown ServerState = "unknown"
	StateStopped ServerState = "stopped"
	StateRunning ServerState = "running"
)

// ServerStatus is computed on demand and never cached.
type ServerStatus struct {
	State   ServerState `json:"state"`
	Players int         `json:"players"`
}

func (s ServerStatus) String() string {
	if s.State == StateRunning {
		return fmt.Sprintf("running (%d players)", s.Players)
	}
	return string(s.State)
}

// Stopped reports whether the server was observed as not running.
func (s ServerStatus) Stopped() bool { return s.State == StateStopped }

// SaveAttempt records the result of a single save command.
type SaveAttempt struct {
	Attempt  int    `json:"attempt"` // 1-based
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HostStats is a snapshot of the machine hosting the game server.
type HostStats struct {
	CPUPercent     float64 `json:"cpuPercent"`
	MemoryPercent  float64 `json:"memoryPercent"`
	BackupDiskFree uint64  `json:"backupDiskFree"`
}

// StatusReport is what the status poller broadcasts.
type StatusReport struct {
	Status ServerStatus `json:"status"`
	Host   HostStats    `json:"host"`
}

package models

import (
	"strings"
	"time"
)

// Backup represents one archive in the backup directory.
type Backup struct {
	Name      string    `json:"name"` // Timestamp-derived identifier, e.g. 2024-01-02_(15-04-05).zip
	Path      string    `json:"-"`    // Internal use, not exposed to client
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// ID returns the archive name without its extension.
func (b Backup) ID() string {
	return strings.TrimSuffix(b.Name, ArchiveExt)
}

// ArchiveExt is the extension carried by every backup archive.
const ArchiveExt = ".zip"

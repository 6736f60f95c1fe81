//go:build !linux && !windows

package services

import (
	"io/fs"
	"time"
)

// Birth time is not portable here; modification time stands in for it.
func creationTime(_ string, info fs.FileInfo) time.Time {
	return info.ModTime()
}

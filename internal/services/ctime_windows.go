//go:build windows

package services

import (
	"io/fs"
	"syscall"
	"time"
)

func creationTime(_ string, info fs.FileInfo) time.Time {
	if data, ok := info.Sys().(*syscall.Win32FileAttributeData); ok {
		return time.Unix(0, data.CreationTime.Nanoseconds())
	}
	return info.ModTime()
}

//go:build !linux

package fs

import (
	"os"
	"time"
)

func entryTimes(info os.FileInfo, _ string) entryTimestamps {
	mtime := info.ModTime().UTC()
	return entryTimestamps{creation: mtime, access: mtime}
}

func setEntryTimes(realPath string, access, write time.Time) error {
	if access.IsZero() || write.IsZero() {
		info, err := os.Stat(realPath)
		if err != nil {
			return err
		}
		if access.IsZero() {
			access = entryTimes(info, realPath).access
		}
		if write.IsZero() {
			write = info.ModTime()
		}
	}
	return os.Chtimes(realPath, access, write)
}

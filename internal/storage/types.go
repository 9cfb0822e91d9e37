// Package storage keeps the on-disk record of a running mirror session.
package storage

import (
	"time"

	"golang.org/x/sys/unix"
)

// SessionVersion is the current record layout.
const SessionVersion = 1

// Session describes the volume a process is serving.
type Session struct {
	Version    int       `yaml:"version"`
	Root       string    `yaml:"root"`
	MountPoint string    `yaml:"mount_point,omitempty"`
	Label      string    `yaml:"label"`
	VolumeID   uint32    `yaml:"volume_id"`
	PID        int       `yaml:"pid"`
	StartedAt  time.Time `yaml:"started_at"`
}

// Alive reports whether the process that wrote the record still runs.
func (s *Session) Alive() bool {
	if s.PID <= 0 {
		return false
	}
	err := unix.Kill(s.PID, 0)
	return err == nil || err == unix.EPERM
}

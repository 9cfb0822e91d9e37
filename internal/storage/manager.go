package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"mirrorfs/internal/logging"

	"github.com/alexflint/go-filemutex"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	logger = logging.GetLogger().WithPrefix("storage")
)

var (
	// ErrNoSession indicates no session record exists
	ErrNoSession = errors.New("no session record")

	// ErrInUse indicates another live process holds the state directory
	ErrInUse = errors.New("state directory in use")
)

const (
	sessionFile = "session.yaml"
	lockFile    = "session.lock"
	backupDir   = ".mirrorfs-backups"
)

// Manager creates and deletes the session record in a state directory.
// While a session exists the directory is held with an exclusive file lock.
type Manager struct {
	dir         string
	sessionPath string
	backupDir   string
	backupCount int
	lock        *filemutex.FileMutex
	held        bool
	mu          sync.Mutex
}

// NewManager prepares stateDir for session records. It ensures the
// directory exists and is writable.
func NewManager(stateDir string) (*Manager, error) {
	logger.Debug("Creating storage manager for: %s", stateDir)

	absDir, err := filepath.Abs(stateDir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve state directory %s", stateDir)
	}

	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create state directory %s", absDir)
	}

	backups := filepath.Join(absDir, backupDir)
	if err := os.MkdirAll(backups, 0755); err != nil {
		return nil, errors.Wrapf(err, "create backup directory %s", backups)
	}

	lock, err := filemutex.New(filepath.Join(absDir, lockFile))
	if err != nil {
		return nil, errors.Wrapf(err, "open lock in %s", absDir)
	}

	logger.Debug("Storage manager ready in %s", absDir)
	return &Manager{
		dir:         absDir,
		sessionPath: filepath.Join(absDir, sessionFile),
		backupDir:   backups,
		backupCount: 5,
		lock:        lock,
	}, nil
}

// Path returns the session record path.
func (m *Manager) Path() string {
	return m.sessionPath
}

// Create takes the state directory and writes session as its record.
// A record left by a process that is gone is backed up and replaced.
func (m *Manager) Create(session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held {
		if err := m.lock.TryLock(); err != nil {
			if existing, loadErr := m.load(); loadErr == nil {
				return errors.Wrapf(ErrInUse, "%s held by pid %d", m.dir, existing.PID)
			}
			return errors.Wrapf(ErrInUse, "%s", m.dir)
		}
		m.held = true
	}

	if existing, err := m.load(); err == nil {
		if existing.Alive() && existing.PID != os.Getpid() {
			logger.Warn("Session record names live pid %d but the lock was free", existing.PID)
		}
		logger.Info("Replacing stale session record from %s", existing.StartedAt.Format(time.RFC3339))
		if err := m.createBackup(); err != nil {
			logger.Warn("Failed to create backup: %v", err)
		}
	}

	if session.Version == 0 {
		session.Version = SessionVersion
	}
	if session.PID == 0 {
		session.PID = os.Getpid()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}

	if err := m.write(session); err != nil {
		m.releaseLock()
		return err
	}
	logger.Info("Created storage for %s", session.Root)
	return nil
}

// Save rewrites the record of the session created by this manager.
func (m *Manager) Save(session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held {
		return errors.Wrap(ErrNoSession, "save before create")
	}
	return m.write(session)
}

// Load reads the current session record.
func (m *Manager) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.load()
}

// Delete removes the session record and releases the state directory.
func (m *Manager) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.sessionPath)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove session record")
	}
	m.releaseLock()
	logger.Info("Deleted storage in %s", m.dir)
	return nil
}

func (m *Manager) releaseLock() {
	if !m.held {
		return
	}
	if err := m.lock.Unlock(); err != nil {
		logger.Warn("Failed to release state lock: %v", err)
	}
	m.held = false
}

func (m *Manager) load() (*Session, error) {
	data, err := os.ReadFile(m.sessionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, errors.Wrap(err, "read session record")
	}
	if len(data) == 0 {
		return nil, ErrNoSession
	}

	var session Session
	if err := yaml.Unmarshal(data, &session); err != nil {
		return nil, errors.Wrap(err, "parse session record")
	}
	return &session, nil
}

func (m *Manager) write(session *Session) error {
	data, err := yaml.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "marshal session record")
	}

	logger.Trace("Writing %d bytes of session data", len(data))
	tmp := m.sessionPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return errors.Wrap(err, "write session record")
	}
	if err := os.Rename(tmp, m.sessionPath); err != nil {
		return errors.Wrap(err, "replace session record")
	}
	return nil
}

// createBackup copies the current record into the backup directory.
func (m *Manager) createBackup() error {
	data, err := os.ReadFile(m.sessionPath)
	if err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102-150405.000000000")
	backupPath := filepath.Join(m.backupDir, fmt.Sprintf("session-%s.yaml", timestamp))

	logger.Debug("Creating backup: %s", backupPath)
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return errors.Wrap(err, "write backup")
	}

	return m.cleanupOldBackups()
}

// cleanupOldBackups keeps only the most recent backups.
func (m *Manager) cleanupOldBackups() error {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return err
	}

	type backup struct {
		path    string
		modTime time.Time
	}

	backups := make([]backup, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{
			path:    filepath.Join(m.backupDir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].modTime.Equal(backups[j].modTime) {
			return backups[i].path > backups[j].path
		}
		return backups[i].modTime.After(backups[j].modTime)
	})

	for i := m.backupCount; i < len(backups); i++ {
		logger.Debug("Removing old backup: %s", backups[i].path)
		if err := os.Remove(backups[i].path); err != nil {
			return errors.Wrapf(err, "remove old backup %s", backups[i].path)
		}
	}
	return nil
}

// Close releases the lock file descriptor.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releaseLock()
	return m.lock.Close()
}

// Package hosts manages the WeLink host account list used to obtain proxy tokens
package hosts

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/nicliuqi/test-opengauss-meetings/internal/logging"
)

// Credentials is the account a WeLink host signs in with
type Credentials struct {
	Account  string `yaml:"account"`
	Password string `yaml:"pwd"`
}

// Registry resolves host ids to credentials
type Registry interface {
	Lookup(hostID string) (Credentials, bool)
}

// Config holds configuration for the hosts manager
type Config struct {
	FilePath  string // Path to the YAML hosts file
	WatchFile bool   // Whether to reload the file when it changes
}

// Stats provides statistics about the loaded host list
type Stats struct {
	TotalHosts  int
	LastUpdated time.Time
	FilePath    string
	FileSize    int64
	IsWatching  bool
}

// Manager holds the host list loaded from a YAML file of host_id -> {account, pwd}
type Manager struct {
	config    Config
	hosts     map[string]Credentials
	mutex     sync.RWMutex
	watcher   *fsnotify.Watcher
	stopWatch chan struct{}
	closeOnce sync.Once
	stats     Stats
	logger    logging.Logger
}

var _ Registry = (*Manager)(nil)

// NewManager loads the hosts file and optionally watches it for changes
func NewManager(cfg Config) (*Manager, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("hosts file path cannot be empty")
	}

	m := &Manager{
		config:    cfg,
		hosts:     make(map[string]Credentials),
		stopWatch: make(chan struct{}),
		stats: Stats{
			FilePath:   cfg.FilePath,
			IsWatching: cfg.WatchFile,
		},
		logger: logging.GetDefaultLogger(),
	}

	if err := m.load(); err != nil {
		return nil, fmt.Errorf("failed to load hosts file: %w", err)
	}

	if cfg.WatchFile {
		if err := m.setupFileWatcher(); err != nil {
			return nil, fmt.Errorf("failed to setup file watcher: %w", err)
		}
	}
	return m, nil
}

// NewStatic creates a manager over a fixed host list
func NewStatic(hosts map[string]Credentials) *Manager {
	m := &Manager{
		hosts:     make(map[string]Credentials, len(hosts)),
		stopWatch: make(chan struct{}),
		logger:    logging.GetDefaultLogger(),
	}
	for id, creds := range hosts {
		m.hosts[id] = creds
	}
	m.stats.TotalHosts = len(m.hosts)
	m.stats.LastUpdated = time.Now()
	return m
}

// Lookup returns the credentials for hostID
func (m *Manager) Lookup(hostID string) (Credentials, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	creds, ok := m.hosts[hostID]
	return creds, ok
}

// HostIDs returns the configured host ids in sorted order
func (m *Manager) HostIDs() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ids := make([]string, 0, len(m.hosts))
	for id := range m.hosts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns statistics about the host list
func (m *Manager) Stats() Stats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.stats
}

// Reload re-reads the hosts file. The previous list is kept on error.
func (m *Manager) Reload() error {
	if m.config.FilePath == "" {
		return nil
	}
	return m.load()
}

// Close stops the file watcher
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopWatch)
		if m.watcher != nil {
			err = m.watcher.Close()
		}
	})
	return err
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read hosts file: %w", err)
	}

	var raw map[string]Credentials
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse hosts file: %w", err)
	}

	hosts := make(map[string]Credentials, len(raw))
	for id, creds := range raw {
		if creds.Account == "" || creds.Password == "" {
			m.logger.Warn("Skipping host %s without account or pwd", id)
			continue
		}
		hosts[id] = creds
	}

	m.mutex.Lock()
	m.hosts = hosts
	m.stats.TotalHosts = len(hosts)
	m.stats.LastUpdated = time.Now()
	m.stats.FileSize = int64(len(data))
	m.mutex.Unlock()
	return nil
}

func (m *Manager) setupFileWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(m.config.FilePath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}
	m.watcher = watcher

	go m.watchFileChanges()
	return nil
}

func (m *Manager) watchFileChanges() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				// let the writer finish
				time.Sleep(10 * time.Millisecond)
				if err := m.load(); err != nil {
					m.logger.Warn("Failed to reload hosts file %s: %v", m.config.FilePath, err)
					continue
				}
				m.logger.Info("Reloaded hosts file %s", m.config.FilePath)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Hosts file watcher error: %v", err)

		case <-m.stopWatch:
			return
		}
	}
}

package store

import (
	"log/slog"
	"strings"
	"sync"
)

const (
	keySourcePreference = "source"
	hostKeyPrefix       = "host:"
)

// Preferences holds the viewer's sticky choices
type Preferences struct {
	db     *DB
	logger *slog.Logger

	mu     sync.RWMutex
	source string
	hosts  map[string]bool
}

// NewPreferences loads preferences from db
func NewPreferences(db *DB, logger *slog.Logger) *Preferences {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Preferences{db: db, logger: logger, hosts: make(map[string]bool)}

	err := db.forEach(bucketPreferences, func(key string, value []byte) {
		switch {
		case key == keySourcePreference:
			p.source = string(value)
		case strings.HasPrefix(key, hostKeyPrefix):
			p.hosts[strings.TrimPrefix(key, hostKeyPrefix)] = true
		}
	})
	if err != nil {
		logger.Warn("failed to load preferences, using defaults", "error", err)
		p.source = ""
		p.hosts = make(map[string]bool)
	}
	return p
}

// SourcePreference returns the last successfully chosen source id
func (p *Preferences) SourcePreference() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.source
}

// SetSourcePreference persists id as the preferred source
func (p *Preferences) SetSourcePreference(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	p.mu.Lock()
	if p.source == id {
		p.mu.Unlock()
		return
	}
	p.source = id
	p.mu.Unlock()

	if err := p.db.put(bucketPreferences, keySourcePreference, []byte(id)); err != nil {
		p.logger.Warn("failed to persist source preference", "error", err, "source", id)
	}
}

// HostAuthorized reports whether the viewer already allowed streaming from host
func (p *Preferences) HostAuthorized(host string) bool {
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hosts[host]
}

// RememberHost records the viewer's authorization for host
func (p *Preferences) RememberHost(host string) {
	host = normalizeHost(host)
	if host == "" {
		return
	}
	p.mu.Lock()
	p.hosts[host] = true
	p.mu.Unlock()

	if err := p.db.put(bucketPreferences, hostKeyPrefix+host, []byte{1}); err != nil {
		p.logger.Warn("failed to persist authorized host", "error", err, "host", host)
	}
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

package store

import (
	"log/slog"
	"strings"
	"sync"
)

const membershipSep = "\x00"

// MembershipCache remembers whether an item is in a collection. It is
// advisory: callers confirm against the backend when an entry is unknown.
type MembershipCache struct {
	db     *DB
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]bool
}

// NewMembershipCache loads known memberships from db
func NewMembershipCache(db *DB, logger *slog.Logger) *MembershipCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &MembershipCache{db: db, logger: logger, entries: make(map[string]bool)}

	err := db.forEach(bucketMembership, func(key string, value []byte) {
		if len(value) == 1 && strings.Contains(key, membershipSep) {
			c.entries[key] = value[0] == 1
		}
	})
	if err != nil {
		logger.Warn("failed to load membership cache, starting empty", "error", err)
		c.entries = make(map[string]bool)
	}
	return c
}

func membershipKey(collectionID, id string) string {
	return collectionID + membershipSep + id
}

// Read returns the cached membership. known is false when no entry exists.
func (c *MembershipCache) Read(collectionID, id string) (member, known bool) {
	if collectionID == "" || id == "" {
		return false, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	member, known = c.entries[membershipKey(collectionID, id)]
	return member, known
}

// Write records a confirmed membership
func (c *MembershipCache) Write(collectionID, id string, member bool) {
	if collectionID == "" || id == "" {
		return
	}
	key := membershipKey(collectionID, id)

	c.mu.Lock()
	c.entries[key] = member
	c.mu.Unlock()

	value := []byte{0}
	if member {
		value[0] = 1
	}
	if err := c.db.put(bucketMembership, key, value); err != nil {
		c.logger.Warn("failed to persist membership", "error", err, "collection", collectionID, "identity", id)
	}
}

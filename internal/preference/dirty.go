package preference

import (
	"sort"
	"sync"
)

// DirtyTracker tracks which users have pending profile changes.
// Thread-safe for concurrent access.
type DirtyTracker struct {
	mu    sync.RWMutex
	dirty map[string]struct{}
}

// NewDirtyTracker creates a new DirtyTracker instance.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{dirty: make(map[string]struct{})}
}

// MarkDirty marks a user as needing a profile recompute.
func (t *DirtyTracker) MarkDirty(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty[userID] = struct{}{}
}

// ClearDirty removes the dirty flag for a user.
func (t *DirtyTracker) ClearDirty(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.dirty, userID)
}

// GetDirtyUsers returns the dirty user IDs in ascending order.
func (t *DirtyTracker) GetDirtyUsers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.dirty))
	for id := range t.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsDirty checks if a specific user is marked as dirty.
func (t *DirtyTracker) IsDirty(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.dirty[userID]
	return ok
}

// DirtyCount returns the number of users marked as dirty.
func (t *DirtyTracker) DirtyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.dirty)
}

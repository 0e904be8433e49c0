// Package presence tracks who is online and who is typing. Both sets are
// rebuilt from scratch on every connection; nothing here survives a session.
package presence

import (
	"sync"
	"time"
)

// DefaultTypingExpiry bounds how long a typing indicator may live without a
// refresh. It matches the server-side guard, so a lost stop event can never
// leave a stale "is typing" hint for more than one window.
const DefaultTypingExpiry = 3 * time.Second

type typingKey struct {
	userID string
	scope  string // group id, or "" for direct
}

type typingEntry struct {
	timer *time.Timer
}

type Tracker struct {
	mu     sync.RWMutex
	online map[string]bool
	typing map[typingKey]*typingEntry
	expiry time.Duration

	// afterFunc is swappable so tests can drive expiry without sleeping.
	afterFunc func(time.Duration, func()) *time.Timer
}

func NewTracker() *Tracker {
	return &Tracker{
		online:    make(map[string]bool),
		typing:    make(map[typingKey]*typingEntry),
		expiry:    DefaultTypingExpiry,
		afterFunc: time.AfterFunc,
	}
}

// SetExpiry overrides the typing expiry window. Zero or negative values are
// ignored.
func (t *Tracker) SetExpiry(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.expiry = d
	t.mu.Unlock()
}

// SetOnline adds or removes a user from the online set.
func (t *Tracker) SetOnline(userID string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		t.online[userID] = true
	} else {
		delete(t.online, userID)
	}
}

// SeedOnline replaces the online set wholesale, e.g. from the REST snapshot
// taken after a reconnect.
func (t *Tracker) SeedOnline(userIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		t.online[id] = true
	}
}

func (t *Tracker) IsUserOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID]
}

// StartTyping records (or refreshes) a typing entry. The entry expires on its
// own after the tracker's window unless refreshed or stopped first.
func (t *Tracker) StartTyping(userID, groupID string) {
	key := typingKey{userID: userID, scope: groupID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.typing[key]; ok {
		entry.timer.Reset(t.expiry)
		return
	}
	entry := &typingEntry{}
	entry.timer = t.afterFunc(t.expiry, func() { t.expire(key) })
	t.typing[key] = entry
}

// StopTyping removes a typing entry and cancels its expiry timer.
func (t *Tracker) StopTyping(userID, groupID string) {
	key := typingKey{userID: userID, scope: groupID}

	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.typing[key]; ok {
		entry.timer.Stop()
		delete(t.typing, key)
	}
}

// IsUserTyping reports whether a user is typing. With no conversation key it
// matches any direct-message typing entry for the user; with a key it also
// accepts a matching group scope.
func (t *Tracker) IsUserTyping(userID string, conversationKey ...string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.typing[typingKey{userID: userID}]; ok {
		return true
	}
	for _, key := range conversationKey {
		if _, ok := t.typing[typingKey{userID: userID, scope: key}]; ok {
			return true
		}
	}
	return false
}

// Reset drops all presence and typing state, cancelling outstanding timers.
// Called when the connection is lost.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]bool)
	for key, entry := range t.typing {
		entry.timer.Stop()
		delete(t.typing, key)
	}
}

func (t *Tracker) expire(key typingKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.typing, key)
}

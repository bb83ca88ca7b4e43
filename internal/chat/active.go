package chat

import "sync"

// Tracker records which conversation, if any, is currently open on screen.
// Notification routing consults it to suppress redundant alerts for the
// thread the user is already looking at. No history is kept.
type Tracker struct {
	mu     sync.Mutex
	active string
}

// NewTracker builds an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// SetActive overwrites the current value.
func (t *Tracker) SetActive(conversationID string) {
	t.mu.Lock()
	t.active = conversationID
	t.mu.Unlock()
}

// Clear marks no conversation as open.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.active = ""
	t.mu.Unlock()
}

// Active returns the open conversation id, if any.
func (t *Tracker) Active() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active, t.active != ""
}

package timeline

import (
	"sync"

	"log/slog"

	"fpchat/pkg/models"
	"fpchat/pkg/paging"
)

// Session owns one conversation's in-memory timeline together with its
// pagination tracker and the send single-flight guard. Merges are atomic
// with respect to snapshots; a batch tagged with a different conversation ID
// (a response that arrived after switch-away) is discarded, never merged.
type Session struct {
	mu     sync.Mutex
	convID string
	merger Merger
	msgs   []models.CanonicalMessage
	pager  *paging.Tracker

	sendInFlight bool
}

// NewSession creates an empty session for a conversation.
func NewSession(convID string, merger Merger) *Session {
	return &Session{convID: convID, merger: merger, pager: paging.New()}
}

// ConversationID returns the conversation this session belongs to.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// Pager returns the session's cursor tracker.
func (s *Session) Pager() *paging.Tracker { return s.pager }

// Apply merges a batch into the timeline. It reports false when the batch
// was addressed to a different conversation and has been discarded.
func (s *Session) Apply(convID string, batch []models.CanonicalMessage, dir InsertDirection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if convID != s.convID {
		slog.Debug("merge_discarded_stale", "want", s.convID, "got", convID, "count", len(batch))
		return false
	}
	s.msgs = s.merger.Merge(s.msgs, batch, dir)
	return true
}

// Snapshot returns a copy of the current timeline.
func (s *Session) Snapshot() []models.CanonicalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CanonicalMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of records in the timeline.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// TryBeginSend acquires the single-flight send guard; false means a send is
// already in flight for this conversation.
func (s *Session) TryBeginSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendInFlight {
		return false
	}
	s.sendInFlight = true
	return true
}

// EndSend releases the send guard.
func (s *Session) EndSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendInFlight = false
}

// Manager hands out sessions per conversation and tracks the active one.
// Selecting a different conversation resets that conversation's pagination
// state; timelines for inactive conversations are kept for the process
// lifetime (the retention sweep evicts stale cache entries separately).
type Manager struct {
	mu       sync.Mutex
	merger   Merger
	sessions map[string]*Session
	active   string
}

func NewManager(merger Merger) *Manager {
	return &Manager{merger: merger, sessions: map[string]*Session{}}
}

// Get returns the session for a conversation, creating it on first use.
func (m *Manager) Get(convID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(convID)
}

func (m *Manager) getLocked(convID string) *Session {
	s, ok := m.sessions[convID]
	if !ok {
		s = NewSession(convID, m.merger)
		m.sessions[convID] = s
	}
	return s
}

// Select makes a conversation active. On an identity change the new
// conversation's cursor state is reset so history is re-fetched from the
// top; re-selecting the already-active conversation is a no-op.
func (m *Manager) Select(convID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getLocked(convID)
	if m.active != convID {
		m.active = convID
		s.Pager().Reset()
	}
	return s
}

// Active returns the active conversation ID ("" when none selected).
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Deselect clears the active conversation.
func (m *Manager) Deselect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = ""
}

// Conversations lists the conversation IDs with live sessions.
func (m *Manager) Conversations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// Drop removes a conversation's session entirely.
func (m *Manager) Drop(convID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, convID)
	if m.active == convID {
		m.active = ""
	}
}

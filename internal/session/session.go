// Package session holds the mutable client-side session state: the
// authenticated user, the selected conversation, and the model binding for the
// next conversation to be created.
package session

import (
	"strings"
	"sync"

	"github.com/verdantchat/chatsync/internal/model"
	"github.com/verdantchat/chatsync/pkg/logger"
)

// Session is safe for concurrent use. It implements the selection surface the
// conversation cache coordinates with on delete.
type Session struct {
	logger *logger.Logger

	mu            sync.Mutex
	user          *model.User
	selectedID    string
	modelName     string
	modelProvider string
	sendInFlight  bool
}

func New(log *logger.Logger) *Session {
	return &Session{logger: log}
}

// SetUser records the authenticated user. A nil user means signed out.
func (s *Session) SetUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

// User returns the authenticated user, or nil when signed out.
func (s *Session) User() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Select sets the selected conversation. A blank or whitespace id is rejected
// and clears the selection instead, so downstream reads never target an empty
// id.
func (s *Session) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(id) == "" {
		s.logger.Warn("rejecting blank conversation selection, clearing")
		s.selectedID = ""
		return
	}
	s.selectedID = id
}

// SelectedID returns the selected conversation id, or "" when none.
func (s *Session) SelectedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// BindModel records which model the next created conversation uses.
func (s *Session) BindModel(name, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelName = name
	s.modelProvider = provider
}

// Model returns the bound model name and provider.
func (s *Session) Model() (name, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelName, s.modelProvider
}

// ModelLabel returns the display label for the bound model, or "" when none
// is bound.
func (s *Session) ModelLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modelName == "" {
		return ""
	}
	return model.Label(s.modelName, s.modelProvider)
}

// BeginSend marks a send as in flight for UI purposes. It reports false when
// one is already outstanding.
func (s *Session) BeginSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendInFlight {
		return false
	}
	s.sendInFlight = true
	return true
}

// EndSend clears the in-flight marker.
func (s *Session) EndSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendInFlight = false
}

// SendInFlight reports whether a send is outstanding.
func (s *Session) SendInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendInFlight
}

// Clear atomically resets the selection, the model binding, and the in-flight
// flag. Invoked on delete and on not-found recovery so no stale selection
// survives a removed conversation.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedID = ""
	s.modelName = ""
	s.modelProvider = ""
	s.sendInFlight = false
}

// Reset clears all session state including the user, used on logout.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.selectedID = ""
	s.modelName = ""
	s.modelProvider = ""
	s.sendInFlight = false
}

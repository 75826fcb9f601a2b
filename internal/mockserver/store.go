// Package mockserver is an in-memory stand-in for the chat backend. It serves
// the same HTTP surface the client speaks, backed by maps instead of a
// database, and is used by the test suite and the mockserver binary.
package mockserver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdantchat/chatsync/internal/model"
)

// Store is the in-memory conversation state behind the mock backend.
type Store struct {
	mu            sync.RWMutex
	user          model.User
	conversations map[string]*model.Conversation
}

// NewStore creates a store with one canned account.
func NewStore() *Store {
	now := time.Now().UTC()
	return &Store{
		user: model.User{
			ID:        1,
			Name:      "Ada Example",
			Email:     "ada@example.test",
			CreatedAt: now,
			UpdatedAt: now,
		},
		conversations: make(map[string]*model.Conversation),
	}
}

// User returns the canned account.
func (s *Store) User() model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// CreateConversation creates and stores a conversation.
func (s *Store) CreateConversation(modelName, modelProvider, title string) *model.Conversation {
	now := time.Now().UTC()
	if strings.TrimSpace(title) == "" {
		title = model.DefaultTitle
	}

	conv := &model.Conversation{
		ID:            uuid.Must(uuid.NewV7()).String(),
		UserID:        s.user.ID,
		Title:         title,
		ModelName:     modelName,
		ModelProvider: modelProvider,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()
	return conv.Clone()
}

// GetConversation returns a conversation with its messages, or false when it
// does not exist.
func (s *Store) GetConversation(id string) (*model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

// ListConversations returns summaries ordered by most recent activity.
// Summaries omit the message history but carry the last message.
func (s *Store) ListConversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		summary := *conv.Clone()
		summary.Messages = nil
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// UpdateTitle renames a conversation.
func (s *Store) UpdateTitle(id, title string) (*model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	conv.Title = title
	conv.UpdatedAt = time.Now().UTC()
	return conv.Clone(), true
}

// DeleteConversation removes a conversation. It reports whether it existed.
func (s *Store) DeleteConversation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return false
	}
	delete(s.conversations, id)
	return true
}

// AppendExchange finalizes one send: it stores the user message and a canned
// assistant reply, updates the conversation metadata, and returns the pair.
func (s *Store) AppendExchange(conversationID, content string) (*model.SendResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, false
	}

	now := time.Now().UTC()
	userMsg := model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Content:        content,
		Role:           model.RoleUser,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	modelName := conv.ModelName
	asstMsg := model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Content:        replyFor(content),
		Role:           model.RoleAssistant,
		ModelName:      &modelName,
		CreatedAt:      now.Add(time.Millisecond),
		UpdatedAt:      now.Add(time.Millisecond),
	}

	conv.Messages = append(conv.Messages, userMsg, asstMsg)
	conv.MessageCount = len(conv.Messages)
	last := asstMsg
	conv.LastMessage = &last
	conv.UpdatedAt = asstMsg.CreatedAt

	return &model.SendResult{
		UserMessage:      userMsg,
		AssistantMessage: asstMsg,
		Usage: &model.Usage{
			PromptTokens:     len(strings.Fields(content)),
			CompletionTokens: len(strings.Fields(asstMsg.Content)),
			TotalTokens:      len(strings.Fields(content)) + len(strings.Fields(asstMsg.Content)),
		},
	}, true
}

// replyFor produces a deterministic assistant reply, useful for asserting on
// streamed output.
func replyFor(content string) string {
	return fmt.Sprintf("Echo: %s", strings.TrimSpace(content))
}

// ReplyTokens splits the canned reply into the tokens the streaming endpoint
// emits, whitespace included.
func ReplyTokens(content string) []string {
	reply := replyFor(content)
	fields := strings.Fields(reply)
	tokens := make([]string, 0, len(fields))
	for i, f := range fields {
		if i > 0 {
			tokens = append(tokens, " "+f)
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

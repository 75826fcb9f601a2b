package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message belongs to exactly one conversation. Messages are append-only from
// the client's point of view; the only mutation is the replacement of an
// optimistic message by its backend-issued counterpart.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	Role           Role      `json:"role"`
	ModelName      *string   `json:"model_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OptimisticIDPrefix marks locally synthesized message identifiers. The backend
// never issues identifiers with this prefix, so prefix-matching is sufficient
// to find and remove optimistic messages during reconciliation.
const OptimisticIDPrefix = "temp-"

// NewOptimisticID returns a fresh identifier for an optimistic message.
func NewOptimisticID() string {
	return OptimisticIDPrefix + uuid.NewString()
}

// IsOptimisticID reports whether id was synthesized locally.
func IsOptimisticID(id string) bool {
	return strings.HasPrefix(id, OptimisticIDPrefix)
}

// NewOptimisticMessage builds the transient user message inserted into the
// cache before a send is confirmed.
func NewOptimisticMessage(conversationID, content string) Message {
	now := time.Now()
	return Message{
		ID:             NewOptimisticID(),
		ConversationID: conversationID,
		Content:        content,
		Role:           RoleUser,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Usage is the token accounting the backend attaches to a completed send.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// SendResult is the terminal outcome of a message send: the authoritative user
// and assistant messages, in that order, plus optional usage accounting.
type SendResult struct {
	UserMessage      Message `json:"user_message"`
	AssistantMessage Message `json:"assistant_message"`
	Usage            *Usage  `json:"usage,omitempty"`
}

// Attachment is a file part included with a send.
type Attachment struct {
	Name    string
	Content []byte
}

// SendOptions carries the optional parts of a send request.
type SendOptions struct {
	ModelName     string
	ModelProvider string
	Attachments   []Attachment
}

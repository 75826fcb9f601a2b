package model

import (
	"time"
)

// DefaultTitle is used when a conversation is created without an explicit title.
const DefaultTitle = "New Chat"

// Conversation represents a conversation thread bound to one model/provider pair.
// Messages is only populated on detail reads; list reads carry LastMessage and
// MessageCount instead.
type Conversation struct {
	ID            string    `json:"id"`
	UserID        int64     `json:"user_id,omitempty"`
	Title         string    `json:"title"`
	ModelName     string    `json:"model_name"`
	ModelProvider string    `json:"model_provider"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Messages      []Message `json:"messages,omitempty"`
	LastMessage   *Message  `json:"last_message,omitempty"`
	MessageCount  int       `json:"message_count,omitempty"`
}

// ModelLabel returns the model-binding label for the conversation, in the
// "<model_name>-<model_provider>" form the presentation layer displays.
func (c *Conversation) ModelLabel() string {
	return Label(c.ModelName, c.ModelProvider)
}

// Label builds a model-binding label from a model name and provider.
func Label(modelName, modelProvider string) string {
	return modelName + "-" + modelProvider
}

// Clone returns a deep copy of the conversation. Snapshots taken before an
// optimistic mutation use this so a rollback restores the exact prior state.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		copy(out.Messages, c.Messages)
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

// CreateConversationRequest is the request body for creating a conversation.
type CreateConversationRequest struct {
	ModelName     string `json:"model_name"`
	ModelProvider string `json:"model_provider"`
	Title         string `json:"title"`
}

// UpdateConversationRequest is the request body for renaming a conversation.
type UpdateConversationRequest struct {
	Title string `json:"title"`
}

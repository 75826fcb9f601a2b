package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/verdantchat/chatsync/internal/model"
)

type conversationEnvelope struct {
	Data model.Conversation `json:"data"`
}

type conversationListEnvelope struct {
	Data []model.Conversation `json:"data"`
}

// ListConversations fetches conversation summaries, most recent first.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	body, err := c.doRead(ctx, "list_conversations", "/api/conversations")
	if err != nil {
		return nil, err
	}

	var env conversationListEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode conversation list: %w", err)
	}
	return env.Data, nil
}

// GetConversation fetches one conversation with its full message history.
func (c *Client) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	body, err := c.doRead(ctx, "get_conversation", "/api/conversations/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	var env conversationEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &env.Data, nil
}

// CreateConversation creates a conversation for the given model. A blank title
// falls back to the default.
func (c *Client) CreateConversation(ctx context.Context, modelName, modelProvider, title string) (*model.Conversation, error) {
	if strings.TrimSpace(modelName) == "" || strings.TrimSpace(modelProvider) == "" {
		return nil, fmt.Errorf("%w: model name and provider are required", ErrValidation)
	}
	if strings.TrimSpace(title) == "" {
		title = model.DefaultTitle
	}

	payload, err := json.Marshal(model.CreateConversationRequest{
		ModelName:     modelName,
		ModelProvider: modelProvider,
		Title:         title,
	})
	if err != nil {
		return nil, fmt.Errorf("encode create request: %w", err)
	}

	body, err := c.do(ctx, "create_conversation", http.MethodPost, "/api/conversations", payload, "application/json")
	if err != nil {
		return nil, err
	}

	var env conversationEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &env.Data, nil
}

// DeleteConversation deletes a conversation. Deletes are never retried.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	_, err := c.do(ctx, "delete_conversation", http.MethodDelete, "/api/conversations/"+url.PathEscape(id), nil, "")
	return err
}

// UpdateConversationTitle renames a conversation and returns the updated copy.
func (c *Client) UpdateConversationTitle(ctx context.Context, id, title string) (*model.Conversation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}

	payload, err := json.Marshal(model.UpdateConversationRequest{Title: title})
	if err != nil {
		return nil, fmt.Errorf("encode update request: %w", err)
	}

	body, err := c.do(ctx, "update_conversation", http.MethodPatch, "/api/conversations/"+url.PathEscape(id), payload, "application/json")
	if err != nil {
		return nil, err
	}

	var env conversationEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &env.Data, nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	return nil
}

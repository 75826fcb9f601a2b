package api

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantchat/chatsync/internal/config"
	"github.com/verdantchat/chatsync/internal/mockserver"
	"github.com/verdantchat/chatsync/internal/model"
	"github.com/verdantchat/chatsync/internal/stream"
	"github.com/verdantchat/chatsync/pkg/logger"
)

func newTestClient(t *testing.T) (*Client, *mockserver.Server) {
	t.Helper()

	cfg := &config.Config{
		MockRateLimitRequests: 1000,
		MockRateLimitWindow:   time.Minute,
	}
	srv := mockserver.New(mockserver.NewStore(), cfg, logger.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	client, err := New(&config.Config{
		BaseURL:        ts.URL,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     2,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}, logger.NewNop())
	require.NoError(t, err)

	return client, srv
}

func TestCurrentUser(t *testing.T) {
	client, _ := newTestClient(t)

	user, err := client.CurrentUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Ada Example", user.Name)
	assert.Equal(t, "ada@example.test", user.Email)
}

func TestCurrentUserUnauthenticatedIsNotAnError(t *testing.T) {
	client, _ := newTestClient(t)

	require.NoError(t, client.Logout(context.Background()))

	user, err := client.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestCreateConversationDefaultsTitle(t *testing.T) {
	client, _ := newTestClient(t)

	conv, err := client.CreateConversation(context.Background(), "claude-3-5-sonnet", "anthropic", "  ")
	require.NoError(t, err)

	assert.Equal(t, model.DefaultTitle, conv.Title)
	assert.Equal(t, "claude-3-5-sonnet-anthropic", conv.ModelLabel())
	assert.NotEmpty(t, conv.ID)
}

func TestCreateConversationRequiresModel(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.CreateConversation(context.Background(), "", "anthropic", "x")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetConversationNotFound(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.GetConversation(context.Background(), "does-not-exist")
	assert.True(t, IsNotFound(err))
}

func TestListRetriesTransientFailures(t *testing.T) {
	client, srv := newTestClient(t)

	_, err := client.CreateConversation(context.Background(), "gpt-4o", "openai", "Retry me")
	require.NoError(t, err)

	srv.FailListCount = 2
	list, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Retry me", list[0].Title)
}

func TestSendMessage(t *testing.T) {
	client, _ := newTestClient(t)

	conv, err := client.CreateConversation(context.Background(), "gpt-4o", "openai", "")
	require.NoError(t, err)

	result, err := client.SendMessage(context.Background(), conv.ID, "hello world", model.SendOptions{})
	require.NoError(t, err)

	assert.Equal(t, "hello world", result.UserMessage.Content)
	assert.Equal(t, model.RoleUser, result.UserMessage.Role)
	assert.Equal(t, "Echo: hello world", result.AssistantMessage.Content)
	assert.Equal(t, model.RoleAssistant, result.AssistantMessage.Role)
	require.NotNil(t, result.AssistantMessage.ModelName)
	assert.Equal(t, "gpt-4o", *result.AssistantMessage.ModelName)
	require.NotNil(t, result.Usage)
	assert.Greater(t, result.Usage.TotalTokens, 0)

	// The exchange is persisted.
	fetched, err := client.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Messages, 2)
}

func TestSendMessageStream(t *testing.T) {
	client, _ := newTestClient(t)

	conv, err := client.CreateConversation(context.Background(), "gpt-4o", "openai", "")
	require.NoError(t, err)

	var b strings.Builder
	result, err := client.SendMessageStream(context.Background(), conv.ID, "hello", model.SendOptions{}, func(content string) {
		b.WriteString(content)
	})
	require.NoError(t, err)

	assert.Equal(t, "Echo: hello", b.String())
	assert.Equal(t, "Echo: hello", result.AssistantMessage.Content)
	assert.Equal(t, "hello", result.UserMessage.Content)
}

func TestSendMessageStreamWithAttachment(t *testing.T) {
	client, _ := newTestClient(t)

	conv, err := client.CreateConversation(context.Background(), "gpt-4o", "openai", "")
	require.NoError(t, err)

	opts := model.SendOptions{
		Attachments: []model.Attachment{{Name: "notes.txt", Content: []byte("attached")}},
	}
	result, err := client.SendMessageStream(context.Background(), conv.ID, "see attachment", opts, nil)
	require.NoError(t, err)
	assert.Equal(t, "see attachment", result.UserMessage.Content)
}

func TestSendMessageStreamMidStreamError(t *testing.T) {
	client, srv := newTestClient(t)

	conv, err := client.CreateConversation(context.Background(), "gpt-4o", "openai", "")
	require.NoError(t, err)

	srv.MidStreamError = "model overloaded"
	_, err = client.SendMessageStream(context.Background(), conv.ID, "hello", model.SendOptions{}, nil)

	var streamErr *stream.Error
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "model overloaded", streamErr.Message)
}

func TestSendMessageStreamTruncated(t *testing.T) {
	client, srv := newTestClient(t)

	conv, err := client.CreateConversation(context.Background(), "gpt-4o", "openai", "")
	require.NoError(t, err)

	srv.TruncateStream = true
	_, err = client.SendMessageStream(context.Background(), conv.ID, "hello", model.SendOptions{}, nil)
	assert.ErrorIs(t, err, stream.ErrIncompleteStream)
}

func TestSendMessageRejectedIsNotRetried(t *testing.T) {
	client, srv := newTestClient(t)

	conv, err := client.CreateConversation(context.Background(), "gpt-4o", "openai", "")
	require.NoError(t, err)

	srv.FailSendStatus = 500
	_, err = client.SendMessage(context.Background(), conv.ID, "hello", model.SendOptions{})

	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 500, re.Status)

	// The failed send left nothing behind.
	srv.FailSendStatus = 0
	fetched, err := client.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, fetched.Messages)
}

func TestSendMessageValidation(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.SendMessage(context.Background(), "", "hello", model.SendOptions{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = client.SendMessage(context.Background(), "c1", "   ", model.SendOptions{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteAndRename(t *testing.T) {
	client, _ := newTestClient(t)

	conv, err := client.CreateConversation(context.Background(), "gpt-4o", "openai", "First")
	require.NoError(t, err)

	renamed, err := client.UpdateConversationTitle(context.Background(), conv.ID, "Second")
	require.NoError(t, err)
	assert.Equal(t, "Second", renamed.Title)

	require.NoError(t, client.DeleteConversation(context.Background(), conv.ID))

	_, err = client.GetConversation(context.Background(), conv.ID)
	assert.True(t, IsNotFound(err))

	err = client.DeleteConversation(context.Background(), conv.ID)
	assert.True(t, IsNotFound(err))
}

func TestNotFoundIsPermanentNotRetried(t *testing.T) {
	client, _ := newTestClient(t)

	start := time.Now()
	_, err := client.GetConversation(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
	// A permanent classification returns without burning retry attempts.
	assert.Less(t, time.Since(start), time.Second)

	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
}

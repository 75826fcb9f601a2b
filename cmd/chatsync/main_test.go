package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantchat/chatsync/internal/api"
	"github.com/verdantchat/chatsync/internal/cache"
	"github.com/verdantchat/chatsync/internal/config"
	"github.com/verdantchat/chatsync/internal/mockserver"
	"github.com/verdantchat/chatsync/internal/model"
	"github.com/verdantchat/chatsync/internal/session"
	"github.com/verdantchat/chatsync/pkg/logger"
)

func newTestApp(t *testing.T) *app {
	t.Helper()

	cfg := &config.Config{
		MockRateLimitRequests: 1000,
		MockRateLimitWindow:   time.Minute,
	}
	srv := mockserver.New(mockserver.NewStore(), cfg, logger.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	client, err := api.New(&config.Config{
		BaseURL:        ts.URL,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     1,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}, logger.NewNop())
	require.NoError(t, err)

	sess := session.New(logger.NewNop())
	return &app{
		client:  client,
		store:   cache.NewStore(client, sess, time.Minute, 30*time.Second, logger.NewNop()),
		session: sess,
	}
}

func TestLogoutClearsSessionStateAndEndsBackendSession(t *testing.T) {
	a := newTestApp(t)
	a.session.SetUser(&model.User{ID: 1, Name: "Ada"})
	a.session.Select("conv-1")
	a.session.BindModel("gpt-4o", "openai")

	require.NoError(t, a.logout(context.Background()))

	assert.Nil(t, a.session.User())
	assert.Equal(t, "", a.session.SelectedID())
	assert.Equal(t, "", a.session.ModelLabel())

	// The backend session ended too.
	user, err := a.client.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
}

package mockserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantchat/chatsync/internal/config"
	"github.com/verdantchat/chatsync/pkg/logger"
)

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *http.Client) {
	t.Helper()

	if cfg == nil {
		cfg = &config.Config{
			MockRateLimitRequests: 1000,
			MockRateLimitWindow:   time.Minute,
		}
	}
	srv := New(NewStore(), cfg, logger.NewNop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return ts, &http.Client{Jar: jar}
}

// handshake fetches the CSRF cookie and returns the decoded token.
func handshake(t *testing.T, ts *httptest.Server, client *http.Client) string {
	t.Helper()

	resp, err := client.Get(ts.URL + "/sanctum/csrf-cookie")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == "XSRF-TOKEN" {
			token, err := url.QueryUnescape(c.Value)
			require.NoError(t, err)
			return token
		}
	}
	t.Fatal("XSRF-TOKEN cookie not set by handshake")
	return ""
}

func TestMutatingRequestWithoutTokenIsRejected(t *testing.T) {
	ts, client := newTestServer(t, nil)
	handshake(t, ts, client)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/conversations", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, statusCSRFMismatch, resp.StatusCode)
}

func TestMutatingRequestWithBogusTokenIsRejected(t *testing.T) {
	ts, client := newTestServer(t, nil)
	handshake(t, ts, client)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/conversations", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-XSRF-TOKEN", "forged")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, statusCSRFMismatch, resp.StatusCode)
}

func TestMutatingRequestWithValidTokenSucceeds(t *testing.T) {
	ts, client := newTestServer(t, nil)
	token := handshake(t, ts, client)

	body := `{"model_name":"gpt-4o","model_provider":"openai","title":"Hello"}`
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/conversations", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-XSRF-TOKEN", token)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestNotFoundBody(t *testing.T) {
	ts, client := newTestServer(t, nil)

	resp, err := client.Get(ts.URL + "/api/conversations/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Not Found", body["message"])
}

func TestReadsDoNotRequireToken(t *testing.T) {
	ts, client := newTestServer(t, nil)

	resp, err := client.Get(ts.URL + "/api/conversations")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	ts, client := newTestServer(t, &config.Config{
		MockRateLimitRequests: 3,
		MockRateLimitWindow:   time.Minute,
	})

	var last int
	for i := 0; i < 5; i++ {
		resp, err := client.Get(ts.URL + "/api/conversations")
		require.NoError(t, err)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestReplyTokensReassemble(t *testing.T) {
	tokens := ReplyTokens("hello world")
	assert.Equal(t, "Echo: hello world", strings.Join(tokens, ""))
}

func TestStoreExchangeUpdatesConversation(t *testing.T) {
	store := NewStore()
	conv := store.CreateConversation("gpt-4o", "openai", "")
	assert.Equal(t, "New Chat", conv.Title)

	result, ok := store.AppendExchange(conv.ID, "hi")
	require.True(t, ok)

	fetched, ok := store.GetConversation(conv.ID)
	require.True(t, ok)
	assert.Equal(t, 2, fetched.MessageCount)
	require.NotNil(t, fetched.LastMessage)
	assert.Equal(t, result.AssistantMessage.ID, fetched.LastMessage.ID)

	list := store.ListConversations()
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Messages)
}

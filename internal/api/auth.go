package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/verdantchat/chatsync/internal/model"
)

type userEnvelope struct {
	Data model.User `json:"data"`
}

// CurrentUser fetches the authenticated user. An unauthenticated session is a
// normal state, not a failure: a 401 yields (nil, nil).
func (c *Client) CurrentUser(ctx context.Context) (*model.User, error) {
	body, err := c.doRead(ctx, "current_user", "/api/user")
	if err != nil {
		var re *RequestError
		if errors.As(err, &re) && re.Status == http.StatusUnauthorized {
			return nil, nil
		}
		return nil, err
	}

	var env userEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &env.Data, nil
}

// Logout ends the backend session. Local state is the caller's to clear.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, "logout", http.MethodPost, "/logout", nil, "")
	return err
}

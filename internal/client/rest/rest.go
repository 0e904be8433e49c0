// Package rest is a thin typed client for the backend's HTTP API. Every call
// carries the bearer token; a missing token fails locally without touching
// the network. REST failures are never retried automatically, unlike the
// socket which reconnects on its own.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/harborchat/harbor/internal/client/model"
)

var ErrNoToken = errors.New("rest: missing auth token")

type Client struct {
	baseURL string
	http    *http.Client
	// token is read per call so a re-login mid-session takes effect
	// without rebuilding the client.
	token func() string
}

func NewClient(baseURL string, token func() string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		token:   token,
	}
}

type LoginResult struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// Login authenticates against the external auth service. It is the one call
// that does not require a token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out LoginResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConversationSummary is one row of the recent-conversations listing.
type ConversationSummary struct {
	ID           string              `json:"_id"`
	Name         string              `json:"name"`
	Avatar       string              `json:"avatar,omitempty"`
	Type         string              `json:"type"` // "direct" or "group"
	LastMessage  string              `json:"lastMessage,omitempty"`
	LastAt       time.Time           `json:"lastMessageAt,omitempty"`
	UnreadCount  int                 `json:"unreadCount"`
	Participants []model.Participant `json:"participants,omitempty"`
}

func (c *Client) Conversations(ctx context.Context, limit int) ([]ConversationSummary, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/messages/conversations", q, nil)
	if err != nil {
		return nil, err
	}
	var out []ConversationSummary
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches one page of history for a direct or group conversation.
// Page 1 is the newest window; higher pages go further back.
func (c *Client) Messages(ctx context.Context, key string, isGroup bool, page, limit int) ([]model.Message, error) {
	path := "/messages/direct/" + url.PathEscape(key)
	if isGroup {
		path = "/messages/group/" + url.PathEscape(key)
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Messages []model.Message `json:"messages"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// MarkRead is the REST fallback used when the socket is down.
func (c *Client) MarkRead(ctx context.Context, messageIDs []string) error {
	body := map[string][]string{"messageIds": messageIDs}
	req, err := c.newRequest(ctx, http.MethodPut, "/messages/read", nil, body)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// OnlineUsers returns the presence snapshot used to seed the tracker after a
// (re)connect.
func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/messages/online-users", nil, nil)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Request, error) {
	token := c.token()
	if token == "" {
		return nil, ErrNoToken
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The backend reports errors as {"message": "..."}; fall back to
		// the status text when the body is something else.
		var apiErr struct {
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("rest: %s %s: %s", req.Method, req.URL.Path, apiErr.Message)
		}
		return fmt.Errorf("rest: %s %s: %s", req.Method, req.URL.Path, resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

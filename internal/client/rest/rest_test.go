package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingTokenShortCircuits(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	c := NewClient(server.URL, func() string { return "" })

	_, err := c.Conversations(context.Background(), 10)
	require.ErrorIs(t, err, ErrNoToken)
	_, err = c.Messages(context.Background(), "u2", false, 1, 20)
	require.ErrorIs(t, err, ErrNoToken)
	require.ErrorIs(t, c.MarkRead(context.Background(), []string{"m1"}), ErrNoToken)
	require.ErrorIs(t, c.DeleteMessage(context.Background(), "m1"), ErrNoToken)
	_, err = c.OnlineUsers(context.Background())
	require.ErrorIs(t, err, ErrNoToken)

	assert.Zero(t, atomic.LoadInt32(&hits), "no network attempt without a token")
}

func TestRequestsCarryBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-9", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]string{})
	}))
	defer server.Close()

	c := NewClient(server.URL, func() string { return "tok-9" })
	_, err := c.OnlineUsers(context.Background())
	require.NoError(t, err)
}

func TestMessagesBuildsPathAndQuery(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]interface{}{{"_id": "m1", "text": "hi"}},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, func() string { return "tok" })

	msgs, err := c.Messages(context.Background(), "u2", false, 2, 25)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "/messages/direct/u2", gotPath)
	assert.Equal(t, "limit=25&page=2", gotQuery)

	_, err = c.Messages(context.Background(), "g1", true, 1, 25)
	require.NoError(t, err)
	assert.Equal(t, "/messages/group/g1", gotPath)
}

func TestMarkReadSendsPut(t *testing.T) {
	var gotMethod string
	var gotBody map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL, func() string { return "tok" })
	require.NoError(t, c.MarkRead(context.Background(), []string{"m1", "m2"}))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, []string{"m1", "m2"}, gotBody["messageIds"])
}

func TestServerErrorMessageSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"message": "not your message"})
	}))
	defer server.Close()

	c := NewClient(server.URL, func() string { return "tok" })
	err := c.DeleteMessage(context.Background(), "m1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not your message")
}

func TestLoginDoesNotRequireToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"token": "tok-1",
			"user":  map[string]string{"_id": "u1", "name": "Me"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, func() string { return "" })
	result, err := c.Login(context.Background(), "me@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", result.Token)
	assert.Equal(t, "u1", result.User.ID)
}

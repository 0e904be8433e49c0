package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborchat/harbor/internal/client/event"
)

// wsBackend is a minimal in-process stand-in for the realtime server: it
// upgrades connections, records the auth header, echoes back whatever the
// test pushes, and can drop clients on demand.
type wsBackend struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	headers  []string
	received chan []byte
}

func newBackend(t *testing.T) *wsBackend {
	b := &wsBackend{t: t, received: make(chan []byte, 16)}
	b.server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.server.Close)
	return b
}

func (b *wsBackend) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.headers = append(b.headers, r.Header.Get("Authorization"))
	b.mu.Unlock()

	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.received <- frame
		}
	}()
}

func (b *wsBackend) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func (b *wsBackend) connCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *wsBackend) lastHeader() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.headers) == 0 {
		return ""
	}
	return b.headers[len(b.headers)-1]
}

func (b *wsBackend) push(t *testing.T, frame string) {
	b.mu.Lock()
	conn := b.conns[len(b.conns)-1]
	b.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (b *wsBackend) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		c.Close()
	}
}

func newTransport(t *testing.T, url string) *Transport {
	tr := New(url, Options{
		MaxReconnects:    3,
		ReconnectBackoff: 20 * time.Millisecond,
	})
	t.Cleanup(tr.Disconnect)
	return tr
}

func TestConnectCarriesBearerToken(t *testing.T) {
	b := newBackend(t)
	tr := newTransport(t, b.url())

	require.NoError(t, tr.Connect("tok-123"))

	require.Eventually(t, func() bool { return b.connCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Bearer tok-123", b.lastHeader())
	assert.True(t, tr.Connected())
}

func TestConnectWithoutTokenFailsLocally(t *testing.T) {
	b := newBackend(t)
	tr := newTransport(t, b.url())

	require.Error(t, tr.Connect(""))
	assert.Zero(t, b.connCount())
}

func TestConnectIsIdempotent(t *testing.T) {
	b := newBackend(t)
	tr := newTransport(t, b.url())

	require.NoError(t, tr.Connect("tok"))
	require.NoError(t, tr.Connect("tok"))
	require.NoError(t, tr.Connect("tok"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, b.connCount(), "repeat connects must not open duplicate connections")
}

func TestEmitReachesServer(t *testing.T) {
	b := newBackend(t)
	tr := newTransport(t, b.url())
	require.NoError(t, tr.Connect("tok"))

	require.NoError(t, tr.Emit(event.NameSendMessage, event.SendMessagePayload{Content: "hi", Receiver: "u2"}))

	select {
	case frame := <-b.received:
		assert.JSONEq(t, `{"event":"send-message","data":{"content":"hi","receiver":"u2"}}`, string(frame))
	case <-time.After(time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestEmitWhenDisconnected(t *testing.T) {
	b := newBackend(t)
	tr := newTransport(t, b.url())

	err := tr.Emit(event.NameTypingStart, event.TypingPayload{ReceiverID: "u2"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInboundEventsAreDecodedAndDispatched(t *testing.T) {
	b := newBackend(t)
	tr := newTransport(t, b.url())

	events := make(chan event.Event, 4)
	tr.OnEvent(func(ev event.Event) { events <- ev })
	require.NoError(t, tr.Connect("tok"))

	b.push(t, `{"event":"user-status","data":{"userId":"u5","status":"online"}}`)
	b.push(t, `{"event":"no-such-event","data":{}}`) // dropped silently
	b.push(t, `{"event":"message-deleted","data":{"messageId":"m1"}}`)

	require.Equal(t, event.UserStatus{UserID: "u5", Status: "online"}, <-events)
	require.Equal(t, event.MessageDeleted{MessageID: "m1"}, <-events)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	b := newBackend(t)
	tr := New(b.url(), Options{})

	tr.Disconnect()
	require.NoError(t, tr.Connect("tok"))
	tr.Disconnect()
	tr.Disconnect()

	assert.False(t, tr.Connected())
	assert.ErrorIs(t, tr.Emit(event.NameTypingStop, nil), ErrNotConnected)
}

func TestReconnectAfterDrop(t *testing.T) {
	b := newBackend(t)
	tr := newTransport(t, b.url())

	var mu sync.Mutex
	var states []State
	tr.OnState(func(s State, err error) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	require.NoError(t, tr.Connect("tok"))
	require.Eventually(t, func() bool { return b.connCount() == 1 }, time.Second, 5*time.Millisecond)

	b.dropAll()

	require.Eventually(t, func() bool { return b.connCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, tr.Connected, time.Second, 5*time.Millisecond)

	// The replacement handshake reuses the original token.
	assert.Equal(t, "Bearer tok", b.lastHeader())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnected, StateDisconnected, StateConnected}, states)
}

func TestReconnectExhaustionSurfacesError(t *testing.T) {
	b := newBackend(t)
	tr := newTransport(t, b.url())

	stateErrs := make(chan error, 1)
	tr.OnState(func(s State, err error) {
		if s == StateError {
			stateErrs <- err
		}
	})
	require.NoError(t, tr.Connect("tok"))
	require.Eventually(t, func() bool { return b.connCount() == 1 }, time.Second, 5*time.Millisecond)

	// Kill the server entirely so every redial fails. CloseClientConnections
	// does not cover hijacked websocket conns, so drop those explicitly too.
	b.server.CloseClientConnections()
	b.server.Close()
	b.dropAll()

	select {
	case err := <-stateErrs:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exhausted")
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect exhaustion never surfaced")
	}
	assert.False(t, tr.Connected())
}

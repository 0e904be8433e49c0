// Package transport owns the single realtime connection to the backend. It
// authenticates with a bearer token at handshake time, redelivers decoded
// events to one subscriber, and reconnects with a fixed backoff up to a
// bounded number of attempts.
package transport

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harborchat/harbor/internal/client/event"
)

type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

var ErrNotConnected = errors.New("transport: not connected")

const (
	DefaultMaxReconnects    = 5
	DefaultReconnectBackoff = 2 * time.Second

	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

type Options struct {
	MaxReconnects    int
	ReconnectBackoff time.Duration
	Logger           zerolog.Logger
}

type Transport struct {
	url     string
	opts    Options
	log     zerolog.Logger
	dialer  *websocket.Dialer
	onEvent func(event.Event)
	onState func(State, error)

	mu     sync.Mutex
	conn   *websocket.Conn
	token  string
	closed bool
	// done belongs to the current connection; closing it stops that
	// connection's pinger and tells its read loop not to reconnect.
	done chan struct{}

	writeMu sync.Mutex
}

func New(url string, opts Options) *Transport {
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = DefaultMaxReconnects
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = DefaultReconnectBackoff
	}
	return &Transport{
		url:    url,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "transport").Logger(),
		dialer: websocket.DefaultDialer,
	}
}

// OnEvent registers the single consumer of decoded inbound events. Must be
// called before Connect.
func (t *Transport) OnEvent(fn func(event.Event)) {
	t.mu.Lock()
	t.onEvent = fn
	t.mu.Unlock()
}

// OnState registers an observer for connection state transitions. The error
// argument is non-nil only for StateError.
func (t *Transport) OnState(fn func(State, error)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// Connect dials the backend with the bearer token. Calling it while already
// connected is a no-op returning nil; there is never more than one live
// connection.
func (t *Transport) Connect(token string) error {
	if token == "" {
		return errors.New("transport: missing auth token")
	}

	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.token = token
	t.closed = false
	t.mu.Unlock()

	conn, err := t.dial(token)
	if err != nil {
		return fmt.Errorf("transport: connect: %w", err)
	}
	t.adopt(conn)
	return nil
}

// Disconnect tears the connection down and clears both callbacks. Safe to
// call when already disconnected.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.closed && t.conn == nil {
		t.onEvent = nil
		t.onState = nil
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
	t.onEvent = nil
	t.onState = nil
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Connected reports whether a live connection exists right now.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Emit sends one event frame. It fails immediately when disconnected; the
// caller decides whether that is fatal for the action.
func (t *Transport) Emit(name string, payload interface{}) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := event.Encode(name, payload)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("transport: emit %s: %w", name, err)
	}
	return nil
}

func (t *Transport) dial(token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := t.dialer.Dial(t.url, header)
	return conn, err
}

// adopt installs a freshly dialed connection and starts its pumps.
func (t *Transport) adopt(conn *websocket.Conn) {
	done := make(chan struct{})

	t.mu.Lock()
	t.conn = conn
	t.done = done
	t.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go t.pingLoop(conn, done)
	go t.readLoop(conn, done)

	t.notifyState(StateConnected, nil)
}

func (t *Transport) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (t *Transport) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			t.log.Debug().Err(err).Msg("read failed")
			t.handleDrop(conn)
			return
		}

		ev, err := event.Decode(frame)
		if err != nil {
			// Unknown or malformed frames are dropped, never fatal.
			t.log.Debug().Err(err).Msg("dropping frame")
			continue
		}
		t.dispatch(ev)
	}
}

func (t *Transport) dispatch(ev event.Event) {
	t.mu.Lock()
	fn := t.onEvent
	t.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (t *Transport) notifyState(s State, err error) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s, err)
	}
}

// handleDrop runs after an unexpected read failure: it retires the dead
// connection and tries to replace it, reusing the original token.
func (t *Transport) handleDrop(dead *websocket.Conn) {
	t.mu.Lock()
	if t.closed || t.conn != dead {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
	token := t.token
	t.mu.Unlock()
	dead.Close()

	t.notifyState(StateDisconnected, nil)

	var lastErr error
	for attempt := 1; attempt <= t.opts.MaxReconnects; attempt++ {
		time.Sleep(t.opts.ReconnectBackoff)

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		conn, err := t.dial(token)
		if err != nil {
			lastErr = err
			t.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}
		t.log.Info().Int("attempt", attempt).Msg("reconnected")
		t.adopt(conn)
		return
	}

	t.notifyState(StateError, fmt.Errorf("transport: reconnect attempts exhausted: %w", lastErr))
}

// Package engine reconciles three streams into one consistent view of the
// chat state: optimistic local sends, server acknowledgments, and inbound
// realtime events. It is the only writer of the store; the UI reads
// snapshots and dispatches intents.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harborchat/harbor/internal/client/event"
	"github.com/harborchat/harbor/internal/client/history"
	"github.com/harborchat/harbor/internal/client/model"
	"github.com/harborchat/harbor/internal/client/presence"
	"github.com/harborchat/harbor/internal/client/rest"
	"github.com/harborchat/harbor/internal/client/store"
	"github.com/harborchat/harbor/internal/client/transport"
)

const (
	// DefaultTypingIdleWait is how long local input may pause before a
	// typing-stop is emitted.
	DefaultTypingIdleWait = time.Second
	// DefaultTypingHardStop bounds a local typing signal regardless of
	// activity, mirroring the server-side staleness guard.
	DefaultTypingHardStop = 3 * time.Second
)

// Wire is the transport surface the engine drives. *transport.Transport
// satisfies it; tests plug in a fake.
type Wire interface {
	Connect(token string) error
	Disconnect()
	Connected() bool
	Emit(name string, payload interface{}) error
	OnEvent(fn func(event.Event))
	OnState(fn func(transport.State, error))
}

// API is the slice of the REST client the engine calls directly.
type API interface {
	Conversations(ctx context.Context, limit int) ([]rest.ConversationSummary, error)
	OnlineUsers(ctx context.Context) ([]string, error)
	MarkRead(ctx context.Context, messageIDs []string) error
	DeleteMessage(ctx context.Context, messageID string) error
}

type Options struct {
	TypingIdleWait time.Duration
	TypingHardStop time.Duration
	Logger         zerolog.Logger
}

// typingOut tracks one debounced local typing emission per conversation.
// idle restarts on every keystroke; hard never does.
type typingOut struct {
	idle    *time.Timer
	hard    *time.Timer
	isGroup bool
}

type Engine struct {
	self    model.User
	wire    Wire
	api     API
	store   *store.Store
	tracker *presence.Tracker
	loader  *history.Loader
	opts    Options
	log     zerolog.Logger

	mu        sync.Mutex
	active    string // currently selected conversation key
	errText   string
	connState transport.State
	closed    bool
	typing    map[string]*typingOut

	onChange func()
}

func New(self model.User, wire Wire, api API, st *store.Store, tracker *presence.Tracker, loader *history.Loader, opts Options) *Engine {
	if opts.TypingIdleWait <= 0 {
		opts.TypingIdleWait = DefaultTypingIdleWait
	}
	if opts.TypingHardStop <= 0 {
		opts.TypingHardStop = DefaultTypingHardStop
	}
	e := &Engine{
		self:    self,
		wire:    wire,
		api:     api,
		store:   st,
		tracker: tracker,
		loader:  loader,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "engine").Logger(),
		typing:  make(map[string]*typingOut),
	}
	wire.OnEvent(e.handleEvent)
	wire.OnState(e.handleState)
	return e
}

// ConversationKey derives the bucket a message belongs to. Group messages
// key on the group id. Direct conversations have no id of their own, so the
// key is always the non-local participant: the receiver for messages we
// authored, the sender otherwise.
func ConversationKey(m model.Message, selfID string) string {
	if m.Group != "" {
		return m.Group
	}
	if m.Sender.ID == selfID {
		return m.Receiver
	}
	return m.Sender.ID
}

// Connect dials the realtime channel with the session token.
func (e *Engine) Connect(token string) error {
	if err := e.wire.Connect(token); err != nil {
		e.setError(err.Error())
		return err
	}
	return nil
}

// Close tears the session down: the socket drops, typing timers stop, and no
// further events mutate state. In-flight REST responses are discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for key, t := range e.typing {
		t.idle.Stop()
		t.hard.Stop()
		delete(e.typing, key)
	}
	e.mu.Unlock()
	e.wire.Disconnect()
}

// OnChange registers a callback fired after every state mutation. The UI
// uses it to schedule a re-render.
func (e *Engine) OnChange(fn func()) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

// Err returns the current user-visible error, or "".
func (e *Engine) Err() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errText
}

// ClearErr dismisses the error banner.
func (e *Engine) ClearErr() {
	e.mu.Lock()
	e.errText = ""
	e.mu.Unlock()
}

// ConnState reports the last observed transport state.
func (e *Engine) ConnState() transport.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connState
}

// ActiveConversation returns the currently selected conversation key.
func (e *Engine) ActiveConversation() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// SendMessage performs an optimistic send: the synthesized message is in the
// store before the wire is touched, so the UI reflects the attempt
// immediately. A transport failure surfaces in the error slot but never
// removes the optimistic row.
func (e *Engine) SendMessage(key string, isGroup bool, text string) error {
	if text == "" {
		return errors.New("engine: empty message")
	}

	msg := model.Message{
		ID:     model.PendingIDPrefix + uuid.NewString(),
		Text:   text,
		Sender: model.Participant{ID: e.self.ID, Name: e.self.Name, Avatar: e.self.Avatar},
		SentAt: time.Now(),
		Own:    true,
	}
	payload := event.SendMessagePayload{Content: text}
	if isGroup {
		msg.Group = key
		payload.Group = key
	} else {
		msg.Receiver = key
		payload.Receiver = key
	}

	e.store.AppendMessage(key, msg, false)
	e.stopTypingEmit(key)

	if err := e.wire.Emit(event.NameSendMessage, payload); err != nil {
		e.setError("message not delivered: " + err.Error())
		e.notify()
		return err
	}
	e.notify()
	return nil
}

// SelectConversation makes a conversation the active one: its unread counter
// resets and every unread inbound message is acknowledged, over the socket
// when possible, via REST otherwise.
func (e *Engine) SelectConversation(ctx context.Context, key string) {
	e.mu.Lock()
	e.active = key
	e.mu.Unlock()

	e.store.ResetUnread(key)

	var unread []string
	for _, m := range e.store.Messages(key) {
		if !m.Own && !m.Pending() && !m.ReadByUser(e.self.ID) {
			unread = append(unread, m.ID)
		}
	}
	if len(unread) > 0 {
		e.store.MarkRead(unread, e.self.ID)
		if err := e.wire.Emit(event.NameMarkRead, event.MarkReadPayload{MessageIDs: unread}); err != nil {
			if err := e.api.MarkRead(ctx, unread); err != nil {
				e.setError("mark read failed: " + err.Error())
			}
		}
	}
	e.notify()
}

// JoinGroup subscribes the session to a group's realtime events.
func (e *Engine) JoinGroup(groupID string) {
	if err := e.wire.Emit(event.NameJoinGroup, groupID); err != nil {
		e.log.Debug().Err(err).Str("group", groupID).Msg("join-group not sent")
	}
}

// LeaveGroup unsubscribes the session from a group.
func (e *Engine) LeaveGroup(groupID string) {
	if err := e.wire.Emit(event.NameLeaveGroup, groupID); err != nil {
		e.log.Debug().Err(err).Str("group", groupID).Msg("leave-group not sent")
	}
}

// InputActivity reports a keystroke in the composer for a conversation. The
// first one emits typing-start; silence for the idle window, or the hard stop
// window elapsing, emits typing-stop.
func (e *Engine) InputActivity(key string, isGroup bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	if t, ok := e.typing[key]; ok {
		t.idle.Reset(e.opts.TypingIdleWait)
		return
	}

	payload := typingPayload(key, isGroup)
	if err := e.wire.Emit(event.NameTypingStart, payload); err != nil {
		return
	}
	t := &typingOut{isGroup: isGroup}
	t.idle = time.AfterFunc(e.opts.TypingIdleWait, func() { e.stopTypingEmit(key) })
	t.hard = time.AfterFunc(e.opts.TypingHardStop, func() { e.stopTypingEmit(key) })
	e.typing[key] = t
}

func (e *Engine) stopTypingEmit(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.typing[key]
	if !ok {
		return
	}
	t.idle.Stop()
	t.hard.Stop()
	delete(e.typing, key)
	if err := e.wire.Emit(event.NameTypingStop, typingPayload(key, t.isGroup)); err != nil {
		e.log.Debug().Err(err).Str("key", key).Msg("typing-stop not sent")
	}
}

func typingPayload(key string, isGroup bool) event.TypingPayload {
	if isGroup {
		return event.TypingPayload{GroupID: key}
	}
	return event.TypingPayload{ReceiverID: key}
}

// LoadHistory pulls one page of past messages into the store.
func (e *Engine) LoadHistory(ctx context.Context, key string, isGroup bool, page int) error {
	err := e.loader.LoadMessages(ctx, key, isGroup, page)
	if err != nil {
		e.setError("history load failed: " + err.Error())
	}
	e.notify()
	return err
}

// LoadConversations seeds the store from the recent-conversations listing.
func (e *Engine) LoadConversations(ctx context.Context, limit int) error {
	summaries, err := e.api.Conversations(ctx, limit)
	if err != nil {
		e.setError("conversations load failed: " + err.Error())
		e.notify()
		return err
	}
	if e.isClosed() {
		return nil
	}
	for _, s := range summaries {
		kind := model.KindDirect
		if s.Type == "group" {
			kind = model.KindGroup
		}
		e.store.UpsertConversation(model.Conversation{
			ID:              s.ID,
			Kind:            kind,
			DisplayName:     s.Name,
			AvatarURL:       s.Avatar,
			LastMessageText: s.LastMessage,
			LastMessageAt:   s.LastAt,
			UnreadCount:     s.UnreadCount,
			Participants:    s.Participants,
		})
	}
	e.notify()
	return nil
}

// DeleteMessage removes a message via REST. The local copy goes right away;
// the broadcast deletion event is an idempotent repeat.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	if err := e.api.DeleteMessage(ctx, messageID); err != nil {
		e.setError("delete failed: " + err.Error())
		e.notify()
		return err
	}
	if e.isClosed() {
		return nil
	}
	e.store.RemoveMessage(messageID)
	e.notify()
	return nil
}

// --- Inbound ---

func (e *Engine) handleEvent(ev event.Event) {
	if e.isClosed() {
		return
	}

	switch ev := ev.(type) {
	case event.DirectMessage:
		e.applyInbound(ev.Message)
	case event.GroupMessage:
		e.applyInbound(ev.Message)
	case event.MessageSent:
		e.applyAck(ev)
	case event.MessageDeleted:
		e.store.RemoveMessage(ev.MessageID)
	case event.MessagesRead:
		e.store.MarkRead(ev.MessageIDs, ev.ReadBy)
	case event.UserStatus:
		online := ev.Status == "online"
		e.tracker.SetOnline(ev.UserID, online)
		e.store.SetPresence(ev.UserID, online)
	case event.Typing:
		scope := ""
		if ev.Type == "group" {
			scope = ev.GroupID
		}
		if ev.Stopped {
			e.tracker.StopTyping(ev.UserID, scope)
		} else {
			e.tracker.StartTyping(ev.UserID, scope)
		}
	case event.ServerError:
		e.setError(ev.Message)
	}
	e.notify()
}

func (e *Engine) applyInbound(msg model.Message) {
	msg.Own = msg.Sender.ID == e.self.ID
	key := ConversationKey(msg, e.self.ID)

	e.mu.Lock()
	activeNow := e.active == key
	e.mu.Unlock()

	// An echo of our own message from another session never counts as
	// unread, and neither does anything in the open conversation.
	e.store.AppendMessage(key, msg, !msg.Own && !activeNow)
}

// applyAck replaces the most recent pending message in the conversation with
// its confirmed form. An ack with nothing pending (out of order, or a
// reconnect replay) degrades to an append-if-absent.
func (e *Engine) applyAck(ack event.MessageSent) {
	if !ack.Success {
		e.setError("message rejected by server")
		return
	}

	msg := ack.Message
	msg.Own = true
	key := ConversationKey(msg, e.self.ID)

	if e.store.ReplaceLastPending(key, msg) {
		return
	}
	for _, m := range e.store.Messages(key) {
		if m.ID == msg.ID {
			return
		}
	}
	e.store.AppendMessage(key, msg, false)
}

func (e *Engine) handleState(s transport.State, err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.connState = s
	e.mu.Unlock()

	switch s {
	case transport.StateConnected:
		e.ClearErr()
		go e.seedPresence()
	case transport.StateDisconnected:
		// Presence is connection-scoped; a reconnect reseeds it.
		e.tracker.Reset()
	case transport.StateError:
		if err != nil {
			e.setError(err.Error())
		} else {
			e.setError("connection lost")
		}
	}
	e.notify()
}

// seedPresence rebuilds the online set from the REST snapshot after every
// (re)connect.
func (e *Engine) seedPresence() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ids, err := e.api.OnlineUsers(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("presence seed failed")
		return
	}
	if e.isClosed() {
		return
	}
	e.tracker.SeedOnline(ids)
	for _, id := range ids {
		e.store.SetPresence(id, true)
	}
	e.notify()
}

func (e *Engine) setError(text string) {
	e.mu.Lock()
	e.errText = text
	e.mu.Unlock()
	e.log.Debug().Str("error", text).Msg("error slot set")
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) notify() {
	e.mu.Lock()
	fn := e.onChange
	closed := e.closed
	e.mu.Unlock()
	if fn != nil && !closed {
		fn()
	}
}

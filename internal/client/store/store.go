// Package store is the single source of truth for conversation and message
// state. It is a pure data container: no I/O, no timers, no knowledge of the
// wire protocol. The reconciliation engine owns all writes; the UI only reads
// snapshots.
package store

import (
	"sort"
	"sync"

	"github.com/harborchat/harbor/internal/client/model"
)

type Store struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message
}

func New() *Store {
	return &Store{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
	}
}

// UpsertConversation creates the conversation on first sight and merges
// non-empty fields into it afterwards. Creation is idempotent: there is
// exactly one conversation entity per key.
func (s *Store) UpsertConversation(conv model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.conversations[conv.ID]
	if !ok {
		c := conv
		s.conversations[conv.ID] = &c
		if _, ok := s.messages[conv.ID]; !ok {
			s.messages[conv.ID] = nil
		}
		return
	}

	if conv.DisplayName != "" {
		existing.DisplayName = conv.DisplayName
	}
	if conv.AvatarURL != "" {
		existing.AvatarURL = conv.AvatarURL
	}
	if conv.Kind != "" {
		existing.Kind = conv.Kind
	}
	if conv.LastMessageText != "" {
		existing.LastMessageText = conv.LastMessageText
		existing.LastMessageAt = conv.LastMessageAt
	}
	if len(conv.Participants) > 0 {
		existing.Participants = conv.Participants
	}
}

// AppendMessage adds a message to the end of a conversation's list, creating
// the conversation if needed, and refreshes the summary fields. When
// incrementUnread is set the unread counter goes up by one.
func (s *Store) AppendMessage(key string, msg model.Message, incrementUnread bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureConversation(key, msg)
	s.messages[key] = append(s.messages[key], msg)

	conv := s.conversations[key]
	conv.LastMessageText = msg.Text
	conv.LastMessageAt = msg.SentAt
	if incrementUnread {
		conv.UnreadCount++
	}
}

// ReplaceLastPending swaps the most recently appended pending message in the
// conversation for its server-confirmed form, in place. Returns false when no
// pending message exists, which callers treat as a best-effort miss rather
// than an error.
func (s *Store) ReplaceLastPending(key string, final model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[key]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Pending() {
			final.Own = msgs[i].Own
			msgs[i] = final
			if conv, ok := s.conversations[key]; ok && i == len(msgs)-1 {
				conv.LastMessageText = final.Text
				conv.LastMessageAt = final.SentAt
			}
			return true
		}
	}
	return false
}

// RemoveMessage deletes a message by id. The deletion event does not carry a
// conversation key, so every list is scanned; an unknown id is a no-op.
func (s *Store) RemoveMessage(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, msgs := range s.messages {
		for i, m := range msgs {
			if m.ID == messageID {
				s.messages[key] = append(msgs[:i:i], msgs[i+1:]...)
				return
			}
		}
	}
}

// MarkRead records readerID in the ReadBy set of every listed message,
// wherever it lives. Unread counters are untouched; they belong to the local
// user's view, not the reader's.
func (s *Store) MarkRead(messageIDs []string, readerID string) {
	if len(messageIDs) == 0 {
		return
	}
	wanted := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msgs := range s.messages {
		for i := range msgs {
			if wanted[msgs[i].ID] && !msgs[i].ReadByUser(readerID) {
				msgs[i].ReadBy = append(msgs[i].ReadBy, readerID)
			}
		}
	}
}

// ResetUnread zeroes the unread counter of one conversation.
func (s *Store) ResetUnread(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[key]; ok {
		conv.UnreadCount = 0
	}
}

// SetPresence mirrors a user's online flag onto the direct conversation keyed
// by that user, if one exists.
func (s *Store) SetPresence(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[userID]; ok && conv.Kind != model.KindGroup {
		conv.Online = online
	}
}

// SetMessages replaces a conversation's entire message list. Used for the
// authoritative page-1 history window.
func (s *Store) SetMessages(key string, msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(msgs) > 0 {
		s.ensureConversation(key, msgs[len(msgs)-1])
	}
	s.messages[key] = append([]model.Message(nil), msgs...)

	if conv, ok := s.conversations[key]; ok && len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		conv.LastMessageText = last.Text
		conv.LastMessageAt = last.SentAt
	}
}

// PrependMessages inserts older history before the current list, dropping any
// message whose id is already present so repeated pages never duplicate.
func (s *Store) PrependMessages(key string, older []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.messages[key]
	seen := make(map[string]bool, len(current))
	for _, m := range current {
		seen[m.ID] = true
	}

	merged := make([]model.Message, 0, len(older)+len(current))
	for _, m := range older {
		if !seen[m.ID] {
			merged = append(merged, m)
		}
	}
	s.messages[key] = append(merged, current...)
}

// Conversation returns a copy of one conversation.
func (s *Store) Conversation(key string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[key]
	if !ok {
		return model.Conversation{}, false
	}
	return *conv, true
}

// Conversations returns a copy of all conversations, most recent activity
// first.
func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Messages returns a copy of one conversation's message list in append order.
func (s *Store) Messages(key string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message(nil), s.messages[key]...)
}

// caller must hold s.mu.
func (s *Store) ensureConversation(key string, msg model.Message) {
	if _, ok := s.conversations[key]; ok {
		return
	}

	conv := &model.Conversation{ID: key, Kind: model.KindDirect}
	if msg.Group != "" {
		conv.Kind = model.KindGroup
	} else if !msg.Own {
		// Best-available metadata: for an inbound direct message the
		// counterparty is the sender.
		conv.DisplayName = msg.Sender.Name
		conv.AvatarURL = msg.Sender.Avatar
	}
	s.conversations[key] = conv
}

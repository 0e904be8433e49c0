// Package history pages past messages out of the REST backend and merges
// them into the store. A page is fetched at most once per session: page 1 is
// the authoritative recent window and replaces the list, older pages are
// prepended in front of whatever is already loaded.
package history

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/harborchat/harbor/internal/client/model"
	"github.com/harborchat/harbor/internal/client/store"
)

const DefaultPageSize = 50

// MessageSource is the slice of the REST client the loader needs.
type MessageSource interface {
	Messages(ctx context.Context, key string, isGroup bool, page, limit int) ([]model.Message, error)
}

type Loader struct {
	api      MessageSource
	store    *store.Store
	pageSize int

	mu     sync.Mutex
	loaded map[string]bool
	// flight collapses concurrent requests for the same page so a double
	// tap on "load older" costs one round trip.
	flight singleflight.Group
}

func NewLoader(api MessageSource, st *store.Store, pageSize int) *Loader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Loader{
		api:      api,
		store:    st,
		pageSize: pageSize,
		loaded:   make(map[string]bool),
	}
}

// LoadMessages fetches one history page for a conversation. Repeat calls for
// a page already loaded this session are no-ops. On failure nothing in the
// store changes and the page stays eligible for a manual retry.
func (l *Loader) LoadMessages(ctx context.Context, key string, isGroup bool, page int) error {
	if page < 1 {
		return fmt.Errorf("history: invalid page %d", page)
	}

	pageKey := fmt.Sprintf("%s#%d", key, page)

	l.mu.Lock()
	if l.loaded[pageKey] {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	_, err, _ := l.flight.Do(pageKey, func() (interface{}, error) {
		l.mu.Lock()
		done := l.loaded[pageKey]
		l.mu.Unlock()
		if done {
			return nil, nil
		}

		msgs, err := l.api.Messages(ctx, key, isGroup, page, l.pageSize)
		if err != nil {
			return nil, err
		}

		if page == 1 {
			// The newest window wins wholesale. A live message that
			// arrived while this request was in flight is dropped from
			// the window; the next realtime event brings it back.
			l.store.SetMessages(key, msgs)
		} else {
			l.store.PrependMessages(key, msgs)
		}

		l.mu.Lock()
		l.loaded[pageKey] = true
		l.mu.Unlock()
		return nil, nil
	})
	return err
}

// Loaded reports whether a page was already fetched this session.
func (l *Loader) Loaded(key string, page int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded[fmt.Sprintf("%s#%d", key, page)]
}

// Reset forgets which pages were loaded. Called on sign-out.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = make(map[string]bool)
}

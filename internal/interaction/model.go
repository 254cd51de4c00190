// Package interaction records user interaction events (clicks, dwell time,
// likes, bookmarks, dislikes) and exposes them to preference aggregation.
package interaction

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Action is the kind of interaction a user had with a content item.
type Action string

// Supported actions.
const (
	ActionClick    Action = "click"
	ActionDuration Action = "duration"
	ActionDislike  Action = "dislike"
	ActionLike     Action = "like"
	ActionBookmark Action = "bookmark"
)

// UserEventLimit is the number of newest events retained per user.
const UserEventLimit = 1000

// ClickDedupWindow is the window within which repeated clicks on the same
// content by the same user are recorded once.
const ClickDedupWindow = 30 * time.Minute

// Interaction errors.
var (
	ErrInvalidEvent = errors.New("invalid interaction event")
	ErrDuplicate    = errors.New("duplicate interaction event")
)

// Valid reports whether a is a supported action.
func (a Action) Valid() bool {
	switch a {
	case ActionClick, ActionDuration, ActionDislike, ActionLike, ActionBookmark:
		return true
	}
	return false
}

// Event is one recorded interaction.
type Event struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ContentID string `json:"content_id"`
	Action    Action `json:"action"`
	// DurationSeconds is only meaningful for ActionDuration.
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks the event's required fields.
func (e *Event) Validate() error {
	switch {
	case e.UserID == "":
		return errors.Join(ErrInvalidEvent, errors.New("user_id is required"))
	case e.ContentID == "":
		return errors.Join(ErrInvalidEvent, errors.New("content_id is required"))
	case !e.Action.Valid():
		return errors.Join(ErrInvalidEvent, errors.New("unsupported action"))
	case e.Action == ActionDuration && e.DurationSeconds <= 0:
		return errors.Join(ErrInvalidEvent, errors.New("duration events need a positive duration"))
	}
	return nil
}

// Store persists interaction events.
type Store interface {
	Append(ctx context.Context, e Event) error
	// ListByUser returns every stored event of the user, oldest first.
	ListByUser(ctx context.Context, userID string) ([]Event, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	// CountByContent returns the total event count per requested content ID.
	// IDs without events are absent.
	CountByContent(ctx context.Context, contentIDs []string) (map[string]int, error)
	// UsersWithEvents returns every user ID that has at least one event.
	UsersWithEvents(ctx context.Context) ([]string, error)
	// TrimAll keeps only the newest keep events of every user and returns
	// the number of events removed.
	TrimAll(ctx context.Context, keep int) (int64, error)
}

// InMemoryStore is an in-memory Store for tests and local runs.
type InMemoryStore struct {
	mu     sync.RWMutex
	byUser map[string][]Event
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byUser: make(map[string][]Event)}
}

// Append stores e, keeping each user's events ordered by creation time.
func (s *InMemoryStore) Append(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := append(s.byUser[e.UserID], e)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	s.byUser[e.UserID] = events
	return nil
}

// ListByUser returns a copy of the user's events, oldest first.
func (s *InMemoryStore) ListByUser(ctx context.Context, userID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.byUser[userID]
	out := make([]Event, len(events))
	copy(out, events)
	return out, nil
}

// CountByUser returns the number of stored events of the user.
func (s *InMemoryStore) CountByUser(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser[userID]), nil
}

// CountByContent counts events per content ID across all users.
func (s *InMemoryStore) CountByContent(ctx context.Context, contentIDs []string) (map[string]int, error) {
	want := make(map[string]bool, len(contentIDs))
	for _, id := range contentIDs {
		want[id] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for _, events := range s.byUser {
		for _, e := range events {
			if want[e.ContentID] {
				out[e.ContentID]++
			}
		}
	}
	return out, nil
}

// UsersWithEvents returns user IDs in ascending order.
func (s *InMemoryStore) UsersWithEvents(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.byUser))
	for id, events := range s.byUser {
		if len(events) > 0 {
			users = append(users, id)
		}
	}
	sort.Strings(users)
	return users, nil
}

// TrimAll drops all but the newest keep events of every user.
func (s *InMemoryStore) TrimAll(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, events := range s.byUser {
		if extra := len(events) - keep; extra > 0 {
			s.byUser[id] = append([]Event(nil), events[extra:]...)
			removed += int64(extra)
		}
	}
	return removed, nil
}

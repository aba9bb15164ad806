package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry identifies one typing indicator.
type Entry struct {
	ConversationID int64
	UserID         int64
}

// Store keeps typing indicators with an expiry. It is separate from the
// durable message store and may lose data at any time.
type Store interface {
	// Touch sets the entry to expire ttl after now. fresh is true when no
	// live entry existed before.
	Touch(ctx context.Context, conversationID, userID int64, now time.Time, ttl time.Duration) (fresh bool, err error)
	// Clear removes the entry and reports whether a live one was removed.
	Clear(ctx context.Context, conversationID, userID int64, now time.Time) (removed bool, err error)
	// Active lists users with an unexpired entry in the conversation.
	Active(ctx context.Context, conversationID int64, now time.Time) ([]int64, error)
	// Evict removes every entry expired at now and returns them.
	Evict(ctx context.Context, now time.Time) ([]Entry, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Entry]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Entry]time.Time)}
}

func (s *MemoryStore) Touch(ctx context.Context, conversationID, userID int64, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Entry{ConversationID: conversationID, UserID: userID}
	prev, ok := s.entries[key]
	s.entries[key] = now.Add(ttl)
	// An entry that expired but was not evicted yet counts as new.
	return !ok || !prev.After(now), nil
}

func (s *MemoryStore) Clear(ctx context.Context, conversationID, userID int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Entry{ConversationID: conversationID, UserID: userID}
	expiresAt, ok := s.entries[key]
	delete(s.entries, key)
	return ok && expiresAt.After(now), nil
}

func (s *MemoryStore) Active(ctx context.Context, conversationID int64, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []int64
	for key, expiresAt := range s.entries {
		if key.ConversationID == conversationID && expiresAt.After(now) {
			users = append(users, key.UserID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

func (s *MemoryStore) Evict(ctx context.Context, now time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []Entry
	for key, expiresAt := range s.entries {
		if !expiresAt.After(now) {
			expired = append(expired, key)
			delete(s.entries, key)
		}
	}
	return expired, nil
}

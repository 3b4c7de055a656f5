package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory ConversationStore and UsageStore. It backs
// the server when no database is configured, and the tests.
type MemStore struct {
	mu            sync.Mutex
	nextConvID    int64
	nextTurnID    int64
	conversations map[int64]*Conversation
	turns         map[int64][]Turn
	usage         []UsageRecord
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		nextConvID:    1,
		nextTurnID:    1,
		conversations: make(map[int64]*Conversation),
		turns:         make(map[int64][]Turn),
	}
}

func (s *MemStore) Create(ctx context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	conv.ID = s.nextConvID
	s.nextConvID++
	conv.CreatedAt = now
	conv.UpdatedAt = now

	stored := *conv
	s.conversations[conv.ID] = &stored
	return nil
}

func (s *MemStore) Get(ctx context.Context, id, userID int64) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, ErrNotFound
	}
	out := *conv
	return &out, nil
}

func (s *MemStore) Messages(ctx context.Context, conversationID int64, limit int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.turns[conversationID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *MemStore) AppendMessage(ctx context.Context, conversationID int64, role, content string, tokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return ErrNotFound
	}

	turn := Turn{
		ID:             s.nextTurnID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Tokens:         tokens,
		CreatedAt:      time.Now().UTC(),
	}
	s.nextTurnID++
	s.turns[conversationID] = append(s.turns[conversationID], turn)
	s.conversations[conversationID].UpdatedAt = turn.CreatedAt
	return nil
}

func (s *MemStore) List(ctx context.Context, userID int64, offset, limit int) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			out = append(out, *conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) Delete(ctx context.Context, id, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.turns, id)
	return nil
}

func (s *MemStore) Record(ctx context.Context, rec UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.usage = append(s.usage, rec)
	return nil
}

// UsageRecords returns a copy of everything recorded so far.
func (s *MemStore) UsageRecords() []UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UsageRecord, len(s.usage))
	copy(out, s.usage)
	return out
}

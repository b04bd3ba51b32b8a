package convstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/InnNhi24/vibetune/pkg/model"
)

// MemoryStore is an in-memory Store for tests and single-process setups.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]model.Conversation
	messages      map[string]model.Message
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]model.Conversation{},
		messages:      map[string]model.Message{},
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) UpsertConversation(_ context.Context, c model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.conversations[c.ID]; ok {
		if prev.Topic != nil {
			c.Topic = prev.Topic
		}
		c.MessageCount = prev.MessageCount
	}
	s.conversations[c.ID] = c
	return nil
}

func (s *MemoryStore) UpsertMessage(_ context.Context, m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		s.conversations[m.ConversationID] = model.Conversation{
			ID:        m.ConversationID,
			Title:     PlaceholderTitle,
			StartedAt: time.Now(),
		}
	}
	s.messages[m.ID] = m
	s.refreshCountLocked(m.ConversationID)
	return nil
}

func (s *MemoryStore) refreshCountLocked(conversationID string) {
	n := 0
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			n++
		}
	}
	c := s.conversations[conversationID]
	c.MessageCount = n
	s.conversations[conversationID] = c
}

func (s *MemoryStore) PatchConversation(_ context.Context, id string, patch ConversationPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Topic != nil && (c.Topic == nil || patch.TopicFinal) {
		t := *patch.Topic
		c.Topic = &t
	}
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.EndedAt != nil {
		t := *patch.EndedAt
		c.EndedAt = &t
	}
	if patch.AvgProsodyScore != nil {
		c.AvgProsodyScore = *patch.AvgProsodyScore
	}
	s.conversations[id] = c
	return nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	for mid, m := range s.messages {
		if m.ConversationID == id {
			delete(s.messages, mid)
		}
	}
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := c
	return &out, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, profileID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Conversation{}
	for _, c := range s.conversations {
		if profileID == "" || c.ProfileID == profileID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Message{}
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

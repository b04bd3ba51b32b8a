package syncengine

import (
	"sort"
	"sync"
	"time"

	"github.com/InnNhi24/vibetune/pkg/model"
)

// SessionStore is the client's only mutable shared state: cached
// conversations and messages, the active-conversation pointer, the current
// session stage, and the sync flags. All mutation goes through its methods;
// nothing else touches the maps.
type SessionStore struct {
	mu            sync.RWMutex
	conversations map[string]model.Conversation
	messages      map[string]model.Message
	activeConvID  string
	activeStage   string
	state         model.SyncState
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		conversations: map[string]model.Conversation{},
		messages:      map[string]model.Message{},
		state:         model.SyncState{Online: true},
	}
}

func (s *SessionStore) ApplyConversation(c model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	if s.activeConvID == "" {
		s.activeConvID = c.ID
	}
}

func (s *SessionStore) ApplyMessage(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
	if _, ok := s.conversations[m.ConversationID]; !ok {
		s.conversations[m.ConversationID] = model.Conversation{
			ID:        m.ConversationID,
			Title:     "New Conversation",
			StartedAt: time.Now(),
		}
	}
}

// Reconcile rewrites every reference from a provisional conversation id to
// the server-issued one: the conversation record, all messages, and the
// active pointer move in one critical section so no reader ever sees a
// message pointing at the stale id.
func (s *SessionStore) Reconcile(provisionalID, canonicalID string) {
	if provisionalID == "" || canonicalID == "" || provisionalID == canonicalID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[provisionalID]; ok {
		delete(s.conversations, provisionalID)
		c.ID = canonicalID
		if existing, ok := s.conversations[canonicalID]; ok {
			// Server already sent the canonical record; keep it.
			c = existing
		}
		s.conversations[canonicalID] = c
	}
	for id, m := range s.messages {
		if m.ConversationID == provisionalID {
			m.ConversationID = canonicalID
			s.messages[id] = m
		}
	}
	if s.activeConvID == provisionalID {
		s.activeConvID = canonicalID
	}
}

// ReplaceAll swaps in the server's canonical snapshot. Server wins; there is
// no field-level merge.
func (s *SessionStore) ReplaceAll(snap *model.Snapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = map[string]model.Conversation{}
	for _, c := range snap.Conversations {
		s.conversations[c.ID] = c
	}
	s.messages = map[string]model.Message{}
	for _, m := range snap.Messages {
		s.messages[m.ID] = m
	}
	if _, ok := s.conversations[s.activeConvID]; !ok {
		s.activeConvID = ""
	}
}

func (s *SessionStore) DeleteConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	for mid, m := range s.messages {
		if m.ConversationID == id {
			delete(s.messages, mid)
		}
	}
	if s.activeConvID == id {
		s.activeConvID = ""
	}
}

func (s *SessionStore) SetActiveConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeConvID = id
}

func (s *SessionStore) ActiveConversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeConvID
}

func (s *SessionStore) SetStage(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeStage = stage
}

func (s *SessionStore) Stage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeStage
}

// MutateState applies fn to the sync flags and returns the updated copy.
func (s *SessionStore) MutateState(fn func(*model.SyncState)) model.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	return s.state
}

func (s *SessionStore) State() model.SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *SessionStore) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (s *SessionStore) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Message{}
	for _, m := range s.messages {
		if conversationID == "" || m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

package persistence

import (
	"sync"
	"time"

	"github.com/jpelkone/convoflow/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of FlowStore,
// SessionStore and EventStore backed by maps. It doubles as the live
// session cache: a per-conversation index tracks sessions in
// {ACTIVE, WAITING} and is pruned as soon as a session leaves that set,
// while the session record itself is retained.
type InMemoryStore struct {
	mu        sync.RWMutex
	flows     map[string]api.FlowDefinition
	flowOrder []string
	sessions  map[string]*api.Session
	live      map[string]map[string]struct{} // conversationID -> session ids
	events    map[string][]api.SessionEvent
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flows:    make(map[string]api.FlowDefinition),
		sessions: make(map[string]*api.Session),
		live:     make(map[string]map[string]struct{}),
		events:   make(map[string][]api.SessionEvent),
	}
}

// Ensure InMemoryStore implements the interfaces.
var (
	_ FlowStore    = (*InMemoryStore)(nil)
	_ SessionStore = (*InMemoryStore)(nil)
	_ EventStore   = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) SaveFlow(def api.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flows[def.ID]; !exists {
		s.flowOrder = append(s.flowOrder, def.ID)
	}
	s.flows[def.ID] = def
	return nil
}

func (s *InMemoryStore) GetFlow(id string) (api.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.flows[id]
	if !ok {
		return api.FlowDefinition{}, ErrFlowNotFound
	}
	return def, nil
}

func (s *InMemoryStore) Assignments() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.flowOrder...), nil
}

func (s *InMemoryStore) SaveSession(sess *api.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = sess.Clone()
	s.reindex(sess)
	return nil
}

func (s *InMemoryStore) UpdateSession(sess *api.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrSessionNotFound
	}
	s.sessions[sess.ID] = sess.Clone()
	s.reindex(sess)
	return nil
}

// reindex maintains the live-session cache. Callers hold the write lock.
func (s *InMemoryStore) reindex(sess *api.Session) {
	ids := s.live[sess.ConversationID]
	if sess.IsLive() {
		if ids == nil {
			ids = make(map[string]struct{})
			s.live[sess.ConversationID] = ids
		}
		ids[sess.ID] = struct{}{}
		return
	}
	if ids != nil {
		delete(ids, sess.ID)
		if len(ids) == 0 {
			delete(s.live, sess.ConversationID)
		}
	}
}

func (s *InMemoryStore) GetSession(id string) (*api.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *InMemoryStore) ListSessions(filter SessionFilter) ([]*api.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Session
	for _, sess := range s.sessions {
		if filter.FlowID != "" && sess.FlowID != filter.FlowID {
			continue
		}
		if filter.ConversationID != "" && sess.ConversationID != filter.ConversationID {
			continue
		}
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		result = append(result, sess.Clone())
	}
	return result, nil
}

func (s *InMemoryStore) ListActiveForConversation(conversationID string) ([]*api.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.live[conversationID]
	if len(ids) == 0 {
		return nil, nil
	}
	result := make([]*api.Session, 0, len(ids))
	for id := range ids {
		if sess, ok := s.sessions[id]; ok {
			result = append(result, sess.Clone())
		}
	}
	return result, nil
}

func (s *InMemoryStore) ListExpired(now time.Time) ([]*api.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Session
	for _, ids := range s.live {
		for id := range ids {
			sess, ok := s.sessions[id]
			if !ok {
				continue
			}
			if sess.Expired(now) {
				result = append(result, sess.Clone())
			}
		}
	}
	return result, nil
}

func (s *InMemoryStore) AppendEvent(ev api.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[ev.SessionID] = append(s.events[ev.SessionID], ev)
	return nil
}

func (s *InMemoryStore) ListEvents(sessionID string) ([]api.SessionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]api.SessionEvent(nil), s.events[sessionID]...), nil
}

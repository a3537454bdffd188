package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jpelkone/convoflow/pkg/api"
)

// RedisSessionStore is a SessionStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>sess:<id>             => gob-encoded redisSessionPayload
//	<prefix>idx:all               => SET of all session IDs
//	<prefix>idx:flow:<flow>       => SET of session IDs for a given flow
//	<prefix>idx:status:<status>   => SET of session IDs for a given status
//	<prefix>idx:conv:<conv>       => SET of live session IDs per conversation
//
// The conversation index is the cache front for resume lookups: ids are
// added while a session is live and removed the moment it leaves
// {ACTIVE, WAITING}. The other indexes are best-effort; ListSessions
// filters by payload.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

var _ SessionStore = (*RedisSessionStore)(nil)

type redisSessionPayload struct {
	ID             string
	FlowID         string
	ConversationID string
	ContactID      string
	CompanyID      string
	Status         string
	CurrentNode    string
	TriggerNode    string
	Path           []byte
	Variables      []byte
	Waiting        []byte
	Error          string
	StartedAt      int64
	LastActivityAt int64
	ExpiresAt      int64 // 0 = no expiry
}

// NewRedisSessionStore creates a RedisSessionStore.
// prefix is optional but recommended (e.g. "convoflow:").
func NewRedisSessionStore(client *redis.Client, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "convoflow:"
	}
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (s *RedisSessionStore) keySession(id string) string { return s.prefix + "sess:" + id }
func (s *RedisSessionStore) keyAll() string              { return s.prefix + "idx:all" }
func (s *RedisSessionStore) keyFlow(id string) string    { return s.prefix + "idx:flow:" + id }
func (s *RedisSessionStore) keyStatus(st api.SessionStatus) string {
	return s.prefix + "idx:status:" + string(st)
}
func (s *RedisSessionStore) keyConversation(id string) string {
	return s.prefix + "idx:conv:" + id
}

func encodeRedisSession(sess *api.Session) ([]byte, error) {
	path, err := EncodePath(sess.ExecutionPath)
	if err != nil {
		return nil, err
	}
	vars, err := EncodeVariables(sess.Variables)
	if err != nil {
		return nil, err
	}
	waiting, err := EncodeWaiting(sess.Waiting)
	if err != nil {
		return nil, err
	}

	errStr := ""
	if sess.Err != nil {
		errStr = sess.Err.Error()
	}
	var expiresAt int64
	if sess.ExpiresAt != nil {
		expiresAt = sess.ExpiresAt.UnixNano()
	}

	payload := redisSessionPayload{
		ID:             sess.ID,
		FlowID:         sess.FlowID,
		ConversationID: sess.ConversationID,
		ContactID:      sess.ContactID,
		CompanyID:      sess.CompanyID,
		Status:         string(sess.Status),
		CurrentNode:    sess.CurrentNodeID,
		TriggerNode:    sess.TriggerNodeID,
		Path:           path,
		Variables:      vars,
		Waiting:        waiting,
		Error:          errStr,
		StartedAt:      sess.StartedAt.UnixNano(),
		LastActivityAt: sess.LastActivityAt.UnixNano(),
		ExpiresAt:      expiresAt,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisSession(data []byte) (*api.Session, error) {
	if len(data) == 0 {
		return nil, ErrSessionNotFound
	}
	var payload redisSessionPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, err
	}

	path, err := DecodePath(payload.Path)
	if err != nil {
		return nil, err
	}
	vars, err := DecodeVariables(payload.Variables)
	if err != nil {
		return nil, err
	}
	waiting, err := DecodeWaiting(payload.Waiting)
	if err != nil {
		return nil, err
	}

	sess := &api.Session{
		ID:             payload.ID,
		FlowID:         payload.FlowID,
		ConversationID: payload.ConversationID,
		ContactID:      payload.ContactID,
		CompanyID:      payload.CompanyID,
		Status:         api.SessionStatus(payload.Status),
		CurrentNodeID:  payload.CurrentNode,
		TriggerNodeID:  payload.TriggerNode,
		ExecutionPath:  path,
		Variables:      vars,
		Waiting:        waiting,
		StartedAt:      time.Unix(0, payload.StartedAt),
		LastActivityAt: time.Unix(0, payload.LastActivityAt),
	}
	if payload.Error != "" {
		sess.Err = errors.New(payload.Error)
	}
	if payload.ExpiresAt != 0 {
		t := time.Unix(0, payload.ExpiresAt)
		sess.ExpiresAt = &t
	}
	return sess, nil
}

func (s *RedisSessionStore) write(sess *api.Session) error {
	ctx := context.Background()

	data, err := encodeRedisSession(sess)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keySession(sess.ID), data, 0).Err(); err != nil {
		return err
	}

	// Index updates: re-add to the best-effort indexes; the conversation
	// index is kept exact so resume lookups see only live sessions.
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), sess.ID)
	pipe.SAdd(ctx, s.keyFlow(sess.FlowID), sess.ID)
	pipe.SAdd(ctx, s.keyStatus(sess.Status), sess.ID)
	if sess.IsLive() {
		pipe.SAdd(ctx, s.keyConversation(sess.ConversationID), sess.ID)
	} else {
		pipe.SRem(ctx, s.keyConversation(sess.ConversationID), sess.ID)
	}
	_, _ = pipe.Exec(ctx)

	return nil
}

func (s *RedisSessionStore) SaveSession(sess *api.Session) error {
	return s.write(sess)
}

func (s *RedisSessionStore) UpdateSession(sess *api.Session) error {
	ctx := context.Background()
	exists, err := s.client.Exists(ctx, s.keySession(sess.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrSessionNotFound
	}
	return s.write(sess)
}

func (s *RedisSessionStore) GetSession(id string) (*api.Session, error) {
	ctx := context.Background()

	data, err := s.client.Get(ctx, s.keySession(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return decodeRedisSession(data)
}

func (s *RedisSessionStore) fetchByIDs(ctx context.Context, ids []string) ([]*api.Session, error) {
	if len(ids) == 0 {
		return []*api.Session{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keySession(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var sessions []*api.Session
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		sess, err := decodeRedisSession(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *RedisSessionStore) ListSessions(filter SessionFilter) ([]*api.Session, error) {
	ctx := context.Background()

	var ids []string
	var err error

	switch {
	case filter.FlowID != "" && filter.Status != "":
		ids, err = s.client.SInter(ctx, s.keyFlow(filter.FlowID), s.keyStatus(filter.Status)).Result()
	case filter.FlowID != "":
		ids, err = s.client.SMembers(ctx, s.keyFlow(filter.FlowID)).Result()
	case filter.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(filter.Status)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.Session{}, nil
		}
		return nil, err
	}

	sessions, err := s.fetchByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Status/flow index sets can be stale after transitions; filter by
	// payload before returning.
	out := sessions[:0]
	for _, sess := range sessions {
		if filter.FlowID != "" && sess.FlowID != filter.FlowID {
			continue
		}
		if filter.ConversationID != "" && sess.ConversationID != filter.ConversationID {
			continue
		}
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *RedisSessionStore) ListActiveForConversation(conversationID string) ([]*api.Session, error) {
	ctx := context.Background()

	ids, err := s.client.SMembers(ctx, s.keyConversation(conversationID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	sessions, err := s.fetchByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := sessions[:0]
	for _, sess := range sessions {
		if sess.IsLive() {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *RedisSessionStore) ListExpired(now time.Time) ([]*api.Session, error) {
	ctx := context.Background()

	ids, err := s.client.SUnion(ctx,
		s.keyStatus(api.StatusActive),
		s.keyStatus(api.StatusWaiting),
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	sessions, err := s.fetchByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := sessions[:0]
	for _, sess := range sessions {
		if sess.IsLive() && sess.Expired(now) {
			out = append(out, sess)
		}
	}
	return out, nil
}

package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/jpelkone/convoflow/pkg/api"
)

// MongoSessionStore is a SessionStore backed by MongoDB.
type MongoSessionStore struct {
	coll *mongo.Collection
}

// Ensure it implements SessionStore.
var _ SessionStore = (*MongoSessionStore)(nil)

// NewMongoSessionStore creates a Mongo-backed session store.
// dbName defaults to "convoflow" if empty, collName defaults to "sessions".
func NewMongoSessionStore(client *mongo.Client, dbName, collName string) *MongoSessionStore {
	if dbName == "" {
		dbName = "convoflow"
	}
	if collName == "" {
		collName = "sessions"
	}
	return &MongoSessionStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

type mongoSessionDoc struct {
	ID             string `bson:"_id"`
	FlowID         string `bson:"flow_id"`
	ConversationID string `bson:"conversation_id"`
	ContactID      string `bson:"contact_id"`
	CompanyID      string `bson:"company_id"`
	Status         string `bson:"status"`
	CurrentNode    string `bson:"current_node"`
	TriggerNode    string `bson:"trigger_node"`
	Path           []byte `bson:"execution_path,omitempty"`
	Variables      []byte `bson:"variables,omitempty"`
	Waiting        []byte `bson:"waiting,omitempty"`
	Error          string `bson:"error,omitempty"`
	StartedAt      int64  `bson:"started_at"`
	LastActivityAt int64  `bson:"last_activity_at"`
	ExpiresAt      int64  `bson:"expires_at,omitempty"` // 0 = no expiry
}

func mongoDoc(sess *api.Session) (*mongoSessionDoc, error) {
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

	return &mongoSessionDoc{
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
	}, nil
}

func (d *mongoSessionDoc) session() (*api.Session, error) {
	path, err := DecodePath(d.Path)
	if err != nil {
		return nil, err
	}
	vars, err := DecodeVariables(d.Variables)
	if err != nil {
		return nil, err
	}
	waiting, err := DecodeWaiting(d.Waiting)
	if err != nil {
		return nil, err
	}

	sess := &api.Session{
		ID:             d.ID,
		FlowID:         d.FlowID,
		ConversationID: d.ConversationID,
		ContactID:      d.ContactID,
		CompanyID:      d.CompanyID,
		Status:         api.SessionStatus(d.Status),
		CurrentNodeID:  d.CurrentNode,
		TriggerNodeID:  d.TriggerNode,
		ExecutionPath:  path,
		Variables:      vars,
		Waiting:        waiting,
		StartedAt:      time.Unix(0, d.StartedAt),
		LastActivityAt: time.Unix(0, d.LastActivityAt),
	}
	if d.Error != "" {
		sess.Err = errors.New(d.Error)
	}
	if d.ExpiresAt != 0 {
		t := time.Unix(0, d.ExpiresAt)
		sess.ExpiresAt = &t
	}
	return sess, nil
}

func (s *MongoSessionStore) SaveSession(sess *api.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc, err := mongoDoc(sess)
	if err != nil {
		return err
	}
	_, err = s.coll.InsertOne(ctx, doc)
	return err
}

func (s *MongoSessionStore) UpdateSession(sess *api.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc, err := mongoDoc(sess)
	if err != nil {
		return err
	}

	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": sess.ID}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *MongoSessionStore) GetSession(id string) (*api.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var doc mongoSessionDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return doc.session()
}

func (s *MongoSessionStore) find(filter bson.M) ([]*api.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var sessions []*api.Session
	for cur.Next(ctx) {
		var doc mongoSessionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		sess, err := doc.session()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *MongoSessionStore) ListSessions(filter SessionFilter) ([]*api.Session, error) {
	query := bson.M{}
	if filter.FlowID != "" {
		query["flow_id"] = filter.FlowID
	}
	if filter.ConversationID != "" {
		query["conversation_id"] = filter.ConversationID
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	return s.find(query)
}

var mongoLiveStatuses = bson.A{string(api.StatusActive), string(api.StatusWaiting)}

func (s *MongoSessionStore) ListActiveForConversation(conversationID string) ([]*api.Session, error) {
	return s.find(bson.M{
		"conversation_id": conversationID,
		"status":          bson.M{"$in": mongoLiveStatuses},
	})
}

func (s *MongoSessionStore) ListExpired(now time.Time) ([]*api.Session, error) {
	return s.find(bson.M{
		"status":     bson.M{"$in": mongoLiveStatuses},
		"expires_at": bson.M{"$gt": 0, "$lt": now.UnixNano()},
	})
}

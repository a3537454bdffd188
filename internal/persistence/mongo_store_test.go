package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jpelkone/convoflow/internal/testutil"
	"github.com/jpelkone/convoflow/pkg/api"
)

const (
	mongoTestDB   = "convoflow_test"
	mongoTestColl = "sessions"
)

type MongoStoreTestSuite struct {
	suite.Suite
	client *mongo.Client
	store  *MongoSessionStore
}

func TestMongoStoreSuite(t *testing.T) {
	uri := testutil.StartMongoContainer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	s := new(MongoStoreTestSuite)
	s.client = client
	s.store = NewMongoSessionStore(client, mongoTestDB, mongoTestColl)
	suite.Run(t, s)
}

func (s *MongoStoreTestSuite) SetupTest() {
	ctx := context.Background()
	coll := s.client.Database(mongoTestDB).Collection(mongoTestColl)
	if err := coll.Drop(ctx); err != nil && !errors.Is(err, mongo.ErrNilDocument) {
		s.T().Fatalf("drop collection: %v", err)
	}
}

func (s *MongoStoreTestSuite) TestSessionRoundTrip() {
	sess := storeSession("s1", "conv-1", api.StatusWaiting)
	sess.Waiting = &api.WaitingContext{
		NodeID:      "menu",
		Expect:      api.InputSelection,
		VariableKey: "menu.selection",
		Options:     []api.ReplyOption{{Payload: "hours", Label: "Opening hours"}},
	}
	expiry := sess.StartedAt.Add(30 * time.Minute)
	sess.ExpiresAt = &expiry
	sess.Err = errors.New("left over from a failed run")

	s.Require().NoError(s.store.SaveSession(sess))

	got, err := s.store.GetSession("s1")
	s.Require().NoError(err)
	s.Equal(api.StatusWaiting, got.Status)
	s.Equal([]string{"start", "greet", "menu"}, got.ExecutionPath)
	s.Equal("hola", got.Variables["trigger.keyword"])
	s.Require().NotNil(got.Waiting)
	s.Equal("menu.selection", got.Waiting.VariableKey)
	s.Require().NotNil(got.ExpiresAt)
	s.True(got.ExpiresAt.Equal(expiry))
	s.Require().Error(got.Err)
	s.Contains(got.Err.Error(), "left over")

	_, err = s.store.GetSession("missing")
	s.ErrorIs(err, ErrSessionNotFound)
}

func (s *MongoStoreTestSuite) TestUpdateSession() {
	sess := storeSession("s1", "conv-1", api.StatusActive)
	s.Require().NoError(s.store.SaveSession(sess))

	sess.Status = api.StatusCompleted
	sess.CurrentNodeID = "bye"
	s.Require().NoError(s.store.UpdateSession(sess))

	got, err := s.store.GetSession("s1")
	s.Require().NoError(err)
	s.Equal(api.StatusCompleted, got.Status)
	s.Equal("bye", got.CurrentNodeID)

	s.ErrorIs(s.store.UpdateSession(storeSession("ghost", "conv-1", api.StatusActive)), ErrSessionNotFound)
}

func (s *MongoStoreTestSuite) TestListSessionsFilters() {
	a := storeSession("s1", "conv-1", api.StatusActive)
	b := storeSession("s2", "conv-2", api.StatusWaiting)
	b.FlowID = "flow-2"
	c := storeSession("s3", "conv-1", api.StatusCompleted)
	for _, sess := range []*api.Session{a, b, c} {
		s.Require().NoError(s.store.SaveSession(sess))
	}

	all, err := s.store.ListSessions(SessionFilter{})
	s.Require().NoError(err)
	s.Len(all, 3)

	byFlow, err := s.store.ListSessions(SessionFilter{FlowID: "flow-2"})
	s.Require().NoError(err)
	s.Require().Len(byFlow, 1)
	s.Equal("s2", byFlow[0].ID)

	byStatus, err := s.store.ListSessions(SessionFilter{Status: api.StatusCompleted})
	s.Require().NoError(err)
	s.Require().Len(byStatus, 1)
	s.Equal("s3", byStatus[0].ID)

	live, err := s.store.ListActiveForConversation("conv-1")
	s.Require().NoError(err)
	s.Require().Len(live, 1)
	s.Equal("s1", live[0].ID)
}

func (s *MongoStoreTestSuite) TestListExpired() {
	now := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expired := storeSession("s1", "conv-1", api.StatusWaiting)
	expired.ExpiresAt = &past
	fresh := storeSession("s2", "conv-2", api.StatusWaiting)
	fresh.ExpiresAt = &future
	eternal := storeSession("s3", "conv-3", api.StatusActive)
	done := storeSession("s4", "conv-4", api.StatusCompleted)
	done.ExpiresAt = &past
	for _, sess := range []*api.Session{expired, fresh, eternal, done} {
		s.Require().NoError(s.store.SaveSession(sess))
	}

	got, err := s.store.ListExpired(now)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("s1", got[0].ID)
}

package convoflow

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/jpelkone/convoflow/internal/engine"
	"github.com/jpelkone/convoflow/internal/persistence"
	"github.com/jpelkone/convoflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	FlowDefinition       = api.FlowDefinition
	FlowGraph            = api.FlowGraph
	NodeSpec             = api.NodeSpec
	NodeKind             = api.NodeKind
	Session              = api.Session
	SessionStatus        = api.SessionStatus
	SessionListOptions   = api.SessionListOptions
	SessionEvent         = api.SessionEvent
	InboundMessage       = api.InboundMessage
	HandleResult         = api.HandleResult
	WaitingContext       = api.WaitingContext
	ReplyOption          = api.ReplyOption
	Location             = api.Location
	ExecContext          = api.ExecContext
	Outcome              = api.Outcome
	NodeExecutor         = api.NodeExecutor
	ExecutorFunc         = api.ExecutorFunc
	Registry             = api.Registry
	ChannelConnector     = api.ChannelConnector
	BackoffPolicy        = api.BackoffPolicy
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewRegistry          = api.NewRegistry
)

// Re-export status values for convenience.

const (
	StatusActive    = api.StatusActive
	StatusWaiting   = api.StatusWaiting
	StatusPaused    = api.StatusPaused
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusAbandoned = api.StatusAbandoned
	StatusTimeout   = api.StatusTimeout
)

// Re-export node kinds for use with custom executors.

const (
	KindTrigger    = api.KindTrigger
	KindMessage    = api.KindMessage
	KindMedia      = api.KindMedia
	KindQuestion   = api.KindQuestion
	KindQuickReply = api.KindQuickReply
	KindList       = api.KindList
	KindCondition  = api.KindCondition
	KindKeyword    = api.KindKeyword
	KindWebhook    = api.KindWebhook
	KindHandoff    = api.KindHandoff
	KindUnknown    = api.KindUnknown
)

// Re-export sentinels.

var (
	ErrSessionNotFound  = api.ErrSessionNotFound
	ErrFlowNotFound     = api.ErrFlowNotFound
	ErrDuplicateMessage = api.ErrDuplicateMessage
)

// EngineConfig tunes an engine constructed by the New*Engine functions.
// The zero value works: nop connector, no observer, built-in executors,
// default step ceiling.
type EngineConfig struct {
	// Connector delivers outbound messages to the channel.
	Connector ChannelConnector

	// Registry overrides the built-in node executors entirely. When set,
	// Connector is ignored; the registry brings its own.
	Registry *Registry

	Observer Observer
	Logger   *slog.Logger

	// MaxSteps caps nodes per traversal (default 100).
	MaxSteps int

	// StrictConditionEdges makes an unwired condition node follow no edge
	// instead of every edge.
	StrictConditionEdges bool

	// StoreRetry bounds retries of session writes mid-traversal. The zero
	// value keeps the engine default of three attempts with exponential
	// backoff; build a custom policy with Backoff.
	StoreRetry BackoffPolicy
}

func (c EngineConfig) internal(store persistence.Persistence) engine.Config {
	return engine.Config{
		Persistence:          store,
		Registry:             c.Registry,
		Connector:            c.Connector,
		Observer:             c.Observer,
		Logger:               c.Logger,
		MaxSteps:             c.MaxSteps,
		StrictConditionEdges: c.StrictConditionEdges,
		StoreRetry:           c.StoreRetry,
	}
}

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return NewInMemoryEngineWithConfig(EngineConfig{})
}

// NewInMemoryEngineWithConfig returns an in-memory Engine with the given config.
func NewInMemoryEngineWithConfig(cfg EngineConfig) Engine {
	mem := persistence.NewInMemoryStore()
	eng, err := engine.New(cfg.internal(persistence.Persistence{
		Flows:    mem,
		Sessions: mem,
		Events:   mem,
	}))
	if err != nil {
		// Unreachable: the store set is complete by construction.
		panic(err)
	}
	return eng
}

// NewSQLiteEngine returns an Engine that persists sessions and history in
// a SQLite database. Flow definitions are kept in-memory; register them
// on startup.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return NewSQLiteEngineWithConfig(db, EngineConfig{})
}

// NewSQLiteEngineWithConfig returns a SQLite-backed Engine with the given config.
func NewSQLiteEngineWithConfig(db *sql.DB, cfg EngineConfig) (Engine, error) {
	sessions, err := persistence.NewSQLiteSessionStore(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(cfg.internal(persistence.Persistence{
		Flows:    persistence.NewInMemoryStore(),
		Sessions: sessions,
		Events:   events,
	}))
}

// NewPostgresEngine returns an Engine that persists sessions in PostgreSQL.
func NewPostgresEngine(db *sql.DB) (Engine, error) {
	return NewPostgresEngineWithConfig(db, EngineConfig{})
}

// NewPostgresEngineWithConfig returns a Postgres-backed Engine with the given config.
func NewPostgresEngineWithConfig(db *sql.DB, cfg EngineConfig) (Engine, error) {
	sessions, err := persistence.NewPostgresSessionStore(db)
	if err != nil {
		return nil, err
	}
	mem := persistence.NewInMemoryStore()
	return engine.New(cfg.internal(persistence.Persistence{
		Flows:    mem,
		Sessions: sessions,
		Events:   mem,
	}))
}

// NewRedisEngine returns an Engine that persists sessions in Redis.
func NewRedisEngine(client *redis.Client) (Engine, error) {
	return NewRedisEngineWithConfig(client, EngineConfig{})
}

// NewRedisEngineWithConfig returns a Redis-backed Engine with the given config.
func NewRedisEngineWithConfig(client *redis.Client, cfg EngineConfig) (Engine, error) {
	mem := persistence.NewInMemoryStore()
	return engine.New(cfg.internal(persistence.Persistence{
		Flows:    mem,
		Sessions: persistence.NewRedisSessionStore(client, ""),
		Events:   mem,
	}))
}

// NewMongoEngine returns an Engine that persists sessions in MongoDB,
// in database dbName, collection "sessions".
func NewMongoEngine(client *mongo.Client, dbName string) (Engine, error) {
	return NewMongoEngineWithConfig(client, dbName, EngineConfig{})
}

// NewMongoEngineWithConfig returns a Mongo-backed Engine with the given config.
func NewMongoEngineWithConfig(client *mongo.Client, dbName string, cfg EngineConfig) (Engine, error) {
	mem := persistence.NewInMemoryStore()
	return engine.New(cfg.internal(persistence.Persistence{
		Flows:    mem,
		Sessions: persistence.NewMongoSessionStore(client, dbName, "sessions"),
		Events:   mem,
	}))
}

// NewBuiltinRegistry returns the default node executors over the given
// connector, for callers that want to Replace individual kinds.
func NewBuiltinRegistry(connector ChannelConnector, logger *slog.Logger) *Registry {
	return engine.NewBuiltinRegistry(connector, logger)
}

// Convenience helpers that just forward to the underlying Engine.

// HandleMessage feeds one inbound message to the engine.
func HandleMessage(ctx context.Context, eng Engine, msg InboundMessage) (*HandleResult, error) {
	return eng.HandleMessage(ctx, msg)
}

// GetSession fetches a session by ID.
func GetSession(ctx context.Context, eng Engine, id string) (*Session, error) {
	return eng.GetSession(ctx, id)
}

// ListSessions lists sessions according to the given options.
func ListSessions(ctx context.Context, eng Engine, opts SessionListOptions) ([]*Session, error) {
	return eng.ListSessions(ctx, opts)
}

// ExpireSessions runs one expiry sweep at the given time.
func ExpireSessions(ctx context.Context, eng Engine, now time.Time) (int, error) {
	return eng.ExpireSessions(ctx, now)
}

// RecoverStuckSessions delegates to eng.RecoverStuckSessions.
//
// It is typically called on process startup before accepting messages:
//
//	count, err := convoflow.RecoverStuckSessions(ctx, engine)
func RecoverStuckSessions(ctx context.Context, eng Engine) (int, error) {
	return eng.RecoverStuckSessions(ctx)
}

package convoflow

import (
	"database/sql"

	"github.com/jpelkone/convoflow/internal/msgqueue"
	"github.com/jpelkone/convoflow/pkg/dispatcher"
)

// DispatcherConfig is re-exported so bundle users don't need to import
// pkg/dispatcher just to set an attempt budget.
type DispatcherConfig = dispatcher.Config

// WorkerBundle wires together an Engine, a durable message queue, and a
// Dispatcher that consumes deliveries from that queue.
//
// For now, we only provide a SQLite-backed bundle.
type WorkerBundle struct {
	Engine     Engine
	Dispatcher *dispatcher.Dispatcher

	// queue is kept unexported for now; it is primarily useful for internal
	// inspection and tests. The public API focuses on Engine and Dispatcher.
	queue msgqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Dispatcher combo
// sharing the same SQLite database. Sessions, history events, and queued
// message deliveries are persisted in the provided *sql.DB.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:convoflow.db?_journal=WAL")
//	bundle, err := convoflow.NewSQLiteBundle(db, dispatcher.Config{MaxAttempts: 3})
//	// register flows on bundle.Engine
//	// enqueue inbound messages via bundle.Dispatcher
func NewSQLiteBundle(db *sql.DB, cfg dispatcher.Config) (*WorkerBundle, error) {
	return NewSQLiteBundleWithConfig(db, cfg, EngineConfig{})
}

// NewSQLiteBundleWithConfig is NewSQLiteBundle with an engine config for
// wiring a real connector and observer.
func NewSQLiteBundleWithConfig(db *sql.DB, cfg dispatcher.Config, engCfg EngineConfig) (*WorkerBundle, error) {
	eng, err := NewSQLiteEngineWithConfig(db, engCfg)
	if err != nil {
		return nil, err
	}

	q, err := msgqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	return &WorkerBundle{
		Engine:     eng,
		Dispatcher: dispatcher.NewWithConfig(eng, q, cfg),
		queue:      q,
	}, nil
}

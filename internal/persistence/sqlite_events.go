package persistence

import (
	"database/sql"
	"time"

	"github.com/jpelkone/convoflow/pkg/api"
)

// SQLiteEventStore persists session history events in SQLite.
type SQLiteEventStore struct {
	db *sql.DB
}

var _ EventStore = (*SQLiteEventStore)(nil)

// NewSQLiteEventStore initializes the events table and returns a store.
func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			flow_id TEXT,
			node_id TEXT,
			detail TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_session_events_session
			ON session_events (session_id, seq);`,
	)
	return err
}

func (s *SQLiteEventStore) AppendEvent(ev api.SessionEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO session_events (session_id, at, type, flow_id, node_id, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.SessionID,
		ev.At.UnixNano(),
		string(ev.Type),
		ev.FlowID,
		ev.NodeID,
		ev.Detail,
	)
	return err
}

func (s *SQLiteEventStore) ListEvents(sessionID string) ([]api.SessionEvent, error) {
	rows, err := s.db.Query(`
		SELECT session_id, at, type, flow_id, node_id, detail
		FROM session_events
		WHERE session_id = ?
		ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []api.SessionEvent
	for rows.Next() {
		var ev api.SessionEvent
		var at int64
		var typeStr string
		if err := rows.Scan(&ev.SessionID, &at, &typeStr, &ev.FlowID, &ev.NodeID, &ev.Detail); err != nil {
			return nil, err
		}
		ev.At = time.Unix(0, at)
		ev.Type = api.EventType(typeStr)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

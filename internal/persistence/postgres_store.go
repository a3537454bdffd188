package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jpelkone/convoflow/pkg/api"
)

// PostgresSessionStore is a SessionStore backed by PostgreSQL.
//
// It expects an *sql.DB using a Postgres driver; the pgx stdlib driver is
// the one exercised by the examples:
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
type PostgresSessionStore struct {
	db *sql.DB
}

// Ensure PostgresSessionStore implements SessionStore.
var _ SessionStore = (*PostgresSessionStore)(nil)

// NewPostgresSessionStore initializes the required schema and returns a
// new PostgresSessionStore.
func NewPostgresSessionStore(db *sql.DB) (*PostgresSessionStore, error) {
	s := &PostgresSessionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresSessionStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			company_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_node TEXT NOT NULL,
			trigger_node TEXT NOT NULL,
			execution_path BYTEA,
			variables BYTEA,
			waiting BYTEA,
			error TEXT,
			started_at BIGINT NOT NULL,
			last_activity_at BIGINT NOT NULL,
			expires_at BIGINT
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_conversation
			ON sessions (conversation_id, status);`,
	)
	return err
}

func (s *PostgresSessionStore) SaveSession(sess *api.Session) error {
	path, vars, waiting, errStr, expiresAt, err := sessionColumns(sess)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, flow_id, conversation_id, contact_id, company_id,
			status, current_node, trigger_node, execution_path, variables, waiting,
			error, started_at, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sess.ID,
		sess.FlowID,
		sess.ConversationID,
		sess.ContactID,
		sess.CompanyID,
		string(sess.Status),
		sess.CurrentNodeID,
		sess.TriggerNodeID,
		path,
		vars,
		waiting,
		errStr,
		sess.StartedAt.UnixNano(),
		sess.LastActivityAt.UnixNano(),
		expiresAt,
	)
	return err
}

func (s *PostgresSessionStore) UpdateSession(sess *api.Session) error {
	path, vars, waiting, errStr, expiresAt, err := sessionColumns(sess)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE sessions
		SET status = $1, current_node = $2, execution_path = $3, variables = $4,
			waiting = $5, error = $6, last_activity_at = $7, expires_at = $8
		WHERE id = $9`,
		string(sess.Status),
		sess.CurrentNodeID,
		path,
		vars,
		waiting,
		errStr,
		sess.LastActivityAt.UnixNano(),
		expiresAt,
		sess.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresSessionStore) GetSession(id string) (*api.Session, error) {
	row := s.db.QueryRow(`SELECT `+sqliteSessionFields+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSQLiteSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *PostgresSessionStore) querySessions(query string, args ...any) ([]*api.Session, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*api.Session
	for rows.Next() {
		sess, err := scanSQLiteSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *PostgresSessionStore) ListSessions(filter SessionFilter) ([]*api.Session, error) {
	query := `SELECT ` + sqliteSessionFields + ` FROM sessions`
	var args []any
	var clauses []string

	if filter.FlowID != "" {
		args = append(args, filter.FlowID)
		clauses = append(clauses, fmt.Sprintf("flow_id = $%d", len(args)))
	}
	if filter.ConversationID != "" {
		args = append(args, filter.ConversationID)
		clauses = append(clauses, fmt.Sprintf("conversation_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return s.querySessions(query, args...)
}

func (s *PostgresSessionStore) ListActiveForConversation(conversationID string) ([]*api.Session, error) {
	return s.querySessions(`
		SELECT `+sqliteSessionFields+`
		FROM sessions
		WHERE conversation_id = $1 AND status IN ($2, $3)`,
		conversationID, string(api.StatusActive), string(api.StatusWaiting))
}

func (s *PostgresSessionStore) ListExpired(now time.Time) ([]*api.Session, error) {
	return s.querySessions(`
		SELECT `+sqliteSessionFields+`
		FROM sessions
		WHERE expires_at IS NOT NULL AND expires_at < $1 AND status IN ($2, $3)`,
		now.UnixNano(), string(api.StatusActive), string(api.StatusWaiting))
}

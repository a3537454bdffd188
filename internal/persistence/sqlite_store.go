package persistence

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jpelkone/convoflow/pkg/api"
)

// SQLiteSessionStore is a SessionStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteSessionStore struct {
	db *sql.DB
}

// Ensure SQLiteSessionStore implements SessionStore.
var _ SessionStore = (*SQLiteSessionStore)(nil)

// NewSQLiteSessionStore initializes the required schema in the given
// database and returns a new SQLiteSessionStore.
func NewSQLiteSessionStore(db *sql.DB) (*SQLiteSessionStore, error) {
	s := &SQLiteSessionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSessionStore) initSchema() error {
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
			execution_path BLOB,
			variables BLOB,
			waiting BLOB,
			error TEXT,
			started_at INTEGER NOT NULL,
			last_activity_at INTEGER NOT NULL,
			expires_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_conversation
			ON sessions (conversation_id, status);
		CREATE INDEX IF NOT EXISTS idx_sessions_expiry
			ON sessions (expires_at) WHERE expires_at IS NOT NULL;`,
	)
	return err
}

func sessionColumns(sess *api.Session) (path, vars, waiting []byte, errStr string, expiresAt sql.NullInt64, err error) {
	path, err = EncodePath(sess.ExecutionPath)
	if err != nil {
		return
	}
	vars, err = EncodeVariables(sess.Variables)
	if err != nil {
		return
	}
	waiting, err = EncodeWaiting(sess.Waiting)
	if err != nil {
		return
	}
	if sess.Err != nil {
		errStr = sess.Err.Error()
	}
	if sess.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: sess.ExpiresAt.UnixNano(), Valid: true}
	}
	return
}

func (s *SQLiteSessionStore) SaveSession(sess *api.Session) error {
	path, vars, waiting, errStr, expiresAt, err := sessionColumns(sess)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, flow_id, conversation_id, contact_id, company_id,
			status, current_node, trigger_node, execution_path, variables, waiting,
			error, started_at, last_activity_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *SQLiteSessionStore) UpdateSession(sess *api.Session) error {
	path, vars, waiting, errStr, expiresAt, err := sessionColumns(sess)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE sessions
		SET status = ?, current_node = ?, execution_path = ?, variables = ?,
			waiting = ?, error = ?, last_activity_at = ?, expires_at = ?
		WHERE id = ?`,
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

const sqliteSessionFields = `id, flow_id, conversation_id, contact_id, company_id,
	status, current_node, trigger_node, execution_path, variables, waiting,
	error, started_at, last_activity_at, expires_at`

func scanSQLiteSession(scan func(dest ...any) error) (*api.Session, error) {
	var sess api.Session
	var statusStr string
	var path, vars, waiting []byte
	var errStr sql.NullString
	var startedAt, lastActivityAt int64
	var expiresAt sql.NullInt64

	err := scan(&sess.ID, &sess.FlowID, &sess.ConversationID, &sess.ContactID,
		&sess.CompanyID, &statusStr, &sess.CurrentNodeID, &sess.TriggerNodeID,
		&path, &vars, &waiting, &errStr, &startedAt, &lastActivityAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	sess.Status = api.SessionStatus(statusStr)
	if sess.ExecutionPath, err = DecodePath(path); err != nil {
		return nil, err
	}
	if sess.Variables, err = DecodeVariables(vars); err != nil {
		return nil, err
	}
	if sess.Waiting, err = DecodeWaiting(waiting); err != nil {
		return nil, err
	}
	if errStr.Valid && errStr.String != "" {
		sess.Err = errors.New(errStr.String)
	}
	sess.StartedAt = time.Unix(0, startedAt)
	sess.LastActivityAt = time.Unix(0, lastActivityAt)
	if expiresAt.Valid {
		t := time.Unix(0, expiresAt.Int64)
		sess.ExpiresAt = &t
	}
	return &sess, nil
}

func (s *SQLiteSessionStore) GetSession(id string) (*api.Session, error) {
	row := s.db.QueryRow(`SELECT `+sqliteSessionFields+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSQLiteSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteSessionStore) querySessions(query string, args ...any) ([]*api.Session, error) {
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

func (s *SQLiteSessionStore) ListSessions(filter SessionFilter) ([]*api.Session, error) {
	query := `SELECT ` + sqliteSessionFields + ` FROM sessions`
	var args []any
	var clauses []string

	if filter.FlowID != "" {
		clauses = append(clauses, "flow_id = ?")
		args = append(args, filter.FlowID)
	}
	if filter.ConversationID != "" {
		clauses = append(clauses, "conversation_id = ?")
		args = append(args, filter.ConversationID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return s.querySessions(query, args...)
}

func (s *SQLiteSessionStore) ListActiveForConversation(conversationID string) ([]*api.Session, error) {
	return s.querySessions(`
		SELECT `+sqliteSessionFields+`
		FROM sessions
		WHERE conversation_id = ? AND status IN (?, ?)`,
		conversationID, string(api.StatusActive), string(api.StatusWaiting))
}

func (s *SQLiteSessionStore) ListExpired(now time.Time) ([]*api.Session, error) {
	return s.querySessions(`
		SELECT `+sqliteSessionFields+`
		FROM sessions
		WHERE expires_at IS NOT NULL AND expires_at < ? AND status IN (?, ?)`,
		now.UnixNano(), string(api.StatusActive), string(api.StatusWaiting))
}

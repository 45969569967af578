package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haven-im/haven-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema if missing.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a partial schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	is_guest      BOOLEAN NOT NULL DEFAULT 0,
	session_id    TEXT,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS channels (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	code       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	owner_id   INTEGER REFERENCES users(id),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS channel_members (
	user_id    INTEGER NOT NULL REFERENCES users(id),
	channel_id INTEGER NOT NULL REFERENCES channels(id),
	joined_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, channel_id)
);

CREATE TABLE IF NOT EXISTS calls (
	code       TEXT PRIMARY KEY,
	caller_id  INTEGER NOT NULL REFERENCES users(id),
	callee_id  INTEGER NOT NULL REFERENCES users(id),
	status     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ended_at   DATETIME
);
`

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, displayName, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, display_name, password_hash, is_guest)
		VALUES (?, ?, ?, 0)
	`
	result, err := s.db.ExecContext(ctx, query, username, displayName, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// CreateGuestUser creates a temporary guest user with session ID.
func (s *SQLiteStore) CreateGuestUser(ctx context.Context, sessionID string) (*store.User, error) {
	query := `
		INSERT INTO users (username, display_name, password_hash, is_guest, session_id)
		VALUES (?, ?, '', 1, ?)
	`
	guestUsername := "guest_" + sessionID[:8]

	result, err := s.db.ExecContext(ctx, query, guestUsername, guestUsername, sessionID)
	if err != nil {
		return nil, fmt.Errorf("insert guest user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, display_name, password_hash, is_guest, COALESCE(session_id, ''), created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.PasswordHash,
		&user.IsGuest,
		&user.SessionID,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, display_name, password_hash, is_guest, COALESCE(session_id, ''), created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.PasswordHash,
		&user.IsGuest,
		&user.SessionID,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// ==== ChannelStore implementation ====

// CreateChannel creates a channel and adds the owner as its first member.
func (s *SQLiteStore) CreateChannel(ctx context.Context, code, name string, ownerID int64) (*store.Channel, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	result, err := tx.ExecContext(ctx,
		`INSERT INTO channels (code, name, owner_id) VALUES (?, ?, ?)`,
		code, name, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channel_members (user_id, channel_id) VALUES (?, ?)`,
		ownerID, id,
	); err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.GetChannelByCode(ctx, code)
}

// GetChannelByCode retrieves a channel by its code.
func (s *SQLiteStore) GetChannelByCode(ctx context.Context, code string) (*store.Channel, error) {
	query := `
		SELECT id, code, name, owner_id, created_at
		FROM channels
		WHERE code = ?
	`
	var ch store.Channel
	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&ch.ID,
		&ch.Code,
		&ch.Name,
		&ch.OwnerID,
		&ch.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("channel not found: %w", err)
		}
		return nil, fmt.Errorf("query channel: %w", err)
	}

	return &ch, nil
}

// AddMember records persistent channel membership. Idempotent.
func (s *SQLiteStore) AddMember(ctx context.Context, userID int64, channelCode string) error {
	ch, err := s.GetChannelByCode(ctx, channelCode)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO channel_members (user_id, channel_id) VALUES (?, ?)`,
		userID, ch.ID,
	)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// RemoveMember deletes persistent channel membership.
func (s *SQLiteStore) RemoveMember(ctx context.Context, userID int64, channelCode string) error {
	ch, err := s.GetChannelByCode(ctx, channelCode)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM channel_members WHERE user_id = ? AND channel_id = ?`,
		userID, ch.ID,
	)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return nil
}

// IsMember reports whether the user holds persistent membership of the channel.
// An unknown channel is simply not a membership, not an error.
func (s *SQLiteStore) IsMember(ctx context.Context, userID int64, channelCode string) (bool, error) {
	query := `
		SELECT COUNT(1)
		FROM channel_members cm
		JOIN channels c ON c.id = cm.channel_id
		WHERE cm.user_id = ? AND c.code = ?
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, userID, channelCode).Scan(&count); err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return count > 0, nil
}

// ListMemberIDs returns the user IDs holding membership of the channel.
func (s *SQLiteStore) ListMemberIDs(ctx context.Context, channelCode string) ([]int64, error) {
	query := `
		SELECT cm.user_id
		FROM channel_members cm
		JOIN channels c ON c.id = cm.channel_id
		WHERE c.code = ?
		ORDER BY cm.user_id
	`
	rows, err := s.db.QueryContext(ctx, query, channelCode)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ==== CallStore implementation ====

// CreateCall inserts a call history row. Zero timestamps are stamped here
// so `ORDER BY created_at` stays meaningful for every caller.
func (s *SQLiteStore) CreateCall(ctx context.Context, call *store.Call) error {
	createdAt, updatedAt := call.CreatedAt, call.UpdatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	query := `
		INSERT INTO calls (code, caller_id, callee_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		call.Code, call.CallerID, call.CalleeID, string(call.Status),
		createdAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// UpdateCallStatus moves a call to a new status, stamping ended_at for
// terminal states.
func (s *SQLiteStore) UpdateCallStatus(ctx context.Context, code string, status store.CallStatus) error {
	query := `
		UPDATE calls
		SET status = ?,
		    updated_at = CURRENT_TIMESTAMP,
		    ended_at = CASE WHEN ? IN ('ended', 'rejected') THEN CURRENT_TIMESTAMP ELSE ended_at END
		WHERE code = ?
	`
	result, err := s.db.ExecContext(ctx, query, string(status), string(status), code)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("call not found: %s", code)
	}
	return nil
}

// ListRecentCalls returns the most recent calls the user took part in.
func (s *SQLiteStore) ListRecentCalls(ctx context.Context, userID int64, limit int) ([]*store.Call, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT code, caller_id, callee_id, status, created_at, updated_at, ended_at
		FROM calls
		WHERE caller_id = ? OR callee_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var calls []*store.Call
	for rows.Next() {
		var c store.Call
		var status string
		if err := rows.Scan(&c.Code, &c.CallerID, &c.CalleeID, &status, &c.CreatedAt, &c.UpdatedAt, &c.EndedAt); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		c.Status = store.CallStatus(status)
		calls = append(calls, &c)
	}
	return calls, rows.Err()
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/colearn-server/internal/store"
)

// Schema creates the session history table.
const Schema = `
CREATE TABLE IF NOT EXISTS room_sessions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id      TEXT NOT NULL,
	opened_at    DATETIME NOT NULL,
	closed_at    DATETIME,
	peak_members INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_room_sessions_room ON room_sessions(room_id, opened_at DESC);
`

// SQLiteStore implements store.History for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1) // SQLite works best with single connection
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RoomOpened starts a session record for roomID.
func (s *SQLiteStore) RoomOpened(ctx context.Context, roomID string, at time.Time) error {
	query := `
		INSERT INTO room_sessions (room_id, opened_at)
		VALUES (?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, roomID, at.UTC()); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// RoomClosed finishes the newest open session of roomID.
func (s *SQLiteStore) RoomClosed(ctx context.Context, roomID string, at time.Time, peakMembers int) error {
	query := `
		UPDATE room_sessions
		SET closed_at = ?, peak_members = ?
		WHERE id = (
			SELECT id FROM room_sessions
			WHERE room_id = ? AND closed_at IS NULL
			ORDER BY opened_at DESC, id DESC
			LIMIT 1
		)
	`
	result, err := s.db.ExecContext(ctx, query, at.UTC(), peakMembers, roomID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// RecentSessions lists sessions, newest first.
func (s *SQLiteStore) RecentSessions(ctx context.Context, limit int) ([]*store.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, room_id, opened_at, closed_at, peak_members
		FROM room_sessions
		ORDER BY opened_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// LatestSession returns the newest session for roomID.
func (s *SQLiteStore) LatestSession(ctx context.Context, roomID string) (*store.Session, error) {
	query := `
		SELECT id, room_id, opened_at, closed_at, peak_members
		FROM room_sessions
		WHERE room_id = ?
		ORDER BY opened_at DESC, id DESC
		LIMIT 1
	`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, roomID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSessionNotFound
	}
	return sess, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*store.Session, error) {
	var (
		sess     store.Session
		closedAt sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.RoomID, &sess.OpenedAt, &closedAt, &sess.PeakMembers); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if closedAt.Valid {
		t := closedAt.Time
		sess.ClosedAt = &t
	}
	return &sess, nil
}

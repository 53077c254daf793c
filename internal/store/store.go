package store

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when no history exists for a room id.
var ErrSessionNotFound = errors.New("session not found")

// Session is the history record of one room lifetime. Room contents are never
// stored; only when it existed and how busy it got.
type Session struct {
	ID          int64
	RoomID      string
	OpenedAt    time.Time
	ClosedAt    *time.Time
	PeakMembers int
}

// History records room lifetimes.
type History interface {
	// RoomOpened starts a session record for roomID.
	RoomOpened(ctx context.Context, roomID string, at time.Time) error

	// RoomClosed finishes the newest open session of roomID.
	RoomClosed(ctx context.Context, roomID string, at time.Time, peakMembers int) error

	// RecentSessions lists sessions, newest first.
	RecentSessions(ctx context.Context, limit int) ([]*Session, error)

	// LatestSession returns the newest session for roomID.
	LatestSession(ctx context.Context, roomID string) (*Session, error)

	// Close closes the underlying database connection.
	Close() error
}

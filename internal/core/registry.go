package core

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/colearn-server/internal/metrics"
	"github.com/vovakirdan/colearn-server/internal/store"
)

const (
	historyTimeout = 2 * time.Second
	// unjoinedGrace is the shortest lifetime of a room nobody has joined yet,
	// so a creator can always reach the room it was handed.
	unjoinedGrace = time.Minute
)

// RegistryOptions configures room creation and eviction.
type RegistryOptions struct {
	RoomIDDigits   int
	RoomIDAttempts int
	// EvictionGrace is how long an empty room survives. Zero evicts on the
	// last leave.
	EvictionGrace   time.Duration
	JanitorInterval time.Duration
	History         store.History
	Metrics         *metrics.Metrics
}

// Stats is a point-in-time count of live rooms and members.
type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

// Registry creates, admits into and evicts rooms.
type Registry struct {
	rooms    *RoomStore
	ids      roomIDs
	grace    time.Duration
	interval time.Duration
	history  store.History
	metrics  *metrics.Metrics
	log      *zerolog.Logger
	now      func() time.Time
}

// NewRegistry constructs a registry over an empty room store.
func NewRegistry(opts RegistryOptions, logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	interval := opts.JanitorInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Registry{
		rooms:    NewRoomStore(),
		ids:      newRoomIDs(opts.RoomIDDigits, opts.RoomIDAttempts),
		grace:    opts.EvictionGrace,
		interval: interval,
		history:  opts.History,
		metrics:  opts.Metrics,
		log:      logger,
		now:      time.Now,
	}
}

// CreateRoom inserts an empty room under a fresh id.
func (r *Registry) CreateRoom() (string, error) {
	now := r.now()
	id, err := r.ids.claim(func(id string) bool {
		return r.rooms.Insert(NewRoom(id, now))
	})
	if err != nil {
		r.log.Error().Err(err).Int("rooms", r.rooms.Len()).Msg("room id namespace exhausted")
		return "", coreError(ErrCodeCapacityExhausted, "No room is available right now. Please try again later.", err)
	}

	r.metrics.RoomOpened()
	r.record(func(ctx context.Context) error { return r.history.RoomOpened(ctx, id, now) })
	r.log.Info().Str("room_id", id).Msg("room created")
	return id, nil
}

// JoinRoom attaches c to room id and returns the state the new connection
// bootstraps from. The updated roster is broadcast to the whole room,
// including c.
func (r *Registry) JoinRoom(id string, c *Client) (Snapshot, error) {
	room, ok := r.rooms.Get(id)
	if !ok {
		return Snapshot{}, coreError(ErrCodeRoomNotFound, "Room not found. Please check the room id.", ErrRoomNotFound)
	}
	if strings.TrimSpace(c.Name) == "" {
		return Snapshot{}, coreError(ErrCodeInvalidName, "Please enter a name to continue.", ErrInvalidName)
	}

	now := r.now()
	room.mu.Lock()
	if room.closed {
		room.mu.Unlock()
		return Snapshot{}, coreError(ErrCodeRoomNotFound, "Room not found. Please check the room id.", ErrRoomNotFound)
	}
	c.RoomID = room.ID
	c.JoinedAt = now
	replaced := room.attachLocked(c, now)
	snap := room.snapshotLocked()
	removed := room.announceLocked(now)
	room.mu.Unlock()

	if replaced != nil {
		replaced.Close(ErrReplaced)
		r.log.Info().Str("room_id", id).Str("user_id", c.UserID).Msg("member rejoined, previous connection replaced")
	}
	r.dropped(room, removed)

	r.log.Info().
		Str("room_id", id).
		Str("user_id", c.UserID).
		Str("name", c.Name).
		Int("members", len(snap.Members)).
		Msg("member joined")
	return snap, nil
}

// LeaveRoom removes userID from room id and closes its connection. It reports
// whether a member was removed.
func (r *Registry) LeaveRoom(id, userID string) bool {
	room, ok := r.rooms.Get(id)
	if !ok {
		return false
	}

	now := r.now()
	room.mu.Lock()
	m, ok := room.byUser[userID]
	if !ok {
		room.mu.Unlock()
		return false
	}
	room.removeLocked(userID, now)
	removed := room.announceLocked(now)
	empty := len(room.members) == 0
	room.mu.Unlock()

	m.conn.Close(nil)
	r.dropped(room, removed)
	r.left(room, userID, empty)
	return true
}

// Release detaches c from its room. It is safe to call on every exit path of a
// connection; only the first call has an effect, and it never removes a newer
// connection that replaced c.
func (r *Registry) Release(c *Client) bool {
	if !c.markReleased() {
		return false
	}
	c.Close(nil)

	room, ok := r.rooms.Get(c.RoomID)
	if !ok {
		return false
	}

	now := r.now()
	room.mu.Lock()
	if room.memberLocked(c) == nil {
		room.mu.Unlock()
		return false
	}
	room.removeLocked(c.UserID, now)
	removed := room.announceLocked(now)
	empty := len(room.members) == 0
	room.mu.Unlock()

	r.dropped(room, removed)
	r.left(room, c.UserID, empty)
	return true
}

// Lookup returns the current snapshot of room id.
func (r *Registry) Lookup(id string) (Snapshot, bool) {
	room, ok := r.rooms.Get(id)
	if !ok {
		return Snapshot{}, false
	}
	return room.Snapshot(), true
}

// Stats counts live rooms and members.
func (r *Registry) Stats() Stats {
	var st Stats
	for _, room := range r.rooms.Rooms() {
		st.Rooms++
		st.Members += room.Len()
	}
	return st
}

// Run sweeps idle rooms until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.log.Debug().Int("evicted", n).Msg("janitor sweep")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep evicts rooms that have been empty for at least the grace period. A
// room that has never had a member is kept for at least a minute regardless.
func (r *Registry) Sweep() int {
	now := r.now()
	evicted := 0
	for _, room := range r.rooms.Rooms() {
		if r.evictIfIdle(room, now) {
			evicted++
		}
	}
	return evicted
}

func (r *Registry) evictIfIdle(room *Room, now time.Time) bool {
	grace := r.grace
	room.mu.Lock()
	if !room.joined {
		grace = max(grace, unjoinedGrace)
	}
	idle := !room.closed && len(room.members) == 0 && now.Sub(room.emptySince) >= grace
	if idle {
		room.closed = true
	}
	peak := room.peak
	room.mu.Unlock()

	if !idle || !r.rooms.Delete(room) {
		return false
	}

	r.metrics.RoomClosed()
	r.record(func(ctx context.Context) error { return r.history.RoomClosed(ctx, room.ID, now, peak) })
	r.log.Info().Str("room_id", room.ID).Int("peak_members", peak).Msg("room evicted")
	return true
}

func (r *Registry) left(room *Room, userID string, empty bool) {
	r.log.Info().Str("room_id", room.ID).Str("user_id", userID).Msg("member left")
	if empty && r.grace == 0 {
		r.evictIfIdle(room, r.now())
	}
}

func (r *Registry) dropped(room *Room, removed []*Client) {
	if len(removed) == 0 {
		return
	}
	r.metrics.Dropped(len(removed))
	for _, c := range removed {
		r.log.Warn().Str("room_id", room.ID).Str("user_id", c.UserID).Msg("slow consumer dropped")
	}
}

func (r *Registry) record(fn func(ctx context.Context) error) {
	if r.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.log.Warn().Err(err).Msg("failed to record session history")
	}
}

package core

import (
	"sort"
	"sync"
	"time"

	"github.com/vovakirdan/colearn-server/internal/proto"
)

// Defaults for a freshly created room.
const (
	DefaultDocument = "// Write your code here..."
	DefaultLanguage = "javascript"
	DefaultRunLabel = "Run Code"
)

// Member is one participant's identity and presence inside a room.
type Member struct {
	UserID      string
	DisplayName string
	Cursor      *proto.Cursor

	lastActive time.Time
	conn       *Client
}

// Snapshot is the full state of a room at one instant.
type Snapshot struct {
	RoomID     string
	Document   string
	LanguageID string
	Stdin      string
	RunStatus  proto.RunStatus
	Members    []proto.MemberInfo
}

// AllData renders the snapshot as a frame addressed to userID.
func (s Snapshot) AllData(userID string) *proto.AllData {
	return &proto.AllData{
		Document:   s.Document,
		Stdin:      s.Stdin,
		LanguageID: s.LanguageID,
		RunStatus:  s.RunStatus,
		UserID:     userID,
	}
}

// Room holds the authoritative state of one session. Every field below mu is
// guarded by it; rooms never share locks.
type Room struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	document   string
	language   string
	stdin      string
	runStatus  proto.RunStatus
	members    []*Member
	byUser     map[string]*Member
	peak       int
	emptySince time.Time
	joined     bool
	closed     bool

	// version counts applied snapshot mutations. pending holds, per requester,
	// the version at which its snapshot request was relayed to a peer.
	version uint64
	pending map[string]uint64
}

// NewRoom constructs an empty room with default editor state.
func NewRoom(id string, now time.Time) *Room {
	return &Room{
		ID:         id,
		CreatedAt:  now,
		document:   DefaultDocument,
		language:   DefaultLanguage,
		runStatus:  proto.RunStatus{Label: DefaultRunLabel},
		byUser:     make(map[string]*Member),
		pending:    make(map[string]uint64),
		emptySince: now,
	}
}

// Snapshot returns a copy of the current state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Len returns the number of attached members.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) snapshotLocked() Snapshot {
	return Snapshot{
		RoomID:     r.ID,
		Document:   r.document,
		LanguageID: r.language,
		Stdin:      r.stdin,
		RunStatus:  r.runStatus,
		Members:    r.rosterLocked(),
	}
}

func (r *Room) rosterLocked() []proto.MemberInfo {
	out := make([]proto.MemberInfo, 0, len(r.members))
	for _, m := range r.members {
		info := proto.MemberInfo{ID: m.UserID, Name: m.DisplayName}
		if m.Cursor != nil {
			cur := *m.Cursor
			info.Cursor = &cur
		}
		out = append(out, info)
	}
	return out
}

// attachLocked adds c as a member, replacing any previous entry for the same
// user. The replaced connection, if any, is returned so the caller can close it.
func (r *Room) attachLocked(c *Client, now time.Time) *Client {
	var replaced *Client
	if prev, ok := r.byUser[c.UserID]; ok {
		replaced = prev.conn
		r.removeLocked(prev.UserID, now)
	}

	m := &Member{
		UserID:      c.UserID,
		DisplayName: c.Name,
		lastActive:  now,
		conn:        c,
	}
	r.members = append(r.members, m)
	r.byUser[c.UserID] = m
	r.emptySince = time.Time{}
	r.joined = true
	if len(r.members) > r.peak {
		r.peak = len(r.members)
	}
	return replaced
}

// removeLocked deletes the member entry for userID. It reports whether an entry
// existed.
func (r *Room) removeLocked(userID string, now time.Time) bool {
	if _, ok := r.byUser[userID]; !ok {
		return false
	}
	delete(r.byUser, userID)
	delete(r.pending, userID)
	for i, m := range r.members {
		if m.UserID == userID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	if len(r.members) == 0 {
		r.emptySince = now
	}
	return true
}

// memberLocked returns the member whose live connection is c.
func (r *Room) memberLocked(c *Client) *Member {
	m, ok := r.byUser[c.UserID]
	if !ok || m.conn != c {
		return nil
	}
	return m
}

// deliverLocked queues msg to every member except the one on except. Members
// whose queues refuse the message are returned.
func (r *Room) deliverLocked(msg proto.Message, except *Client) []*Client {
	var dropped []*Client
	for _, m := range r.members {
		if m.conn == except {
			continue
		}
		if !m.conn.TrySend(msg) {
			dropped = append(dropped, m.conn)
		}
	}
	return dropped
}

// announceLocked broadcasts the roster to every member, then removes any member
// that could not take it and announces again until the roster is stable.
// It returns every client removed along the way.
func (r *Room) announceLocked(now time.Time) []*Client {
	var removed []*Client
	for {
		dropped := r.deliverLocked(&proto.Users{Members: r.rosterLocked()}, nil)
		if len(dropped) == 0 {
			return removed
		}
		for _, c := range dropped {
			r.removeLocked(c.UserID, now)
			c.Close(ErrDeliveryFailure)
		}
		removed = append(removed, dropped...)
	}
}

// dropLocked removes clients that failed delivery and tells the rest of the room.
func (r *Room) dropLocked(dropped []*Client, now time.Time) []*Client {
	if len(dropped) == 0 {
		return nil
	}
	for _, c := range dropped {
		r.removeLocked(c.UserID, now)
		c.Close(ErrDeliveryFailure)
	}
	return append(dropped, r.announceLocked(now)...)
}

// peersLocked lists other members, most recently active first, join order on ties.
func (r *Room) peersLocked(c *Client) []*Member {
	peers := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		if m.conn == c {
			continue
		}
		peers = append(peers, m)
	}
	sort.SliceStable(peers, func(i, j int) bool {
		return peers[i].lastActive.After(peers[j].lastActive)
	})
	return peers
}

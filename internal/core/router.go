package core

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/colearn-server/internal/metrics"
	"github.com/vovakirdan/colearn-server/internal/proto"
)

// Router applies inbound frames to room state and fans them out.
//
// State-carrying frames are applied under the room lock before any copy is
// queued, so a snapshot requested afterwards always reflects them. Edits to the
// same room are applied in arrival order with no merging (last write wins).
type Router struct {
	registry *Registry
	metrics  *metrics.Metrics
	log      *zerolog.Logger
}

// NewRouter builds a router over the registry's rooms.
func NewRouter(registry *Registry, m *metrics.Metrics, logger *zerolog.Logger) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Router{registry: registry, metrics: m, log: logger}
}

// Dispatch handles one frame sent by c.
func (r *Router) Dispatch(c *Client, msg proto.Message) error {
	room, ok := r.registry.rooms.Get(c.RoomID)
	if !ok {
		return ErrRoomNotFound
	}

	now := r.registry.now()
	room.mu.Lock()
	defer room.mu.Unlock()

	sender := room.memberLocked(c)
	if sender == nil {
		return ErrNotMember
	}
	sender.lastActive = now
	r.metrics.Frame(msg.Type())

	var dropped []*Client
	switch m := msg.(type) {
	case *proto.Code:
		room.document = m.Code
		room.version++
		dropped = room.deliverLocked(&proto.Code{Code: m.Code, RoomID: room.ID}, c)

	case *proto.Input:
		room.stdin = m.Input
		room.version++
		dropped = room.deliverLocked(&proto.Input{Input: m.Input, RoomID: room.ID}, c)

	case *proto.Language:
		room.language = m.Language
		room.version++
		dropped = room.deliverLocked(&proto.Language{Language: m.Language, RoomID: room.ID}, c)

	case *proto.SubmitBtnStatus:
		room.runStatus = proto.RunStatus{Label: m.Value, Busy: m.IsLoading}
		room.version++
		dropped = room.deliverLocked(&proto.SubmitBtnStatus{Value: m.Value, IsLoading: m.IsLoading, RoomID: room.ID}, c)

	case *proto.CursorPosition:
		cur := m.CursorPosition
		sender.Cursor = &cur
		dropped = room.deliverLocked(&proto.CursorPosition{UserID: c.UserID, CursorPosition: cur}, c)

	case *proto.Output:
		r.metrics.Output()
		dropped = room.deliverLocked(&proto.Output{Message: m.Message}, nil)

	case *proto.RequestToGetUsers:
		if !c.TrySend(&proto.Users{Members: room.rosterLocked()}) {
			dropped = []*Client{c}
		}

	case *proto.RequestForAllData:
		dropped = r.relaySnapshotRequest(room, c)

	case *proto.AllData:
		dropped = r.forwardSnapshot(room, c, m)

	case *proto.Users, *proto.RoomID, *proto.Error:
		return fmt.Errorf("%w: %s is sent by the server only", ErrBadRequest, msg.Type())

	default:
		return fmt.Errorf("%w: unhandled type %s", ErrBadRequest, msg.Type())
	}

	r.registry.dropped(room, room.dropLocked(dropped, now))
	return nil
}

// relaySnapshotRequest asks the most recently active peer for a snapshot on
// behalf of c. Peers that cannot take the request are dropped and the next one
// is tried. With no peer left the room answers from its own state.
func (r *Router) relaySnapshotRequest(room *Room, c *Client) []*Client {
	var dropped []*Client
	for _, peer := range room.peersLocked(c) {
		if peer.conn.TrySend(&proto.RequestForAllData{UserID: c.UserID}) {
			room.pending[c.UserID] = room.version
			return dropped
		}
		dropped = append(dropped, peer.conn)
	}

	delete(room.pending, c.UserID)
	if !c.TrySend(room.snapshotLocked().AllData(c.UserID)) {
		dropped = append(dropped, c)
	}
	return dropped
}

// forwardSnapshot delivers a peer's snapshot response to the member that asked
// for it. If the room changed after the request was relayed, the peer may have
// answered from older state, so the requester gets the room's own snapshot
// instead. Responses nobody asked for are dropped.
func (r *Router) forwardSnapshot(room *Room, c *Client, m *proto.AllData) []*Client {
	target, ok := room.byUser[m.UserID]
	stamp, asked := room.pending[m.UserID]
	if !ok || !asked || target.conn == c {
		r.log.Debug().Str("room_id", room.ID).Str("user_id", m.UserID).Msg("snapshot response without requester")
		return nil
	}
	delete(room.pending, m.UserID)

	reply := *m
	if stamp != room.version {
		r.log.Debug().Str("room_id", room.ID).Str("user_id", m.UserID).Msg("stale snapshot response replaced")
		reply = *room.snapshotLocked().AllData(m.UserID)
	}
	if !target.conn.TrySend(&reply) {
		return []*Client{target.conn}
	}
	return nil
}

// AppendOutput fans a run output line out to every member of room id. Output
// is not part of the room snapshot.
func (r *Router) AppendOutput(roomID, message string) error {
	room, ok := r.registry.rooms.Get(roomID)
	if !ok {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return ErrRoomNotFound
	}

	r.metrics.Output()
	dropped := room.deliverLocked(&proto.Output{Message: message}, nil)
	r.registry.dropped(room, room.dropLocked(dropped, r.registry.now()))
	return nil
}

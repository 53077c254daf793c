package core

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/colearn-server/internal/metrics"
	"github.com/vovakirdan/colearn-server/internal/proto"
)

type routerFixture struct {
	reg    *Registry
	router *Router
	roomID string
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	reg := newTestRegistry(t, RegistryOptions{EvictionGrace: time.Minute})
	id, err := reg.CreateRoom()
	require.NoError(t, err)
	return &routerFixture{reg: reg, router: NewRouter(reg, nil, nil), roomID: id}
}

func (f *routerFixture) join(t *testing.T, userID, name string) *Client {
	t.Helper()
	return joinNew(t, f.reg, f.roomID, userID, name)
}

func (f *routerFixture) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, ok := f.reg.Lookup(f.roomID)
	require.True(t, ok)
	return snap
}

func TestRouter_DocumentEditReachesOthersOnly(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")
	bob := f.join(t, "b", "bob")
	drain(alice)
	drain(bob)

	doc := "package main\n\nfunc main() {}\n"
	require.NoError(t, f.router.Dispatch(alice, &proto.Code{Code: doc, RoomID: f.roomID}))

	got := mustMessage[*proto.Code](t, bob)
	assert.Equal(t, doc, got.Code)
	assert.Equal(t, f.roomID, got.RoomID)
	assert.Equal(t, doc, f.snapshot(t).Document)
	assertQuiet(t, alice)
}

func TestRouter_LanguageChange(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")
	bob := f.join(t, "b", "bob")
	drain(alice)
	drain(bob)

	require.NoError(t, f.router.Dispatch(alice, &proto.Language{Language: "rust", RoomID: f.roomID}))

	assert.Equal(t, "rust", mustMessage[*proto.Language](t, bob).Language)
	assert.Equal(t, "rust", f.snapshot(t).LanguageID)
	assertQuiet(t, alice)
}

func TestRouter_StdinAndRunStatus(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")
	bob := f.join(t, "b", "bob")
	drain(alice)
	drain(bob)

	require.NoError(t, f.router.Dispatch(alice, &proto.Input{Input: "5 10"}))
	require.NoError(t, f.router.Dispatch(alice, &proto.SubmitBtnStatus{Value: "Submitting...", IsLoading: true}))

	assert.Equal(t, "5 10", mustMessage[*proto.Input](t, bob).Input)
	status := mustMessage[*proto.SubmitBtnStatus](t, bob)
	assert.Equal(t, "Submitting...", status.Value)
	assert.True(t, status.IsLoading)

	snap := f.snapshot(t)
	assert.Equal(t, "5 10", snap.Stdin)
	assert.Equal(t, proto.RunStatus{Label: "Submitting...", Busy: true}, snap.RunStatus)
}

func TestRouter_ConflictingEditsLastWriteWins(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")
	bob := f.join(t, "b", "bob")
	drain(alice)
	drain(bob)

	require.NoError(t, f.router.Dispatch(alice, &proto.Code{Code: "from alice"}))
	require.NoError(t, f.router.Dispatch(bob, &proto.Code{Code: "from bob"}))

	assert.Equal(t, "from bob", f.snapshot(t).Document)
	assert.Equal(t, "from bob", mustMessage[*proto.Code](t, alice).Code)
	assert.Equal(t, "from alice", mustMessage[*proto.Code](t, bob).Code)
}

func TestRouter_CursorReportIsIdempotent(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")
	bob := f.join(t, "b", "bob")
	drain(alice)
	drain(bob)

	report := &proto.CursorPosition{UserID: "spoofed", CursorPosition: proto.Cursor{LineNumber: 4, Column: 2}}
	require.NoError(t, f.router.Dispatch(alice, report))
	require.NoError(t, f.router.Dispatch(alice, report))

	got := mustMessage[*proto.CursorPosition](t, bob)
	assert.Equal(t, "a", got.UserID, "cursor reports are attributed to the sender")

	snap := f.snapshot(t)
	require.Len(t, snap.Members, 2)
	require.NotNil(t, snap.Members[0].Cursor)
	assert.Equal(t, proto.Cursor{LineNumber: 4, Column: 2}, *snap.Members[0].Cursor)

	require.NoError(t, f.router.Dispatch(bob, &proto.RequestToGetUsers{UserID: "b"}))
	users := mustMessage[*proto.Users](t, bob)
	assert.Len(t, users.Members, 2)
	assertQuiet(t, alice)
}

func TestRouter_LateJoinerGetsSnapshotFromPeer(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")
	for i, edit := range []string{"a", "ab", "abc"} {
		require.NoError(t, f.router.Dispatch(alice, &proto.Code{Code: edit}), "edit %d", i)
	}
	require.NoError(t, f.router.Dispatch(alice, &proto.Input{Input: "5 10"}))
	drain(alice)

	carol := f.join(t, "c", "carol")
	drain(carol)
	require.NoError(t, f.router.Dispatch(carol, &proto.RequestForAllData{}))

	req := mustMessage[*proto.RequestForAllData](t, alice)
	assert.Equal(t, "c", req.UserID)

	// alice's reconciler answers with its local state.
	require.NoError(t, f.router.Dispatch(alice, &proto.AllData{
		Document:   "abc",
		Stdin:      "5 10",
		LanguageID: DefaultLanguage,
		RunStatus:  proto.RunStatus{Label: DefaultRunLabel},
		UserID:     req.UserID,
	}))

	resp := mustMessage[*proto.AllData](t, carol)
	assert.Equal(t, "abc", resp.Document)
	assert.Equal(t, "5 10", resp.Stdin)
	assertQuiet(t, alice)
}

func TestRouter_SnapshotRequestAnsweredByRoomWhenAlone(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")
	require.NoError(t, f.router.Dispatch(alice, &proto.Input{Input: "5 10"}))
	drain(alice)

	require.NoError(t, f.router.Dispatch(alice, &proto.RequestForAllData{}))
	resp := mustMessage[*proto.AllData](t, alice)
	assert.Equal(t, "5 10", resp.Stdin)
	assert.Equal(t, "a", resp.UserID)
}

func TestRouter_SnapshotRequestGoesToMostRecentlyActivePeer(t *testing.T) {
	f := newRouterFixture(t)
	clock := time.Now()
	f.reg.now = func() time.Time { return clock }

	alice := f.join(t, "a", "alice")
	bob := f.join(t, "b", "bob")
	carol := f.join(t, "c", "carol")

	clock = clock.Add(time.Second)
	require.NoError(t, f.router.Dispatch(bob, &proto.Code{Code: "x"}))
	drain(alice)
	drain(bob)
	drain(carol)

	clock = clock.Add(time.Second)
	require.NoError(t, f.router.Dispatch(carol, &proto.RequestForAllData{}))

	assert.Equal(t, "c", mustMessage[*proto.RequestForAllData](t, bob).UserID)
	assertQuiet(t, alice)
}

func TestRouter_StaleSnapshotResponseIsReplacedByRoomState(t *testing.T) {
	f := newRouterFixture(t)
	clock := time.Now()
	f.reg.now = func() time.Time { return clock }

	alice := f.join(t, "a", "alice")
	bob := f.join(t, "b", "bob")
	require.NoError(t, f.router.Dispatch(alice, &proto.Code{Code: "v1"}))
	carol := f.join(t, "c", "carol")
	drain(alice)
	drain(bob)
	drain(carol)

	require.NoError(t, f.router.Dispatch(carol, &proto.RequestForAllData{}))
	assert.Equal(t, "c", mustMessage[*proto.RequestForAllData](t, alice).UserID)

	// bob's edit lands after the request was relayed but before alice answers.
	require.NoError(t, f.router.Dispatch(bob, &proto.Code{Code: "v2"}))
	assert.Equal(t, "v2", mustMessage[*proto.Code](t, carol).Code)

	require.NoError(t, f.router.Dispatch(alice, &proto.AllData{
		Document:   "v1",
		LanguageID: DefaultLanguage,
		RunStatus:  proto.RunStatus{Label: DefaultRunLabel},
		UserID:     "c",
	}))

	resp := mustMessage[*proto.AllData](t, carol)
	assert.Equal(t, "v2", resp.Document)
	assert.Equal(t, "c", resp.UserID)
	assert.Equal(t, "v2", f.snapshot(t).Document)

	// The request is settled; a second answer is not forwarded.
	require.NoError(t, f.router.Dispatch(alice, &proto.AllData{Document: "v1", UserID: "c"}))
	assertQuiet(t, carol)
}

func TestRouter_CursorMoveDoesNotInvalidateSnapshotResponse(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")
	carol := f.join(t, "c", "carol")
	drain(alice)
	drain(carol)

	require.NoError(t, f.router.Dispatch(carol, &proto.RequestForAllData{}))
	mustMessage[*proto.RequestForAllData](t, alice)
	require.NoError(t, f.router.Dispatch(alice, &proto.CursorPosition{CursorPosition: proto.Cursor{LineNumber: 2, Column: 1}}))
	require.NoError(t, f.router.Dispatch(alice, &proto.AllData{Document: "local", Stdin: "7", UserID: "c"}))

	resp := mustMessage[*proto.AllData](t, carol)
	assert.Equal(t, "local", resp.Document, "peer answer is forwarded when the room is unchanged")
	assert.Equal(t, "7", resp.Stdin)
}

func TestRouter_UnsolicitedSnapshotResponseIsDropped(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")
	bob := f.join(t, "b", "bob")
	drain(alice)
	drain(bob)

	require.NoError(t, f.router.Dispatch(alice, &proto.AllData{Document: "forged", UserID: "b"}))
	assertQuiet(t, bob)
}

func TestRouter_SnapshotResponseIgnoresUnknownRequester(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")
	bob := f.join(t, "b", "bob")
	drain(alice)
	drain(bob)

	require.NoError(t, f.router.Dispatch(alice, &proto.AllData{Document: "x", UserID: "gone"}))
	assertQuiet(t, bob)
}

func TestRouter_SlowConsumerIsDropped(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")
	slow := NewClient("s", "slow", 2)
	_, err := f.reg.JoinRoom(f.roomID, slow)
	require.NoError(t, err)
	drain(alice)

	// slow already holds one roster frame; two more edits overflow it.
	for _, edit := range []string{"1", "2", "3"} {
		require.NoError(t, f.router.Dispatch(alice, &proto.Code{Code: edit}))
	}

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow consumer should be closed")
	}
	assert.ErrorIs(t, slow.Err(), ErrDeliveryFailure)

	users := mustMessage[*proto.Users](t, alice)
	assert.Equal(t, []proto.MemberInfo{{ID: "a", Name: "alice"}}, users.Members)
	assert.Len(t, f.snapshot(t).Members, 1)

	// Its gateway still releases it later; that must be a no-op.
	assert.False(t, f.reg.Release(slow))
}

func TestRouter_RejectsServerOnlyFrames(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")

	for _, msg := range []proto.Message{&proto.Users{}, &proto.RoomID{}, &proto.Error{}} {
		err := f.router.Dispatch(alice, msg)
		assert.True(t, errors.Is(err, ErrBadRequest), "%s: %v", msg.Type(), err)
	}
}

func TestRouter_ReleasedClientCannotDispatch(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")
	require.True(t, f.reg.Release(alice))

	assert.ErrorIs(t, f.router.Dispatch(alice, &proto.Code{Code: "late"}), ErrNotMember)
	assert.Equal(t, DefaultDocument, f.snapshot(t).Document)
}

func TestRouter_AppendOutputReachesEveryone(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.join(t, "a", "alice")
	bob := f.join(t, "b", "bob")
	drain(alice)
	drain(bob)

	require.NoError(t, f.router.AppendOutput(f.roomID, "15"))
	assert.Equal(t, "15", mustMessage[*proto.Output](t, alice).Message)
	assert.Equal(t, "15", mustMessage[*proto.Output](t, bob).Message)

	assert.ErrorIs(t, f.router.AppendOutput("nope", "x"), ErrRoomNotFound)
}

func TestRouter_CountsEveryOutputLine(t *testing.T) {
	reg := newTestRegistry(t, RegistryOptions{EvictionGrace: time.Minute})
	m := metrics.New()
	router := NewRouter(reg, m, nil)
	id, err := reg.CreateRoom()
	require.NoError(t, err)
	alice := joinNew(t, reg, id, "a", "alice")

	require.NoError(t, router.AppendOutput(id, "from the worker"))
	require.NoError(t, router.Dispatch(alice, &proto.Output{Message: "from a client"}))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "colearn_run_output_lines_total 2")
}

func TestRouter_RoomsAreIndependent(t *testing.T) {
	f := newRouterFixture(t)
	otherID, err := f.reg.CreateRoom()
	require.NoError(t, err)

	alice := f.join(t, "a", "alice")
	bob := joinNew(t, f.reg, otherID, "b", "bob")
	drain(bob)

	require.NoError(t, f.router.Dispatch(alice, &proto.Code{Code: "room one"}))
	assertQuiet(t, bob)

	other, _ := f.reg.Lookup(otherID)
	assert.Equal(t, DefaultDocument, other.Document)
}

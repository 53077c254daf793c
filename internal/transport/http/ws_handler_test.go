package http

import (
	"net/url"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vovakirdan/colearn-server/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestCreateThenJoinSharesRoster(t *testing.T) {
	env := startTestServer(t)
	ctx := testContext(t)

	connA, ack, _ := env.join(t, ctx, "", "a", "alice")
	if len(ack.RoomID) != env.cfg.RoomIDDigits {
		t.Fatalf("unexpected room id %q", ack.RoomID)
	}

	connB, ackB, _ := env.join(t, ctx, ack.RoomID, "b", "bob")
	if ackB.RoomID != ack.RoomID {
		t.Fatalf("joined %q, want %q", ackB.RoomID, ack.RoomID)
	}

	want := []proto.MemberInfo{{ID: "a", Name: "alice"}, {ID: "b", Name: "bob"}}
	for name, conn := range map[string]*websocket.Conn{"alice": connA, "bob": connB} {
		got := expectRoster(t, ctx, conn, 2)
		if got[0] != want[0] || got[1] != want[1] {
			t.Fatalf("%s saw roster %+v, want %+v", name, got, want)
		}
	}
}

func TestLanguageChangeIsNotEchoed(t *testing.T) {
	env := startTestServer(t)
	ctx := testContext(t)

	connA, ack, _ := env.join(t, ctx, "", "a", "alice")
	connB, _, _ := env.join(t, ctx, ack.RoomID, "b", "bob")
	expectRoster(t, ctx, connA, 2)
	expectRoster(t, ctx, connB, 2)

	send(t, ctx, connA, &proto.Language{Language: "rust", RoomID: ack.RoomID})

	if got := expectFrame[*proto.Language](t, ctx, connB); got.Language != "rust" {
		t.Fatalf("bob saw language %q", got.Language)
	}

	send(t, ctx, connA, &proto.Output{Message: "marker"})
	for {
		msg := readFrame(t, ctx, connA)
		if _, ok := msg.(*proto.Language); ok {
			t.Fatal("language change echoed back to its sender")
		}
		if out, ok := msg.(*proto.Output); ok && out.Message == "marker" {
			break
		}
	}

	snap, _ := env.registry.Lookup(ack.RoomID)
	if snap.LanguageID != "rust" {
		t.Fatalf("room language %q", snap.LanguageID)
	}
}

func TestLateJoinerConverges(t *testing.T) {
	env := startTestServer(t)
	ctx := testContext(t)

	connA, ack, _ := env.join(t, ctx, "", "a", "alice")
	send(t, ctx, connA, &proto.Code{Code: "print(1)", RoomID: ack.RoomID})
	send(t, ctx, connA, &proto.Input{Input: "5 10", RoomID: ack.RoomID})
	barrier(t, ctx, connA, "applied")

	connC, _, boot := env.join(t, ctx, ack.RoomID, "c", "carol")
	if boot.Stdin != "5 10" || boot.Document != "print(1)" || boot.UserID != "c" {
		t.Fatalf("bootstrap snapshot is stale: %+v", boot)
	}

	send(t, ctx, connC, &proto.RequestForAllData{})
	req := expectFrame[*proto.RequestForAllData](t, ctx, connA)
	if req.UserID != "c" {
		t.Fatalf("snapshot request relayed for %q", req.UserID)
	}

	send(t, ctx, connA, &proto.AllData{
		Document:   "print(1)",
		Stdin:      "5 10",
		LanguageID: "javascript",
		RunStatus:  proto.RunStatus{Label: "Run Code"},
		UserID:     req.UserID,
	})
	resp := expectFrame[*proto.AllData](t, ctx, connC)
	if resp.Stdin != "5 10" {
		t.Fatalf("carol received stdin %q", resp.Stdin)
	}
}

func TestUncleanDisconnectUpdatesRoster(t *testing.T) {
	env := startTestServer(t)
	ctx := testContext(t)

	connA, ack, _ := env.join(t, ctx, "", "a", "alice")
	connB, _, _ := env.join(t, ctx, ack.RoomID, "b", "bob")
	expectRoster(t, ctx, connA, 2)

	_ = connB.CloseNow()

	got := expectRoster(t, ctx, connA, 1)
	if got[0].ID != "a" {
		t.Fatalf("unexpected roster after disconnect: %+v", got)
	}
}

func TestBlankNameIsRejected(t *testing.T) {
	env := startTestServer(t)
	ctx := testContext(t)

	conn := env.dial(t, ctx, url.Values{"roomId": {""}, "userId": {"a"}, "displayName": {"   "}})

	errFrame, ok := readFrame(t, ctx, conn).(*proto.Error)
	if !ok {
		t.Fatal("expected error frame")
	}
	if errFrame.Message != "Please enter a name to continue." {
		t.Fatalf("unexpected error message %q", errFrame.Message)
	}

	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if st := env.registry.Stats(); st.Rooms != 0 {
		t.Fatalf("rejected join created a room: %+v", st)
	}
}

func TestUnknownRoomIsRejected(t *testing.T) {
	env := startTestServer(t)
	ctx := testContext(t)

	conn := env.dial(t, ctx, url.Values{"roomId": {"999999"}, "displayName": {"alice"}})

	errFrame, ok := readFrame(t, ctx, conn).(*proto.Error)
	if !ok || !strings.Contains(errFrame.Message, "Room not found") {
		t.Fatalf("expected room not found error, got %+v", errFrame)
	}
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestJoinModeWithoutRoomIsRejected(t *testing.T) {
	env := startTestServer(t)
	ctx := testContext(t)

	conn := env.dial(t, ctx, url.Values{"mode": {"join"}, "displayName": {"alice"}})
	if _, ok := readFrame(t, ctx, conn).(*proto.Error); !ok {
		t.Fatal("expected error frame")
	}
	if st := env.registry.Stats(); st.Rooms != 0 {
		t.Fatalf("join mode created a room: %+v", st)
	}
}

func TestBlankUserIDIsAssigned(t *testing.T) {
	env := startTestServer(t)
	ctx := testContext(t)

	_, ack, boot := env.join(t, ctx, "", "", "alice")
	if _, err := uuid.Parse(boot.UserID); err != nil {
		t.Fatalf("assigned user id %q is not a uuid: %v", boot.UserID, err)
	}
	if !strings.Contains(ack.Message, boot.UserID) {
		t.Fatalf("ack %q does not carry the assigned user id", ack.Message)
	}
}

func TestLegacyHandshakeAliases(t *testing.T) {
	env := startTestServer(t)
	ctx := testContext(t)

	conn := env.dial(t, ctx, url.Values{"roomId": {""}, "id": {"legacy-1"}, "name": {"Legacy"}})
	if _, ok := readFrame(t, ctx, conn).(*proto.RoomID); !ok {
		t.Fatal("expected roomId ack")
	}

	got := expectRoster(t, ctx, conn, 1)
	if got[0].ID != "legacy-1" || got[0].Name != "Legacy" {
		t.Fatalf("aliases not honoured: %+v", got)
	}
}

func TestServerOnlyFrameIsNotFatal(t *testing.T) {
	env := startTestServer(t)
	ctx := testContext(t)

	conn, _, _ := env.join(t, ctx, "", "a", "alice")
	send(t, ctx, conn, &proto.Users{})

	errFrame := expectFrame[*proto.Error](t, ctx, conn)
	if !strings.Contains(errFrame.Message, "server only") {
		t.Fatalf("unexpected error message %q", errFrame.Message)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"teleport"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := expectFrame[*proto.Error](t, ctx, conn); got.Message != "unknown message type" {
		t.Fatalf("unexpected error message %q", got.Message)
	}

	barrier(t, ctx, conn, "still here")
}

func TestRejoinReplacesConnection(t *testing.T) {
	env := startTestServer(t)
	ctx := testContext(t)

	first, ack, _ := env.join(t, ctx, "", "a", "alice")
	second, _, _ := env.join(t, ctx, ack.RoomID, "a", "alice again")

	got := expectRoster(t, ctx, second, 1)
	if got[0].Name != "alice again" {
		t.Fatalf("roster kept the old entry: %+v", got)
	}

	for {
		if _, _, err := first.Read(ctx); err != nil {
			break
		}
	}

	snap, _ := env.registry.Lookup(ack.RoomID)
	if len(snap.Members) != 1 {
		t.Fatalf("expected one member after rejoin, got %+v", snap.Members)
	}
}

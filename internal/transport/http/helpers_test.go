package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/colearn-server/internal/config"
	"github.com/vovakirdan/colearn-server/internal/core"
	"github.com/vovakirdan/colearn-server/internal/proto"
	"github.com/vovakirdan/colearn-server/internal/store"
	"github.com/vovakirdan/colearn-server/internal/store/sqlite"
)

type testEnv struct {
	ts       *httptest.Server
	registry *core.Registry
	router   *core.Router
	history  store.History
	cfg      config.Config
}

type envOption func(*testEnv)

func withConfig(mutate func(*config.Config)) envOption {
	return func(e *testEnv) { mutate(&e.cfg) }
}

// withHistory attaches an in-memory sqlite session history.
func withHistory(t *testing.T) envOption {
	return func(e *testEnv) {
		st, err := sqlite.New(":memory:")
		if err != nil {
			t.Fatalf("failed to create test store: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		e.history = st
	}
}

func startTestServer(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{cfg: config.Default()}
	env.cfg.Addr = ":0"
	env.cfg.EvictionGrace = time.Minute
	for _, opt := range opts {
		opt(env)
	}

	disabledLogger := zerolog.Nop()
	env.registry = core.NewRegistry(core.RegistryOptions{
		RoomIDDigits:   env.cfg.RoomIDDigits,
		RoomIDAttempts: env.cfg.RoomIDAttempts,
		EvictionGrace:  env.cfg.EvictionGrace,
		History:        env.history,
	}, &disabledLogger)
	env.router = core.NewRouter(env.registry, nil, &disabledLogger)

	server := NewServer(env.registry, env.router, env.history, nil, &env.cfg, &disabledLogger)
	env.ts = httptest.NewServer(server.Handler)
	t.Cleanup(env.ts.Close)
	return env
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, query url.Values) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws?" + query.Encode()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// join dials the gateway and consumes the ack and bootstrap snapshot.
func (e *testEnv) join(t *testing.T, ctx context.Context, roomID, userID, name string) (*websocket.Conn, *proto.RoomID, *proto.AllData) {
	t.Helper()

	q := url.Values{}
	q.Set("roomId", roomID)
	q.Set("userId", userID)
	q.Set("displayName", name)
	conn := e.dial(t, ctx, q)

	ack, ok := readFrame(t, ctx, conn).(*proto.RoomID)
	if !ok {
		t.Fatalf("expected roomId ack first")
	}
	boot, ok := readFrame(t, ctx, conn).(*proto.AllData)
	if !ok {
		t.Fatalf("expected allData bootstrap after ack")
	}
	return conn, ack, boot
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.Message {
	t.Helper()

	var raw json.RawMessage
	if err := wsjson.Read(ctx, conn, &raw); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	msg, err := proto.Decode(raw)
	if err != nil {
		t.Fatalf("decode frame %s: %v", raw, err)
	}
	return msg
}

// expectFrame reads until a frame of type T arrives.
func expectFrame[T proto.Message](t *testing.T, ctx context.Context, conn *websocket.Conn) T {
	t.Helper()
	for {
		if m, ok := readFrame(t, ctx, conn).(T); ok {
			return m
		}
	}
}

// expectRoster reads users frames until one lists n members.
func expectRoster(t *testing.T, ctx context.Context, conn *websocket.Conn, n int) []proto.MemberInfo {
	t.Helper()
	for {
		users := expectFrame[*proto.Users](t, ctx, conn)
		if len(users.Members) == n {
			return users.Members
		}
	}
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, msg proto.Message) {
	t.Helper()

	data, err := proto.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write %s: %v", msg.Type(), err)
	}
}

// barrier round-trips an output marker so everything conn sent before has
// been applied by the server. Other members see the marker too.
func barrier(t *testing.T, ctx context.Context, conn *websocket.Conn, marker string) {
	t.Helper()
	send(t, ctx, conn, &proto.Output{Message: marker})
	for {
		if out := expectFrame[*proto.Output](t, ctx, conn); out.Message == marker {
			return
		}
	}
}

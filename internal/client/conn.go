package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/colearn-server/internal/proto"
)

// ErrQueueFull is returned when local edits outpace the connection.
var ErrQueueFull = errors.New("outbound queue full")

// JoinError is the server's rejection of a join.
type JoinError struct {
	Message string
}

func (e *JoinError) Error() string {
	return "join rejected: " + e.Message
}

// Options configures a participant connection.
type Options struct {
	// URL of the gateway, e.g. ws://localhost:5000/ws.
	URL         string
	RoomID      string
	UserID      string
	DisplayName string
	// OutboundQueue bounds frames waiting to be written. Zero means 64.
	OutboundQueue int
	// OnMessage, if set, is called from the event loop after each inbound
	// frame has been applied.
	OnMessage func(msg proto.Message, st State)
}

// Conn runs one Session over a websocket. All session access happens on the
// goroutine running Run; other goroutines go through Do.
type Conn struct {
	ws      *websocket.Conn
	session *Session
	roomID  string
	opts    Options
	log     *zerolog.Logger

	out     chan proto.Message
	actions chan func(*Session)
	done    chan struct{}

	mu     sync.Mutex
	err    error
	cancel context.CancelFunc

	// loopCtx lives as long as Run. Only the event loop reads it.
	loopCtx context.Context
}

// Dial connects to the gateway and waits for the join to be acknowledged. A
// blank RoomID creates a new room.
func Dial(ctx context.Context, opts Options, logger *zerolog.Logger) (*Conn, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = 64
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("roomId", opts.RoomID)
	q.Set("userId", opts.UserID)
	q.Set("displayName", opts.DisplayName)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}

	msg, err := readMessage(ctx, ws)
	if err != nil {
		ws.CloseNow()
		return nil, fmt.Errorf("read join ack: %w", err)
	}
	var ack *proto.RoomID
	switch m := msg.(type) {
	case *proto.RoomID:
		ack = m
	case *proto.Error:
		ws.CloseNow()
		return nil, &JoinError{Message: m.Message}
	default:
		ws.CloseNow()
		return nil, fmt.Errorf("expected roomId ack, got %s", msg.Type())
	}

	c := &Conn{
		ws:      ws,
		roomID:  ack.RoomID,
		opts:    opts,
		log:     logger,
		out:     make(chan proto.Message, opts.OutboundQueue),
		actions: make(chan func(*Session)),
		done:    make(chan struct{}),
	}
	c.session = NewSession(ack.RoomID, opts.UserID, opts.DisplayName, c.enqueue)
	logger.Info().Str("room_id", ack.RoomID).Msg("joined room")
	return c, nil
}

// RoomID is the room the server admitted this connection into.
func (c *Conn) RoomID() string {
	return c.roomID
}

// Run drives the session until ctx is cancelled, the server closes the
// connection, or the outbound queue overflows.
func (c *Conn) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.loopCtx = ctx
	c.mu.Unlock()
	defer func() {
		cancel()
		close(c.done)
	}()

	inbound := make(chan proto.Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			var raw json.RawMessage
			if err := wsjson.Read(ctx, c.ws, &raw); err != nil {
				readErr <- err
				return
			}
			msg, err := proto.Decode(raw)
			if err != nil {
				c.log.Warn().Err(err).Msg("skipping undecodable frame")
				continue
			}
			select {
			case inbound <- msg:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
	}()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- c.writeLoop(ctx)
	}()

	c.session.Start()
	for {
		select {
		case msg := <-inbound:
			if err := c.session.Handle(msg); err != nil {
				c.log.Warn().Err(err).Msg("ignoring inbound frame")
				continue
			}
			if c.opts.OnMessage != nil {
				c.opts.OnMessage(msg, c.session.State())
			}
		case fn := <-c.actions:
			fn(c.session)
		case err := <-readErr:
			return c.finish(err)
		case err := <-writeErr:
			return c.finish(err)
		case <-ctx.Done():
			c.ws.Close(websocket.StatusNormalClosure, "bye")
			return c.finish(nil)
		}
	}
}

// Do runs fn on the event loop and waits for it to finish. It must not be
// called from OnMessage or from inside another Do.
func (c *Conn) Do(ctx context.Context, fn func(*Session)) error {
	finished := make(chan struct{})
	wrapped := func(s *Session) {
		defer close(finished)
		fn(s)
	}
	select {
	case c.actions <- wrapped:
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a copy of the session state.
func (c *Conn) State(ctx context.Context) (State, error) {
	var st State
	err := c.Do(ctx, func(s *Session) { st = s.State() })
	return st, err
}

// RunCode starts a run. The submission happens off the event loop so inbound
// frames keep flowing while the service answers. ctx only bounds handing the
// run to the loop; the submission itself lasts as long as the connection.
func (c *Conn) RunCode(ctx context.Context, ex Executor) error {
	return c.Do(ctx, func(s *Session) {
		sub := s.BeginRun()
		loopCtx := c.loopCtx
		go func() {
			err := ex.Submit(loopCtx, sub)
			_ = c.Do(context.Background(), func(s *Session) { s.FinishRun(err) })
		}()
	})
}

// AskTutor asks t about the current code without blocking the event loop. As
// with RunCode, ctx does not bound the request itself.
func (c *Conn) AskTutor(ctx context.Context, t Tutor, question string) error {
	return c.Do(ctx, func(s *Session) {
		sc := s.BeginAsk(question)
		loopCtx := c.loopCtx
		go func() {
			reply, err := t.Ask(loopCtx, sc, question)
			_ = c.Do(context.Background(), func(s *Session) { s.FinishAsk(reply, err) })
		}()
	})
}

// Done is closed when Run returns.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why Run stopped.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops Run and closes the websocket.
func (c *Conn) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return c.ws.Close(websocket.StatusNormalClosure, "bye")
	}
	cancel()
	<-c.done
	return nil
}

// enqueue is the session's send hook. It never blocks; an overflow ends the
// connection rather than silently losing an edit.
func (c *Conn) enqueue(msg proto.Message) {
	select {
	case c.out <- msg:
	default:
		c.log.Warn().Str("kind", msg.Type()).Msg("outbound queue full")
		c.fail(ErrQueueFull)
	}
}

func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.out:
			data, err := proto.Encode(msg)
			if err != nil {
				return fmt.Errorf("encode %s: %w", msg.Type(), err)
			}
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Conn) finish(err error) error {
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		err = nil
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	err = c.err
	c.mu.Unlock()
	c.ws.CloseNow()
	return err
}

func readMessage(ctx context.Context, ws *websocket.Conn) (proto.Message, error) {
	var raw json.RawMessage
	if err := wsjson.Read(ctx, ws, &raw); err != nil {
		return nil, err
	}
	return proto.Decode(raw)
}

package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/colearn-server/internal/config"
	"github.com/vovakirdan/colearn-server/internal/core"
	"github.com/vovakirdan/colearn-server/internal/metrics"
	"github.com/vovakirdan/colearn-server/internal/proto"
)

// WSHandler upgrades HTTP connections, admits them into a room and bridges
// them to core.Client.
type WSHandler struct {
	registry *core.Registry
	router   *core.Router
	metrics  *metrics.Metrics
	cfg      *config.Config
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(registry *core.Registry, router *core.Router, m *metrics.Metrics, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{registry: registry, router: router, metrics: m, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()
	params := parseJoinParams(r.URL.Query())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.cfg.AllowedOrigins,
		InsecureSkipVerify: len(h.cfg.AllowedOrigins) == 0,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client, snap, err := h.admit(params)
	if err != nil {
		h.reject(ctx, conn, params, err)
		return
	}
	// Release is idempotent; it also runs on panics and early returns.
	defer h.registry.Release(client)

	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()

	ack := &proto.RoomID{
		RoomID:  snap.RoomID,
		Message: fmt.Sprintf("Joined room %s as %s", snap.RoomID, client.UserID),
	}
	if err := h.write(ctx, conn, ack); err != nil {
		h.log.Warn().Err(err).Str("room_id", client.RoomID).Msg("write join ack")
		return
	}
	if err := h.write(ctx, conn, snap.AllData(client.UserID)); err != nil {
		h.log.Warn().Err(err).Str("room_id", client.RoomID).Msg("write bootstrap snapshot")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	writeCtx, cancelWrite := context.WithCancel(ctx)
	defer cancelWrite()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(writeCtx, conn, client)
	}()

	// The first loop to finish decides the close frame. Closing the conn
	// unblocks a pending read; cancelling writeCtx stops the writer.
	err = <-errCh
	cancelWrite()
	h.registry.Release(client)
	status, reason := h.closeStatus(client, err)
	conn.Close(status, reason)
	<-errCh
}

// admit resolves the handshake to a room and attaches a new client to it. A
// blank display name is rejected before any room is created.
func (h *WSHandler) admit(p joinParams) (*core.Client, core.Snapshot, error) {
	if p.DisplayName == "" {
		return nil, core.Snapshot{}, invalidNameError()
	}

	roomID := p.RoomID
	switch {
	case p.Mode == modeCreate:
		id, err := h.registry.CreateRoom()
		if err != nil {
			return nil, core.Snapshot{}, err
		}
		roomID = id
	case roomID == "":
		return nil, core.Snapshot{}, missingRoomError()
	}

	userID := p.UserID
	if userID == "" {
		userID = uuid.NewString()
	}

	client := core.NewClient(userID, p.DisplayName, h.cfg.OutboundQueue)
	snap, err := h.registry.JoinRoom(roomID, client)
	if err != nil {
		return nil, core.Snapshot{}, err
	}
	return client, snap, nil
}

func (h *WSHandler) reject(ctx context.Context, conn *websocket.Conn, p joinParams, err error) {
	frame, code := rejection(err)
	h.metrics.JoinRejected(code)
	h.log.Info().
		Str("room_id", p.RoomID).
		Str("user_id", p.UserID).
		Str("code", code).
		Msg("join rejected")

	if writeErr := h.write(ctx, conn, frame); writeErr != nil {
		h.log.Debug().Err(writeErr).Msg("write join rejection")
	}
	conn.Close(websocket.StatusPolicyViolation, frame.Message)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.cfg.FramesPerMinute)
	limiter.startReset(ctx.Done())

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			client.TrySend(&proto.Error{Message: "binary frames are not supported"})
			continue
		}
		if !limiter.allow() {
			h.log.Debug().Str("room_id", client.RoomID).Str("user_id", client.UserID).Msg("frame rate limited")
			client.TrySend(&proto.Error{Message: "rate limit exceeded"})
			continue
		}

		msg, protoErr := decodeInbound(data)
		if protoErr != nil {
			h.log.Debug().Str("room_id", client.RoomID).Str("user_id", client.UserID).Str("error", protoErr.Message).Msg("rejected inbound frame")
			client.TrySend(protoErr)
			continue
		}

		h.log.Debug().Str("room_id", client.RoomID).Str("user_id", client.UserID).Str("kind", msg.Type()).Msg("inbound frame")
		if err := h.router.Dispatch(client, msg); err != nil {
			if errors.Is(err, core.ErrBadRequest) {
				client.TrySend(&proto.Error{Message: err.Error()})
				continue
			}
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case msg := <-client.Outbound():
			if err := h.write(ctx, conn, msg); err != nil {
				h.log.Warn().Err(err).Str("user_id", client.UserID).Msg("write ws frame")
				return err
			}
		case <-client.Done():
			return client.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, msg proto.Message) error {
	data, err := proto.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	if h.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.WriteTimeout)
		defer cancel()
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// closeStatus picks the close frame for a connection whose loops ended with err.
func (h *WSHandler) closeStatus(client *core.Client, err error) (websocket.StatusCode, string) {
	switch reason := client.Err(); {
	case errors.Is(reason, core.ErrDeliveryFailure):
		return websocket.StatusTryAgainLater, reason.Error()
	case errors.Is(reason, core.ErrReplaced):
		return websocket.StatusPolicyViolation, reason.Error()
	}

	status := websocket.StatusNormalClosure
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return status, "closing"
	}
	if s := websocket.CloseStatus(err); s != -1 {
		status = s
	}
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		return status, "closing"
	}
	if errors.Is(err, core.ErrNotMember) || errors.Is(err, core.ErrRoomNotFound) {
		return websocket.StatusGoingAway, "no longer in the room"
	}

	h.log.Warn().Err(err).Str("room_id", client.RoomID).Str("user_id", client.UserID).Msg("ws connection closed with error")
	return websocket.StatusInternalError, "internal error"
}

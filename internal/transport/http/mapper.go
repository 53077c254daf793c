package http

import (
	"errors"
	"net/url"
	"strings"

	"github.com/vovakirdan/colearn-server/internal/core"
	"github.com/vovakirdan/colearn-server/internal/proto"
)

const (
	modeJoin   = "join"
	modeCreate = "create"
)

// joinParams are the handshake query parameters of a gateway connection.
type joinParams struct {
	RoomID      string
	UserID      string
	DisplayName string
	Mode        string
}

// parseJoinParams reads roomId, userId and displayName, falling back to the
// short id and name aliases older clients send.
func parseJoinParams(q url.Values) joinParams {
	p := joinParams{
		RoomID:      strings.TrimSpace(q.Get("roomId")),
		UserID:      strings.TrimSpace(firstNonEmpty(q.Get("userId"), q.Get("id"))),
		DisplayName: strings.TrimSpace(firstNonEmpty(q.Get("displayName"), q.Get("name"))),
		Mode:        strings.ToLower(strings.TrimSpace(q.Get("mode"))),
	}
	if p.Mode != modeJoin && p.Mode != modeCreate {
		p.Mode = modeJoin
		if p.RoomID == "" {
			p.Mode = modeCreate
		}
	}
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// decodeInbound turns a client frame into a message the router accepts. Frames
// that cannot be routed yield a protocol error to send back instead.
func decodeInbound(data []byte) (proto.Message, *proto.Error) {
	msg, err := proto.Decode(data)
	if err != nil {
		if errors.Is(err, proto.ErrUnknownType) {
			return nil, &proto.Error{Message: "unknown message type"}
		}
		return nil, &proto.Error{Message: "malformed message"}
	}

	switch msg.(type) {
	case *proto.Users, *proto.RoomID, *proto.Error:
		return nil, &proto.Error{Message: msg.Type() + " messages are sent by the server only"}
	}
	return msg, nil
}

// rejection maps a failed admission to the error frame sent before closing and
// the code recorded in metrics.
func rejection(err error) (*proto.Error, string) {
	var coreErr *core.CoreError
	if errors.As(err, &coreErr) {
		return &proto.Error{Message: coreErr.Message}, coreErr.Code
	}
	return &proto.Error{Message: "Unable to join the room."}, "internal"
}

func invalidNameError() error {
	return &core.CoreError{
		Code:    core.ErrCodeInvalidName,
		Message: "Please enter a name to continue.",
		Err:     core.ErrInvalidName,
	}
}

func missingRoomError() error {
	return &core.CoreError{
		Code:    core.ErrCodeRoomNotFound,
		Message: "Room not found. Please check the room id.",
		Err:     core.ErrRoomNotFound,
	}
}

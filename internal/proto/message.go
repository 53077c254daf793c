package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types carried in the "type" field of every frame.
const (
	TypeRequestToGetUsers = "requestToGetUsers"
	TypeRequestForAllData = "requestForAllData"
	TypeAllData           = "allData"
	TypeUsers             = "users"
	TypeCode              = "code"
	TypeInput             = "input"
	TypeLanguage          = "language"
	TypeSubmitBtnStatus   = "submitBtnStatus"
	TypeOutput            = "output"
	TypeCursorPosition    = "cursorPosition"
	TypeRoomID            = "roomId"
	TypeError             = "error"
)

// ErrUnknownType is returned by Decode for frames with an unrecognised type.
var ErrUnknownType = errors.New("unknown message type")

// Message is one frame of the room protocol. The concrete pointer types in this
// file are the only implementations.
type Message interface {
	Type() string
	isMessage()
}

// Cursor is a caret position inside the shared document.
type Cursor struct {
	LineNumber int `json:"lineNumber"`
	Column     int `json:"column"`
}

// RunStatus mirrors the shared "run" button.
type RunStatus struct {
	Label string `json:"label"`
	Busy  bool   `json:"busy"`
}

// MemberInfo is a roster entry inside a users frame.
type MemberInfo struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Cursor *Cursor `json:"cursor,omitempty"`
}

// RequestToGetUsers asks the server for the current roster.
type RequestToGetUsers struct {
	UserID string `json:"userId"`
}

// RequestForAllData asks for a full snapshot. UserID is stamped by the server
// with the requester when the request is relayed to a peer.
type RequestForAllData struct {
	UserID string `json:"userId,omitempty"`
}

// AllData is a full snapshot addressed to UserID.
type AllData struct {
	Document   string    `json:"document"`
	Stdin      string    `json:"stdin"`
	LanguageID string    `json:"languageId"`
	RunStatus  RunStatus `json:"runStatus"`
	UserID     string    `json:"userId,omitempty"`
}

// Users carries the roster in join order.
type Users struct {
	Members []MemberInfo `json:"members"`
}

// Code overwrites the shared document text.
type Code struct {
	Code   string `json:"code"`
	RoomID string `json:"roomId,omitempty"`
}

// Input overwrites the shared stdin.
type Input struct {
	Input  string `json:"input"`
	RoomID string `json:"roomId,omitempty"`
}

// Language overwrites the document language.
type Language struct {
	Language string `json:"language"`
	RoomID   string `json:"roomId,omitempty"`
}

// SubmitBtnStatus overwrites the shared run status.
type SubmitBtnStatus struct {
	Value     string `json:"value"`
	IsLoading bool   `json:"isLoading"`
	RoomID    string `json:"roomId,omitempty"`
}

// Output appends one line of run output. It is never part of a snapshot.
type Output struct {
	Message string `json:"message"`
}

// CursorPosition reports where a member's caret is.
type CursorPosition struct {
	UserID         string `json:"userId"`
	CursorPosition Cursor `json:"cursorPosition"`
}

// RoomID acknowledges an admitted join.
type RoomID struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// Error reports a rejected join or a protocol violation.
type Error struct {
	Message string `json:"message"`
}

func (*RequestToGetUsers) Type() string { return TypeRequestToGetUsers }
func (*RequestForAllData) Type() string { return TypeRequestForAllData }
func (*AllData) Type() string           { return TypeAllData }
func (*Users) Type() string             { return TypeUsers }
func (*Code) Type() string              { return TypeCode }
func (*Input) Type() string             { return TypeInput }
func (*Language) Type() string          { return TypeLanguage }
func (*SubmitBtnStatus) Type() string   { return TypeSubmitBtnStatus }
func (*Output) Type() string            { return TypeOutput }
func (*CursorPosition) Type() string    { return TypeCursorPosition }
func (*RoomID) Type() string            { return TypeRoomID }
func (*Error) Type() string             { return TypeError }

func (*RequestToGetUsers) isMessage() {}
func (*RequestForAllData) isMessage() {}
func (*AllData) isMessage()           {}
func (*Users) isMessage()             {}
func (*Code) isMessage()              {}
func (*Input) isMessage()             {}
func (*Language) isMessage()          {}
func (*SubmitBtnStatus) isMessage()   {}
func (*Output) isMessage()            {}
func (*CursorPosition) isMessage()    {}
func (*RoomID) isMessage()            {}
func (*Error) isMessage()             {}

func newMessage(kind string) (Message, error) {
	switch kind {
	case TypeRequestToGetUsers:
		return &RequestToGetUsers{}, nil
	case TypeRequestForAllData:
		return &RequestForAllData{}, nil
	case TypeAllData:
		return &AllData{}, nil
	case TypeUsers:
		return &Users{}, nil
	case TypeCode:
		return &Code{}, nil
	case TypeInput:
		return &Input{}, nil
	case TypeLanguage:
		return &Language{}, nil
	case TypeSubmitBtnStatus:
		return &SubmitBtnStatus{}, nil
	case TypeOutput:
		return &Output{}, nil
	case TypeCursorPosition:
		return &CursorPosition{}, nil
	case TypeRoomID:
		return &RoomID{}, nil
	case TypeError:
		return &Error{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, kind)
	}
}

// Decode parses a flat {"type": ..., ...payload} frame.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	msg, err := newMessage(head.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return msg, nil
}

// Encode renders msg as a flat frame with the type field first.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	kind, err := json.Marshal(msg.Type())
	if err != nil {
		return nil, fmt.Errorf("encode type: %w", err)
	}

	out := make([]byte, 0, len(body)+len(kind)+10)
	out = append(out, `{"type":`...)
	out = append(out, kind...)
	// body is a JSON object; anything past "{" is its field list.
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
		return out, nil
	}
	return append(out, '}'), nil
}

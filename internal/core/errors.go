package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeRoomNotFound      = "room_not_found"
	ErrCodeInvalidName       = "invalid_name"
	ErrCodeCapacityExhausted = "capacity_exhausted"
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotMember         = "not_member"
	ErrCodeRateLimited       = "rate_limited"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrInvalidName       = errors.New("display name is required")
	ErrCapacityExhausted = errors.New("room id namespace exhausted")
	ErrDeliveryFailure   = errors.New("outbound queue saturated")
	ErrNotMember         = errors.New("not a member of the room")
	ErrBadRequest        = errors.New("bad request")
	ErrReplaced          = errors.New("replaced by a newer connection")
)

// CoreError wraps a code and human-readable message around a sentinel error.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(code, msg string, err error) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}

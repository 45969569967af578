package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeVoiceDenied  = "voice_denied"

	ErrCodeCallNotFound   = "call_not_found"
	ErrCodeCalleeOffline  = "callee_offline"
	ErrCodeNotParticipant = "not_participant"
	ErrCodeSelfCall       = "self_call"
)

var (
	ErrVoiceDenied  = errors.New("voice access denied")
	ErrCallNotFound = errors.New("call not found")
	ErrBadRequest   = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

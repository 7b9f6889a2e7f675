package protocol

import (
	"errors"
	"fmt"
)

// Core protocol errors
var (
	// Codec errors

	ErrShortBuffer     = errors.New("short buffer")
	ErrStringTooLong   = errors.New("string too long")
	ErrTooManyEntries  = errors.New("too many entries")
	ErrUnknownType     = errors.New("unknown message type")
	ErrMalformed       = errors.New("malformed payload")
	ErrEmptyMessage    = errors.New("empty message")
	ErrTrailingPayload = errors.New("trailing bytes after payload")

	// Transport errors

	ErrTransportClosed = errors.New("transport is closed")
	ErrNoRoute         = errors.New("no route to peer")
	ErrUnknownPeer     = errors.New("unknown peer")
	ErrFrameTooLarge   = errors.New("frame too large")
	ErrHandshake       = errors.New("handshake failed")
	ErrSendQueueFull   = errors.New("send queue full")
	ErrNoDatagrams     = errors.New("datagrams not available")

	// Session errors

	ErrFingerprintMismatch = errors.New("protocol fingerprint mismatch")
	ErrHeartbeatTimeout    = errors.New("heartbeat timeout")
	ErrHostLeft            = errors.New("host left the session")
)

// ErrorCode is the numeric reason carried by Disconnect messages.
type ErrorCode uint16

const (
	ErrorCodeNone ErrorCode = 0

	// Connection error codes (1000-1999)

	ErrorCodeClosedByPeer        ErrorCode = 1001
	ErrorCodeHeartbeatTimeout    ErrorCode = 1002
	ErrorCodeFingerprintMismatch ErrorCode = 1003
	ErrorCodeHostLeft            ErrorCode = 1004
	ErrorCodeSessionEnded        ErrorCode = 1005

	// Protocol error codes (3000-3999)

	ErrorCodeProtocolViolation ErrorCode = 3001

	ErrorCodeUnknown ErrorCode = 9999
)

// Error is a protocol error carrying a wire code.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a new protocol error.
func NewProtocolError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

var errorCodeMap = map[error]ErrorCode{
	ErrHeartbeatTimeout:    ErrorCodeHeartbeatTimeout,
	ErrFingerprintMismatch: ErrorCodeFingerprintMismatch,
	ErrHostLeft:            ErrorCodeHostLeft,
	ErrTransportClosed:     ErrorCodeClosedByPeer,
	ErrMalformed:           ErrorCodeProtocolViolation,
	ErrUnknownType:         ErrorCodeProtocolViolation,
}

// GetErrorCode returns the wire code for err.
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ErrorCodeNone
	}
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ErrorCodeUnknown
}

// malformed wraps a decode failure of message type t.
func malformed(t MessageType, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrMalformed, t, err)
}

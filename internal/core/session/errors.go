package session

import "errors"

var (
	ErrNotHost   = errors.New("session: only the host can do this")
	ErrClosed    = errors.New("session: closed")
	ErrNoLevel   = errors.New("session: no level loaded")
	ErrLocalQuit = errors.New("session: left by local request")
)

package stream

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed  = errors.New("stream session closed")
	ErrAlreadyStarted = errors.New("stream session already started")
)

// LoginRejectedError is a non-zero code in the LOGIN acknowledgment.
type LoginRejectedError struct {
	Code    int
	Message string
}

func (e *LoginRejectedError) Error() string {
	return fmt.Sprintf("login rejected: code %d: %s", e.Code, e.Message)
}

// TransportError is a socket-level failure; the session reconnects.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is a frame that could not be parsed at all.
type DecodeError struct {
	Frame string // leading bytes of the frame
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %q: %v", e.Frame, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

const maxExcerpt = 128

func excerpt(frame []byte) string {
	if len(frame) > maxExcerpt {
		return string(frame[:maxExcerpt]) + "..."
	}
	return string(frame)
}

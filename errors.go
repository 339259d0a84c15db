package librealtime

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed  = errors.New("connection has been closed")
	ErrCannotConnect     = errors.New("connection cannot be established")
	ErrTerminated        = errors.New("program exit")
	ErrRateLimit         = errors.New("rate limit exceeded")
	ErrSocketClosed      = errors.New("realtime socket is closed")
	ErrHeartbeatTimeout  = errors.New("heartbeat reply not received in time")
	ErrJoinTimeout       = errors.New("channel join timed out")
	ErrChannelClosed     = errors.New("channel closed by server")
	ErrBindingMismatch   = errors.New("mismatch between server and client bindings for postgres changes")
	ErrAlreadyActive     = errors.New("subscription is already active")
	ErrMissingCollection = errors.New("collection name is required")
)

// ServerError is an error reported by the realtime server for a given topic, either
// as an error join reply or as a system message.
type ServerError struct {
	Topic   string
	Event   string
	Message string
}

func (e ServerError) Error() string {
	return fmt.Sprintf("realtime server error on %s (%s): %s", e.Topic, e.Event, e.Message)
}

func newServerError(topic, event, message string) error {
	if message == "" {
		message = "unknown error"
	}
	return ServerError{Topic: topic, Event: event, Message: message}
}

package librealtime

import (
	"fmt"
)

type (
	// Backend is the realtime client a Subscription is built on. Socket is the websocket
	// implementation; tests provide in-memory ones.
	Backend interface {
		// Subscribe opens a channel for the given binding. Status transitions are reported
		// through onStatus, row changes through onChange, both from a transport goroutine.
		Subscribe(binding ChangeBinding, onStatus StatusHandler, onChange ChangeHandler) (Channel, error)
	}

	// Channel is a handle over a single joined topic.
	Channel interface {
		// Topic returns the topic the channel is joined to.
		Topic() string
		// Unsubscribe leaves the topic. It is idempotent; frames received afterwards are
		// dropped.
		Unsubscribe()
	}

	// ChangeBinding describes which changes a channel listens to.
	ChangeBinding struct {
		Schema string
		Table  string
		Events EventFilter
		// Filter is the server side row filter, e.g. "author_id=eq.42". Empty means all rows.
		Filter string
	}

	StatusHandler func(status ChannelStatus, err error)

	ChangeHandler func(change RawChange)

	CloseChan chan struct{}
)

// ChannelStatus is the lifecycle state reported by a Channel.
type ChannelStatus int

const (
	StatusSubscribed ChannelStatus = iota + 1
	StatusChannelError
	StatusTimedOut
	StatusClosed
)

func (s ChannelStatus) String() string {
	switch s {
	case StatusSubscribed:
		return "SUBSCRIBED"
	case StatusChannelError:
		return "CHANNEL_ERROR"
	case StatusTimedOut:
		return "TIMED_OUT"
	case StatusClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ChannelStatus(%d)", int(s))
	}
}

func (b ChangeBinding) String() string {
	return bindingString(string(b.Events), b.Schema, b.Table, b.Filter)
}

func (b ChangeBinding) wire() postgresChangesBinding {
	events := b.Events
	if events == "" {
		events = EventAll
	}
	return postgresChangesBinding{
		Event:  string(events),
		Schema: b.Schema,
		Table:  b.Table,
		Filter: b.Filter,
	}
}

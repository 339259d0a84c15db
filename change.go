package librealtime

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ChangeType is the kind of row change carried by a change event.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// EventFilter selects which row changes a subscription listens to.
type EventFilter string

const (
	EventAll    EventFilter = "*"
	EventInsert EventFilter = "INSERT"
	EventUpdate EventFilter = "UPDATE"
	EventDelete EventFilter = "DELETE"
)

// ParseEventFilter accepts insert, update, delete or * in any case. Empty means all.
func ParseEventFilter(s string) (EventFilter, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "*", "ALL":
		return EventAll, nil
	case "INSERT":
		return EventInsert, nil
	case "UPDATE":
		return EventUpdate, nil
	case "DELETE":
		return EventDelete, nil
	default:
		return "", errors.Errorf("unknown event filter %q", s)
	}
}

// Matches reports whether a change of type t passes the filter.
func (f EventFilter) Matches(t ChangeType) bool {
	return f == EventAll || f == "" || string(f) == string(t)
}

// RawChange is a change event as received from the wire, records undecoded.
type RawChange struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	CommitTimestamp string          `json:"commit_timestamp"`
	Type            ChangeType      `json:"type"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	Errors          []string        `json:"errors,omitempty"`
}

// Change is the envelope handed to OnChange callbacks.
type Change[T any] struct {
	Type            ChangeType
	Schema          string
	Table           string
	CommitTimestamp time.Time
	// New is the row after an insert or update.
	New T
	// Old is the row before an update or delete. Depending on the table replica
	// identity it may only carry the primary key.
	Old    T
	Errors []string
}

func decodeChange[T any](raw RawChange) (Change[T], error) {
	c := Change[T]{
		Type:   raw.Type,
		Schema: raw.Schema,
		Table:  raw.Table,
		Errors: raw.Errors,
	}

	if raw.CommitTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw.CommitTimestamp); err == nil {
			c.CommitTimestamp = ts
		}
	}

	if hasRecord(raw.Record) {
		if err := json.Unmarshal(raw.Record, &c.New); err != nil {
			return c, errors.Wrapf(err, "cannot decode %s record of %s.%s", raw.Type, raw.Schema, raw.Table)
		}
	}

	if hasRecord(raw.OldRecord) {
		if err := json.Unmarshal(raw.OldRecord, &c.Old); err != nil {
			return c, errors.Wrapf(err, "cannot decode %s old record of %s.%s", raw.Type, raw.Schema, raw.Table)
		}
	}

	return c, nil
}

func hasRecord(r json.RawMessage) bool {
	return len(r) > 0 && string(r) != "null"
}

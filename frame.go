package librealtime

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Channel events of the realtime protocol (phoenix serializer vsn 1.0.0).
const (
	EventJoin            = "phx_join"
	EventReply           = "phx_reply"
	EventLeave           = "phx_leave"
	EventClose           = "phx_close"
	EventError           = "phx_error"
	EventHeartbeat       = "heartbeat"
	EventPostgresChanges = "postgres_changes"
	EventSystem          = "system"
	EventAccessToken     = "access_token"

	heartbeatTopic = "phoenix"

	replyStatusOK    = "ok"
	replyStatusError = "error"
)

// Frame is the envelope of every message exchanged with the realtime server.
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type (
	postgresChangesBinding struct {
		Event  string `json:"event"`
		Schema string `json:"schema"`
		Table  string `json:"table"`
		Filter string `json:"filter,omitempty"`
	}

	joinConfig struct {
		PostgresChanges []postgresChangesBinding `json:"postgres_changes"`
	}

	joinPayload struct {
		Config      joinConfig `json:"config"`
		AccessToken string     `json:"access_token,omitempty"`
	}

	replyPayload struct {
		Status   string          `json:"status"`
		Response json.RawMessage `json:"response,omitempty"`
	}

	// serverBinding is a binding acknowledged by the server in a join reply. ID tags the
	// postgres_changes frames it produces.
	serverBinding struct {
		ID     int64  `json:"id"`
		Event  string `json:"event"`
		Schema string `json:"schema"`
		Table  string `json:"table"`
		Filter string `json:"filter,omitempty"`
	}

	// replyResponse is the response of a reply: the error reason, e.g.
	// {"reason":"..."}, or the bindings of a successful join.
	replyResponse struct {
		Reason          string          `json:"reason,omitempty"`
		Message         string          `json:"message,omitempty"`
		PostgresChanges []serverBinding `json:"postgres_changes,omitempty"`
	}

	systemPayload struct {
		Status    string `json:"status"`
		Extension string `json:"extension,omitempty"`
		Message   string `json:"message,omitempty"`
		Channel   string `json:"channel,omitempty"`
	}

	changePayload struct {
		IDs  []int64   `json:"ids"`
		Data RawChange `json:"data"`
	}

	accessTokenPayload struct {
		AccessToken string `json:"access_token"`
	}
)

func (b postgresChangesBinding) String() string {
	return bindingString(b.Event, b.Schema, b.Table, b.Filter)
}

func (b serverBinding) String() string {
	return bindingString(b.Event, b.Schema, b.Table, b.Filter)
}

func bindingString(event, schema, table, filter string) string {
	s := event + ":" + schema + "." + table
	if filter != "" {
		s += "?" + filter
	}
	return s
}

// matches compares a server binding with the requested one the way the server echoes
// it back: event case aside, every field must be identical.
func (b serverBinding) matches(want postgresChangesBinding) bool {
	return strings.EqualFold(b.Event, want.Event) &&
		b.Schema == want.Schema &&
		b.Table == want.Table &&
		b.Filter == want.Filter
}

func (r replyPayload) response() (replyResponse, error) {
	var resp replyResponse
	if len(r.Response) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(r.Response, &resp); err != nil {
		return resp, errors.Wrap(err, "malformed reply response")
	}
	return resp, nil
}

func (r replyPayload) errorMessage() string {
	if len(r.Response) == 0 {
		return ""
	}
	var resp replyResponse
	if err := json.Unmarshal(r.Response, &resp); err != nil {
		return string(r.Response)
	}
	if resp.Reason != "" {
		return resp.Reason
	}
	if resp.Message != "" {
		return resp.Message
	}
	return string(r.Response)
}

func encodeFrame(topic, event string, payload any, ref, joinRef string) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot encode %s payload", event)
	}

	bts, err := json.Marshal(Frame{
		Topic:   topic,
		Event:   event,
		Payload: raw,
		Ref:     ref,
		JoinRef: joinRef,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot encode %s frame", event)
	}

	return NewDataMessage(bts), nil
}

func decodeFrame(m Message) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(m.Data(), &f); err != nil {
		return f, errors.Wrap(err, "malformed frame")
	}
	if f.Topic == "" || f.Event == "" {
		return f, errors.Errorf("malformed frame: missing topic or event in %s", m.Data())
	}
	return f, nil
}

func decodePayload[P any](f Frame) (P, error) {
	var p P
	if len(f.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return p, errors.Wrapf(err, "malformed %s payload on %s", f.Event, f.Topic)
	}
	return p, nil
}

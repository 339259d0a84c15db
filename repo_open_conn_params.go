package librealtime

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const protocolVersion = "1.0.0"

type (
	OpenConnectionParams struct {
		URL    url.URL
		Header http.Header
	}

	OpenConnectionParamsGetter func(ctx context.Context) (OpenConnectionParams, error)

	OpenConnectionParamsRepo struct {
		logger Logger
		getter OpenConnectionParamsGetter
	}
)

func (r OpenConnectionParamsRepo) Get(
	ctx context.Context,
) (params OpenConnectionParams, err error) {
	params, err = r.getter(ctx)
	if err != nil {
		r.logger.Errorf("cannot fetch open connection params: %s", err)
	}
	return
}

func NewOpenConnectionParamsRepo(
	logger Logger,
	getter OpenConnectionParamsGetter,
) OpenConnectionParamsRepo {
	return OpenConnectionParamsRepo{getter: getter, logger: logger}
}

// RealtimeURL builds the websocket URL of a realtime endpoint such as
// https://xyz.supabase.co/realtime/v1. http(s) schemes are turned into ws(s).
func RealtimeURL(endpoint, apiKey string) (url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return url.URL{}, errors.Wrapf(err, "invalid realtime endpoint %q", endpoint)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return url.URL{}, errors.Errorf("invalid realtime endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return url.URL{}, errors.Errorf("invalid realtime endpoint %q: missing host", endpoint)
	}

	if !strings.HasSuffix(u.Path, "/websocket") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/websocket"
	}

	q := u.Query()
	if apiKey != "" {
		q.Set("apikey", apiKey)
	}
	q.Set("vsn", protocolVersion)
	u.RawQuery = q.Encode()

	return *u, nil
}

// StaticParamsGetter always dials the same realtime endpoint.
func StaticParamsGetter(endpoint, apiKey string) (OpenConnectionParamsGetter, error) {
	u, err := RealtimeURL(endpoint, apiKey)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if apiKey != "" {
		header.Set("apikey", apiKey)
	}

	return func(context.Context) (OpenConnectionParams, error) {
		return OpenConnectionParams{URL: u, Header: header.Clone()}, nil
	}, nil
}

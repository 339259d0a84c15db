package librealtime

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

// SocketEvent is a connection state change of a Socket.
type SocketEvent int

const (
	SocketConnected SocketEvent = iota + 1
	SocketDisconnected
	SocketReconnected
)

func (e SocketEvent) String() string {
	switch e {
	case SocketConnected:
		return "connected"
	case SocketDisconnected:
		return "disconnected"
	case SocketReconnected:
		return "reconnected"
	default:
		return "SocketEvent(" + strconv.Itoa(int(e)) + ")"
	}
}

// SocketConfig configures a Socket.
type SocketConfig struct {
	// Endpoint is the realtime base URL, e.g. https://xyz.supabase.co/realtime/v1.
	Endpoint string
	// APIKey is the project anonymous or service key.
	APIKey string
	// AccessToken is the user JWT sent when joining channels. Defaults to APIKey.
	AccessToken string

	HeartbeatInterval     time.Duration
	JoinTimeout           time.Duration
	ConnDurationThreshold time.Duration

	Dialer  *websocket.Dialer
	BackOff func() backoff.BackOff
}

// Socket is a realtime client multiplexing channels over a single websocket. It keeps
// the websocket open, but channels are not rejoined on reconnect: they report
// StatusChannelError and their owner decides how to recover.
type Socket struct {
	logger             Logger
	cfg                SocketConfig
	connHandlerFactory ConnectionHandlerFactory
	connHandler        ConnectionHandler
	emitter            *EventEmitterCallback[SocketEvent, error]

	refs atomic.Uint64
	seq  atomic.Uint64

	mu       sync.RWMutex
	channels map[string]*channel
	token    string
	closed   bool

	closeOnce sync.Once
}

// NewSocket builds a Socket dialing cfg.Endpoint with the default connection stack:
// reconnect with backoff, heartbeat, websocket pong replies.
func NewSocket(logger Logger, cfg SocketConfig) (*Socket, error) {
	getter, err := StaticParamsGetter(cfg.Endpoint, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	paramsRepo := NewOpenConnectionParamsRepo(logger, getter)

	factory := NewBackoffConnectionHandlerFactory(
		logger,
		NewHeartbeatConnectionHandlerFactory(
			logger,
			NewPassiveKeepAliveConnectionHandlerFactory(
				NewConnectionHandlerFactory(
					logger,
					NewWebsocketFactory(logger, cfg.Dialer, paramsRepo, ErrorAdapters{}),
				),
				KeepAliveHandlerReplyPingWithPong,
			),
			cfg.HeartbeatInterval,
		),
		cfg.BackOff,
		cfg.ConnDurationThreshold,
	)

	return newSocket(logger, cfg, factory), nil
}

func newSocket(logger Logger, cfg SocketConfig, factory ConnectionHandlerFactory) *Socket {
	token := cfg.AccessToken
	if token == "" {
		token = cfg.APIKey
	}
	return &Socket{
		logger:             logger.WithField("type", "realtime_socket"),
		cfg:                cfg,
		connHandlerFactory: factory,
		emitter:            NewEventEmitter[SocketEvent, error](),
		channels:           make(map[string]*channel),
		token:              token,
	}
}

// Open connects the socket. It blocks until the first connection is established or
// ctx is done.
func (s *Socket) Open(ctx context.Context) error {
	s.emitter.On(SocketDisconnected, s.onDisconnect)

	ch := s.connHandlerFactory(s.handleMessage, s.emitter)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSocketClosed
	}
	s.connHandler = ch
	s.mu.Unlock()

	return ch.Connect(ctx)
}

// On registers fn for socket state changes. The error is the close reason on
// SocketDisconnected and nil otherwise.
func (s *Socket) On(event SocketEvent, fn func(error)) (off func()) {
	return s.emitter.On(event, fn)
}

// Close leaves every channel and closes the connection.
func (s *Socket) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		channels := s.snapshotLocked()
		s.mu.Unlock()

		for _, ch := range channels {
			ch.fail(StatusClosed, ErrSocketClosed)
		}

		s.emitter.Close()

		s.mu.RLock()
		connHandler := s.connHandler
		s.mu.RUnlock()

		if connHandler != nil {
			connHandler.Close()
		}
	})
}

// Done is closed once the socket gave up reconnecting or was closed.
func (s *Socket) Done() <-chan struct{} {
	s.mu.RLock()
	ch := s.connHandler
	s.mu.RUnlock()

	if ch == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return ch.CloseChan()
}

// Subscribe implements Backend.
func (s *Socket) Subscribe(binding ChangeBinding, onStatus StatusHandler, onChange ChangeHandler) (Channel, error) {
	if binding.Schema == "" {
		binding.Schema = defaultSchema
	}

	topic := fmt.Sprintf("realtime:%s:%s:%d", binding.Schema, binding.Table, s.seq.Add(1))

	ch := newChannel(s, s.logger, topic, binding, s.cfg.JoinTimeout, onStatus, onChange)

	s.mu.Lock()
	if s.closed || s.connHandler == nil {
		s.mu.Unlock()
		return nil, ErrSocketClosed
	}
	s.channels[topic] = ch
	s.mu.Unlock()

	if err := ch.join(); err != nil {
		s.remove(topic)
		return nil, err
	}

	return ch, nil
}

// SetAccessToken replaces the token used to authorize channels and pushes it to the
// joined ones.
func (s *Socket) SetAccessToken(token string) {
	s.mu.Lock()
	s.token = token
	channels := s.snapshotLocked()
	s.mu.Unlock()

	for _, ch := range channels {
		ch.refreshAccessToken(token)
	}
}

func (s *Socket) handleMessage(m Message) {
	s.mu.RLock()
	connHandler := s.connHandler
	s.mu.RUnlock()

	if !m.Type().IsData() {
		connHandler.Recv(m)
		return
	}

	f, err := decodeFrame(m)
	if err != nil {
		s.logger.Warnf("dropping frame: %s", err)
		return
	}

	if f.Topic == heartbeatTopic {
		connHandler.Recv(m)
		return
	}

	s.mu.RLock()
	ch := s.channels[f.Topic]
	s.mu.RUnlock()

	if ch == nil {
		s.logger.Debugf("dropping %s for unknown topic %s", f.Event, f.Topic)
		return
	}

	ch.handleFrame(f)
}

func (s *Socket) onDisconnect(reason error) {
	s.mu.RLock()
	channels := s.snapshotLocked()
	s.mu.RUnlock()

	if len(channels) > 0 {
		s.logger.Infof("connection lost (%s), failing %d channels", reason, len(channels))
	}

	err := ErrSocketClosed
	if reason != nil {
		err = errors.Wrap(ErrSocketClosed, reason.Error())
	}

	for _, ch := range channels {
		ch.fail(StatusChannelError, err)
	}
}

func (s *Socket) snapshotLocked() []*channel {
	channels := make([]*channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	return channels
}

func (s *Socket) push(m Message) error {
	s.mu.RLock()
	closed, connHandler := s.closed, s.connHandler
	s.mu.RUnlock()

	if closed || connHandler == nil {
		return ErrSocketClosed
	}
	return connHandler.Send(m)
}

func (s *Socket) makeRef() string {
	return strconv.FormatUint(s.refs.Add(1), 10)
}

func (s *Socket) accessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Socket) remove(topic string) {
	s.mu.Lock()
	delete(s.channels, topic)
	s.mu.Unlock()
}

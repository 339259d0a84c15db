package librealtime

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const defaultHeartbeatInterval = 25 * time.Second

// heartbeatConnectionHandler sends a heartbeat frame every interval. When the previous
// heartbeat is still unanswered at the next tick the connection is considered dead and
// closed with ErrHeartbeatTimeout.
type heartbeatConnectionHandler struct {
	ConnectionHandler
	interval time.Duration
	logger   Logger

	mu         sync.Mutex
	seq        uint64
	pendingRef string
	closeErr   error

	connectOnce sync.Once
}

// Connect opens the inner connection and starts the heartbeat routine. It only
// executes once.
func (h *heartbeatConnectionHandler) Connect(ctx context.Context) (err error) {
	h.connectOnce.Do(func() {
		err = h.ConnectionHandler.Connect(ctx)
		if err != nil {
			return
		}

		go h.run(ctx)
	})

	return
}

func (h *heartbeatConnectionHandler) run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	closed := h.ConnectionHandler.CloseChan()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-ticker.C:
			if err := h.beat(); err != nil {
				h.fail(err)
				return
			}
		}
	}
}

func (h *heartbeatConnectionHandler) beat() error {
	h.mu.Lock()
	if h.pendingRef != "" {
		ref := h.pendingRef
		h.mu.Unlock()
		h.logger.Warnf("heartbeat %s not answered within %s, closing connection", ref, h.interval)
		return ErrHeartbeatTimeout
	}
	h.seq++
	ref := "hb-" + strconv.FormatUint(h.seq, 10)
	h.pendingRef = ref
	h.mu.Unlock()

	msg, err := encodeFrame(heartbeatTopic, EventHeartbeat, struct{}{}, ref, "")
	if err != nil {
		return err
	}

	return h.ConnectionHandler.Send(msg)
}

func (h *heartbeatConnectionHandler) fail(err error) {
	h.mu.Lock()
	if h.closeErr == nil {
		h.closeErr = err
	}
	h.mu.Unlock()

	h.ConnectionHandler.Close()
}

// Recv clears the pending heartbeat when its reply arrives.
func (h *heartbeatConnectionHandler) Recv(m Message) {
	if m.Type().IsData() {
		if f, err := decodeFrame(m); err == nil && f.Topic == heartbeatTopic && f.Event == EventReply {
			h.mu.Lock()
			if f.Ref == h.pendingRef {
				h.pendingRef = ""
			}
			h.mu.Unlock()
		}
	}

	h.ConnectionHandler.Recv(m)
}

func (h *heartbeatConnectionHandler) CloseErr() error {
	h.mu.Lock()
	err := h.closeErr
	h.mu.Unlock()

	if err != nil {
		return err
	}
	return h.ConnectionHandler.CloseErr()
}

func newHeartbeatConnectionHandler(
	logger Logger,
	ch ConnectionHandler,
	interval time.Duration,
) *heartbeatConnectionHandler {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return &heartbeatConnectionHandler{
		ConnectionHandler: ch,
		logger:            logger,
		interval:          interval,
	}
}

func NewHeartbeatConnectionHandlerFactory(
	logger Logger,
	factory ConnectionHandlerFactory,
	interval time.Duration,
) ConnectionHandlerFactory {
	return func(handler MessageHandler, emitter emitter[SocketEvent, error]) ConnectionHandler {
		return newHeartbeatConnectionHandler(
			logger.WithField("subtype", "heartbeatConnectionHandler"),
			factory(handler, emitter),
			interval,
		)
	}
}

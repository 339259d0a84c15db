package librealtime

import (
	"context"
	"sync"
)

// basicConnectionHandler is the innermost handler: it owns the Connection and pumps
// every received message into the MessageHandler.
type basicConnectionHandler struct {
	logger      Logger
	connFactory ConnectionFactory
	conn        Connection
	handler     MessageHandler

	closeC    CloseChan
	closeOnce sync.Once
}

func (h *basicConnectionHandler) Connect(ctx context.Context) error {
	recv := make(chan Message, 64)

	h.conn = h.connFactory(ctx, recv)

	if err := h.conn.Open(ctx); err != nil {
		h.Close()
		return err
	}

	go h.pump(ctx, recv)

	return nil
}

func (h *basicConnectionHandler) pump(ctx context.Context, recv <-chan Message) {
	defer h.Close()

	connClosed := h.conn.CloseChan()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closeC:
			return
		case <-connClosed:
			return
		case m := <-recv:
			h.handler(m)
		}
	}
}

// Recv is the end of the decorator chain.
func (h *basicConnectionHandler) Recv(m Message) {
	if m.Type().IsClose() {
		h.logger.Debugf("server sent close: %s", m)
	}
}

func (h *basicConnectionHandler) Send(m Message) error {
	if h.conn == nil {
		return ErrConnectionClosed
	}
	return h.conn.Write(m)
}

func (h *basicConnectionHandler) CloseChan() CloseChan {
	return h.closeC
}

func (h *basicConnectionHandler) CloseErr() error {
	if h.conn == nil {
		return ErrConnectionClosed
	}
	return h.conn.CloseErr()
}

func (h *basicConnectionHandler) Close() {
	h.closeOnce.Do(func() {
		if h.conn != nil {
			h.conn.Close()
		}
		close(h.closeC)
	})
}

func NewConnectionHandlerFactory(logger Logger, connFactory ConnectionFactory) ConnectionHandlerFactory {
	return func(handler MessageHandler, _ emitter[SocketEvent, error]) ConnectionHandler {
		return &basicConnectionHandler{
			logger:      logger.WithField("type", "conn_handler_basic"),
			connFactory: connFactory,
			handler:     handler,
			closeC:      make(CloseChan),
		}
	}
}

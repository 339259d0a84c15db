package librealtime

type PassiveKeepAliveHandler func(ch ConnectionHandler, m Message)

// passiveKeepAliveConnectionHandler answers server side keep-alive control frames and
// forwards every message down the chain.
type passiveKeepAliveConnectionHandler struct {
	ConnectionHandler
	handler PassiveKeepAliveHandler
}

func (h *passiveKeepAliveConnectionHandler) Recv(m Message) {
	h.handler(h.ConnectionHandler, m)

	h.ConnectionHandler.Recv(m)
}

func newPassiveKeepAliveConnectionHandler(
	c ConnectionHandler,
	h PassiveKeepAliveHandler,
) *passiveKeepAliveConnectionHandler {
	return &passiveKeepAliveConnectionHandler{ConnectionHandler: c, handler: h}
}

func NewPassiveKeepAliveConnectionHandlerFactory(
	factory ConnectionHandlerFactory,
	handler PassiveKeepAliveHandler,
) ConnectionHandlerFactory {
	return func(msgHandler MessageHandler, emitter emitter[SocketEvent, error]) ConnectionHandler {
		return newPassiveKeepAliveConnectionHandler(factory(msgHandler, emitter), handler)
	}
}

func KeepAliveHandlerReplyPingWithPong(ch ConnectionHandler, m Message) {
	if m.Type().IsPing() {
		_ = ch.Send(NewPongMessage(m.Data()))
	}
}

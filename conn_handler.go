package librealtime

import "context"

type (
	emitter[K comparable, V any] interface {
		Emit(K, V)
	}

	// MessageHandler receives every raw message coming from the server.
	MessageHandler func(m Message)

	// ConnectionHandler defines the interactions with a connection. Implementations are
	// stacked as decorators, see Socket.
	ConnectionHandler interface {
		// Recv is called with control messages and heartbeat replies so that decorators
		// can react to them.
		Recv(m Message)

		// Send is called when a message needs to be sent to the server.
		Send(m Message) error

		// Connect establishes a connection to the server. It returns once the connection is
		// open; its lifetime is then tracked through CloseChan.
		Connect(ctx context.Context) error

		// CloseChan returns a channel that will be closed when the connection is closed.
		CloseChan() CloseChan

		// CloseErr returns an error that explains why the connection was closed.
		CloseErr() error

		// Close closes the connection and releases its resources.
		Close()
	}

	// ConnectionHandlerFactory builds a fresh ConnectionHandler, one per physical connection.
	ConnectionHandlerFactory func(MessageHandler, emitter[SocketEvent, error]) ConnectionHandler
)

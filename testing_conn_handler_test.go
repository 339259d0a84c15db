package librealtime

import (
	"context"
	"sync"
)

type mockConnectionHandler struct {
	ConnectFunc   func(ctx context.Context) error
	CloseFunc     func()
	SendFunc      func(m Message) error
	RecvFunc      func(m Message)
	CloseChanFunc func() CloseChan
	CloseErrFunc  func() error
}

func (m *mockConnectionHandler) Connect(ctx context.Context) error {
	return m.ConnectFunc(ctx)
}

func (m *mockConnectionHandler) Close() {
	m.CloseFunc()
}

func (m *mockConnectionHandler) Send(msg Message) error {
	return m.SendFunc(msg)
}

func (m *mockConnectionHandler) Recv(msg Message) {
	m.RecvFunc(msg)
}

func (m *mockConnectionHandler) CloseChan() CloseChan {
	return m.CloseChanFunc()
}

func (m *mockConnectionHandler) CloseErr() error {
	return m.CloseErrFunc()
}

// newStubConnectionHandler returns a handler that records sent messages and can be
// closed with a reason.
func newStubConnectionHandler() (*mockConnectionHandler, chan Message, func(error)) {
	var (
		closeC   = make(CloseChan)
		once     sync.Once
		mu       sync.Mutex
		closeErr error
		sent     = make(chan Message, 64)
	)

	closeWith := func(err error) {
		once.Do(func() {
			mu.Lock()
			closeErr = err
			mu.Unlock()
			close(closeC)
		})
	}

	h := &mockConnectionHandler{
		ConnectFunc: func(context.Context) error { return nil },
		CloseFunc:   func() { closeWith(ErrTerminated) },
		SendFunc: func(m Message) error {
			select {
			case <-closeC:
				return ErrConnectionClosed
			default:
			}
			sent <- m
			return nil
		},
		RecvFunc:      func(Message) {},
		CloseChanFunc: func() CloseChan { return closeC },
		CloseErrFunc: func() error {
			mu.Lock()
			defer mu.Unlock()
			return closeErr
		},
	}

	return h, sent, closeWith
}

// pipeConnection is an in-memory Connection: Write lands in written, deliver feeds the
// receiving side.
type pipeConnection struct {
	recv    chan<- Message
	written chan Message

	closeC    CloseChan
	closeOnce sync.Once
	openErr   error
}

func newPipeConnection() *pipeConnection {
	return &pipeConnection{
		written: make(chan Message, 64),
		closeC:  make(CloseChan),
	}
}

func (p *pipeConnection) factory() ConnectionFactory {
	return func(_ context.Context, recv chan<- Message) Connection {
		p.recv = recv
		return p
	}
}

func (p *pipeConnection) Open(context.Context) error { return p.openErr }

func (p *pipeConnection) Write(m Message) error {
	select {
	case <-p.closeC:
		return ErrConnectionClosed
	default:
	}
	p.written <- m
	return nil
}

func (p *pipeConnection) deliver(m Message) {
	select {
	case p.recv <- m:
	case <-p.closeC:
	}
}

func (p *pipeConnection) Close() {
	p.closeOnce.Do(func() { close(p.closeC) })
}

func (p *pipeConnection) CloseErr() error { return ErrTerminated }

func (p *pipeConnection) CloseChan() CloseChan { return p.closeC }

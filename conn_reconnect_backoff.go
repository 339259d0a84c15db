package librealtime

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
)

const defaultConnDurationThreshold = time.Minute

// DefaultSocketBackOff is the socket level reconnect strategy: 1s up to 30s, doubling,
// with 20% jitter.
func DefaultSocketBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// sustainedBackOff ignores the Reset issued by backoff.Retry so that growth carries
// over consecutive short lived connections. The owner resets it explicitly.
type sustainedBackOff struct {
	backoff.BackOff
}

func (sustainedBackOff) Reset() {}

// backoffConnectionHandler keeps a connection open, reopening it with exponential
// backoff whenever it closes.
type backoffConnectionHandler struct {
	emitter               emitter[SocketEvent, error]
	logger                Logger
	connHandlerFactory    ConnectionHandlerFactory
	handler               MessageHandler
	newBackOff            func() backoff.BackOff
	connDurationThreshold time.Duration

	innerMu sync.RWMutex
	inner   ConnectionHandler

	closeC      CloseChan
	closeOnce   sync.Once
	closeReason error
}

func (b *backoffConnectionHandler) dial(ctx context.Context, bo backoff.BackOff) (ConnectionHandler, error) {
	attempts := 0

	return backoff.Retry(ctx, func() (ConnectionHandler, error) {
		select {
		case <-b.closeC:
			return nil, backoff.Permanent(ErrTerminated)
		default:
		}

		attempts++
		ch := b.connHandlerFactory(b.handler, b.emitter)
		if err := ch.Connect(ctx); err != nil {
			ch.Close()
			return nil, err
		}
		if attempts > 1 {
			b.logger.Infof("connected after %d attempts", attempts)
		}
		return ch, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			b.logger.Warnf("cannot connect due to %s, retrying in %s", err, next)
		}),
	)
}

func (b *backoffConnectionHandler) run(ctx context.Context, bo backoff.BackOff) {
	then := time.Now()

	for {
		b.innerMu.RLock()
		inner := b.inner
		b.innerMu.RUnlock()

		select {
		case <-ctx.Done():
			b.Close()
			return
		case <-b.closeC:
			return
		case <-inner.CloseChan():
		}

		reason := inner.CloseErr()
		inner.Close()

		select {
		case <-b.closeC:
			return
		default:
		}

		b.emitter.Emit(SocketDisconnected, reason)

		var ttw time.Duration
		if time.Since(then) > b.connDurationThreshold {
			// The connection was healthy for long enough, treat it as a natural drop.
			bo.Reset()
		} else {
			ttw = bo.NextBackOff()
		}

		b.logger.Infof("connection closed due to %s, reconnecting in %s", reason, ttw)

		if ttw > 0 {
			timer := time.NewTimer(ttw)
			select {
			case <-ctx.Done():
				timer.Stop()
				b.Close()
				return
			case <-b.closeC:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		next, err := b.dial(ctx, sustainedBackOff{bo})
		if err != nil {
			b.logger.Infof("giving up reconnecting: %s", err)
			b.closeWith(err)
			return
		}

		b.innerMu.Lock()
		b.inner = next
		b.innerMu.Unlock()
		then = time.Now()

		select {
		case <-b.closeC:
			next.Close()
			return
		default:
		}

		b.emitter.Emit(SocketReconnected, nil)
	}
}

// Connect opens the first connection, retrying until it succeeds or ctx is done, and
// then keeps it alive in the background.
func (b *backoffConnectionHandler) Connect(ctx context.Context) error {
	bo := b.newBackOff()

	inner, err := b.dial(ctx, bo)
	if err != nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	b.innerMu.Lock()
	b.inner = inner
	b.innerMu.Unlock()

	b.emitter.Emit(SocketConnected, nil)

	go b.run(ctx, bo)

	return nil
}

func (b *backoffConnectionHandler) Recv(m Message) {
	b.innerMu.RLock()
	defer b.innerMu.RUnlock()

	if b.inner != nil {
		b.inner.Recv(m)
	}
}

func (b *backoffConnectionHandler) Send(m Message) error {
	b.innerMu.RLock()
	defer b.innerMu.RUnlock()

	if b.inner == nil {
		return ErrSocketClosed
	}
	return b.inner.Send(m)
}

func (b *backoffConnectionHandler) Close() {
	b.closeWith(ErrTerminated)
}

func (b *backoffConnectionHandler) closeWith(reason error) {
	b.closeOnce.Do(func() {
		b.innerMu.Lock()
		b.closeReason = reason
		inner := b.inner
		b.innerMu.Unlock()

		close(b.closeC)

		if inner != nil {
			inner.Close()
		}
	})
}

func (b *backoffConnectionHandler) CloseChan() CloseChan {
	return b.closeC
}

func (b *backoffConnectionHandler) CloseErr() error {
	b.innerMu.RLock()
	defer b.innerMu.RUnlock()
	return b.closeReason
}

func newBackoffConnectionHandler(
	logger Logger,
	emitter emitter[SocketEvent, error],
	connHandlerFactory ConnectionHandlerFactory,
	handler MessageHandler,
	newBackOff func() backoff.BackOff,
	connDurationThreshold time.Duration,
) ConnectionHandler {
	if newBackOff == nil {
		newBackOff = DefaultSocketBackOff
	}
	if connDurationThreshold <= 0 {
		connDurationThreshold = defaultConnDurationThreshold
	}
	return &backoffConnectionHandler{
		logger: logger.WithField(
			"type", "conn_handler_reconnect_exp_backoff",
		),
		emitter:               emitter,
		handler:               handler,
		connHandlerFactory:    connHandlerFactory,
		newBackOff:            newBackOff,
		connDurationThreshold: connDurationThreshold,
		closeC:                make(CloseChan),
	}
}

func NewBackoffConnectionHandlerFactory(
	logger Logger,
	connHandlerFactory ConnectionHandlerFactory,
	newBackOff func() backoff.BackOff,
	connDurationThreshold time.Duration,
) ConnectionHandlerFactory {
	return func(handler MessageHandler, emitter emitter[SocketEvent, error]) ConnectionHandler {
		return newBackoffConnectionHandler(
			logger,
			emitter,
			connHandlerFactory,
			handler,
			newBackOff,
			connDurationThreshold,
		)
	}
}

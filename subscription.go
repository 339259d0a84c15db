package librealtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const defaultSchema = "public"

type (
	// SubscriptionConfig selects the collection and the changes to listen to.
	SubscriptionConfig struct {
		// Collection is the table name. Required.
		Collection string
		// Schema defaults to "public".
		Schema string
		// Events defaults to EventAll.
		Events EventFilter
		// Filter is the server side row filter. Its zero value disables the subscription.
		Filter Filter
	}

	// Filter is a server side row predicate, or the disabled sentinel.
	Filter struct {
		expr    string
		enabled bool
	}

	// Handlers are the callbacks a Subscription delivers changes to. All are optional.
	Handlers[T any] struct {
		OnInsert func(newRecord T)
		OnUpdate func(oldRecord, newRecord T)
		OnDelete func(oldRecord T)
		OnChange func(change Change[T])
	}

	// SubscriptionStats is a point in time view of a Subscription.
	SubscriptionStats struct {
		Active    bool
		Disabled  bool
		Connected bool
		// Retries is the number of consecutive failed attempts since the last success.
		Retries int
		// Attempts counts every channel opened by the current activation.
		Attempts int
		// Pending tells whether a reconnect is scheduled, after PendingDelay.
		Pending      bool
		PendingDelay time.Duration
		// Stopped is set once the subscription gave up, Fatal if it was because of a
		// misconfiguration.
		Stopped bool
		Fatal   bool
	}
)

// Disabled returns the sentinel filter which turns Activate into a no-op.
func Disabled() Filter { return Filter{} }

// AllRows subscribes to every row of the collection.
func AllRows() Filter { return Filter{enabled: true} }

// Where subscribes to the rows matching expr, e.g. "post_id=eq.42".
func Where(expr string) Filter { return Filter{expr: expr, enabled: true} }

func (f Filter) Enabled() bool { return f.enabled }

func (f Filter) Expr() string { return f.expr }

func (f Filter) String() string {
	switch {
	case !f.enabled:
		return "<disabled>"
	case f.expr == "":
		return "<all>"
	default:
		return f.expr
	}
}

type (
	SubscriptionOption func(*subscriptionOptions)

	subscriptionOptions struct {
		logger     Logger
		policy     ReconnectPolicy
		classifier Classifier
		scheduler  scheduler
		jitter     jitterFunc
		diagEvery  time.Duration
		diagBurst  int
	}
)

func WithLogger(l Logger) SubscriptionOption {
	return func(o *subscriptionOptions) { o.logger = l }
}

func WithReconnectPolicy(p ReconnectPolicy) SubscriptionOption {
	return func(o *subscriptionOptions) { o.policy = p }
}

func WithClassifier(c Classifier) SubscriptionOption {
	return func(o *subscriptionOptions) { o.classifier = c }
}

// WithDiagnosticsRate limits transient failure logs to one per every, with burst.
func WithDiagnosticsRate(every time.Duration, burst int) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.diagEvery = every
		o.diagBurst = burst
	}
}

func withScheduler(s scheduler) SubscriptionOption {
	return func(o *subscriptionOptions) { o.scheduler = s }
}

func withJitter(j jitterFunc) SubscriptionOption {
	return func(o *subscriptionOptions) { o.jitter = j }
}

// Subscription keeps a best effort live subscription to the changes of one collection
// and recovers it from transient failures. Each Activate starts a session which owns
// one channel at a time; Deactivate tears it down.
type Subscription[T any] struct {
	backend  Backend
	handlers Handlers[T]
	opts     subscriptionOptions

	mu      sync.Mutex
	session *session[T]
}

func NewSubscription[T any](backend Backend, handlers Handlers[T], opts ...SubscriptionOption) *Subscription[T] {
	o := subscriptionOptions{
		logger:     noopLogger{},
		policy:     DefaultReconnectPolicy(),
		classifier: DefaultClassifier,
		scheduler:  timeScheduler{},
		jitter:     UniformJitter,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.policy = o.policy.normalize()

	return &Subscription[T]{
		backend:  backend,
		handlers: handlers,
		opts:     o,
	}
}

// Activate starts listening according to cfg and returns immediately. A disabled
// filter makes it succeed without ever touching the backend. Cancelling ctx has the
// same effect as Deactivate.
func (s *Subscription[T]) Activate(ctx context.Context, cfg SubscriptionConfig) error {
	if cfg.Collection == "" {
		return ErrMissingCollection
	}
	if cfg.Schema == "" {
		cfg.Schema = defaultSchema
	}
	if cfg.Events == "" {
		cfg.Events = EventAll
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && !s.session.closed() {
		return ErrAlreadyActive
	}

	sess := newSession(s, cfg)
	s.session = sess

	if !cfg.Filter.Enabled() {
		sess.logger.Debugf("subscription to %s is disabled", cfg.Collection)
		close(sess.doneC)
		return nil
	}

	go sess.run(ctx)

	return nil
}

// Deactivate stops the pending reconnect, leaves the channel and guarantees no
// callback starts afterwards. It is idempotent and may be called from a callback.
func (s *Subscription[T]) Deactivate() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()

	if sess != nil {
		sess.close()
	}
}

func (s *Subscription[T]) Stats() SubscriptionStats {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	if sess == nil {
		return SubscriptionStats{}
	}
	return sess.stats()
}

type sessionEventKind int

const (
	sessionStatus sessionEventKind = iota
	sessionChange
	sessionRetry
)

type sessionEvent struct {
	kind   sessionEventKind
	seq    uint64
	status ChannelStatus
	err    error
	change RawChange
}

type session[T any] struct {
	sub     *Subscription[T]
	cfg     SubscriptionConfig
	binding ChangeBinding
	logger  Logger
	diag    *diagnostics

	events    chan sessionEvent
	closeC    CloseChan
	closeOnce sync.Once
	doneC     chan struct{}

	mu           sync.Mutex
	channel      Channel
	gen          uint64
	failedGen    uint64
	attempts     int
	retries      int
	connected    bool
	timer        stopper
	timerSeq     uint64
	pendingDelay time.Duration
	stopped      bool
	fatal        bool
}

func newSession[T any](sub *Subscription[T], cfg SubscriptionConfig) *session[T] {
	logger := sub.opts.logger.
		WithField("type", "subscription").
		WithField("collection", cfg.Schema+"."+cfg.Collection)

	return &session[T]{
		sub: sub,
		cfg: cfg,
		binding: ChangeBinding{
			Schema: cfg.Schema,
			Table:  cfg.Collection,
			Events: cfg.Events,
			Filter: cfg.Filter.Expr(),
		},
		logger: logger,
		diag:   newDiagnostics(logger, sub.opts.diagEvery, sub.opts.diagBurst),
		events: make(chan sessionEvent, 64),
		closeC: make(CloseChan),
		doneC:  make(chan struct{}),
	}
}

// run is the session event loop. Every state transition and every callback happens
// here, one at a time, in the order the transport produced them.
func (ss *session[T]) run(ctx context.Context) {
	defer close(ss.doneC)
	defer ss.close()

	ss.connect()

	for {
		select {
		case <-ctx.Done():
			ss.logger.Debugf("context done: %s", ctx.Err())
			return
		case <-ss.closeC:
			return
		case ev := <-ss.events:
			ss.handle(ev)
		}
	}
}

func (ss *session[T]) handle(ev sessionEvent) {
	switch ev.kind {
	case sessionStatus:
		if ev.status == StatusSubscribed {
			ss.subscribed(ev.seq)
		} else {
			ss.fail(ev.seq, ev.status, ev.err)
		}
	case sessionChange:
		if ss.current(ev.seq) {
			ss.dispatch(ev.change)
		}
	case sessionRetry:
		ss.retry(ev.seq)
	}
}

// connect replaces the current channel, if any, with a fresh one.
func (ss *session[T]) connect() {
	ss.mu.Lock()
	if ss.closed() || ss.stopped {
		ss.mu.Unlock()
		return
	}
	ss.clearTimerLocked()
	prev := ss.channel
	ss.channel = nil
	ss.connected = false
	ss.gen++
	ss.attempts++
	gen := ss.gen
	attempt := ss.attempts
	ss.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe()
	}

	ss.diag.debugf("opening channel for %s (attempt #%d)", ss.binding, attempt)

	ch, err := ss.sub.backend.Subscribe(
		ss.binding,
		func(status ChannelStatus, err error) {
			ss.enqueue(sessionEvent{kind: sessionStatus, seq: gen, status: status, err: err})
		},
		func(change RawChange) {
			ss.enqueue(sessionEvent{kind: sessionChange, seq: gen, change: change})
		},
	)
	if err != nil {
		ss.fail(gen, StatusChannelError, errors.Wrap(err, "cannot open channel"))
		return
	}

	ss.mu.Lock()
	if ss.closed() || ss.gen != gen {
		ss.mu.Unlock()
		ch.Unsubscribe()
		return
	}
	ss.channel = ch
	ss.mu.Unlock()
}

func (ss *session[T]) subscribed(gen uint64) {
	ss.mu.Lock()
	if ss.closed() || gen != ss.gen || ss.stopped {
		ss.mu.Unlock()
		return
	}
	ss.connected = true
	ss.retries = 0
	ss.clearTimerLocked()
	ss.mu.Unlock()

	ss.diag.debugf("subscribed to %s", ss.binding)
}

// fail handles the first failure reported for channel generation gen.
func (ss *session[T]) fail(gen uint64, status ChannelStatus, err error) {
	if err == nil {
		err = statusError(status)
	}

	ss.mu.Lock()
	if ss.closed() || gen != ss.gen || gen == ss.failedGen || ss.stopped {
		ss.mu.Unlock()
		return
	}
	ss.failedGen = gen
	ss.connected = false

	policy := ss.sub.opts.policy

	if ss.sub.opts.classifier(err) == ErrorFatal {
		ss.stopped = true
		ss.fatal = true
		ch := ss.takeChannelLocked()
		ss.mu.Unlock()

		if ch != nil {
			ch.Unsubscribe()
		}
		ss.diag.once("fatal", func(l Logger) {
			b := ss.binding
			l.Errorf("%s: %s\n"+bindingMismatchHelp, status, err, b, b.Schema, b.Table, b.Schema, b.Table)
		})
		return
	}

	if ss.retries >= policy.MaxRetries {
		ss.stopped = true
		attempts := ss.attempts
		ch := ss.takeChannelLocked()
		ss.mu.Unlock()

		if ch != nil {
			ch.Unsubscribe()
		}
		ss.diag.once("exhausted", func(l Logger) {
			l.Errorf("giving up on %s after %d attempts, last failure %s: %s; changes will not be delivered until it is reactivated",
				ss.binding, attempts, status, err)
		})
		return
	}

	ss.retries++
	delay := policy.Delay(ss.retries) + ss.sub.opts.jitter(policy.MaxJitter)
	retries := ss.retries
	ss.scheduleLocked(delay)
	ss.mu.Unlock()

	ss.diag.transient("%s on %s: %s; retrying in %s (%d/%d)",
		status, ss.binding, err, delay.Round(time.Millisecond), retries, policy.MaxRetries)
}

func (ss *session[T]) retry(seq uint64) {
	ss.mu.Lock()
	if ss.closed() || ss.timer == nil || seq != ss.timerSeq {
		ss.mu.Unlock()
		return
	}
	ss.timer = nil
	ss.pendingDelay = 0
	if ss.connected || ss.stopped {
		ss.mu.Unlock()
		return
	}
	ss.mu.Unlock()

	ss.connect()
}

func (ss *session[T]) dispatch(raw RawChange) {
	if !ss.cfg.Events.Matches(raw.Type) {
		return
	}

	change, err := decodeChange[T](raw)
	if err != nil {
		ss.diag.transient("dropping change on %s: %s", ss.binding, err)
		return
	}

	h := ss.sub.handlers

	switch change.Type {
	case ChangeInsert:
		if h.OnInsert != nil && !ss.closed() {
			h.OnInsert(change.New)
		}
	case ChangeUpdate:
		if h.OnUpdate != nil && !ss.closed() {
			h.OnUpdate(change.Old, change.New)
		}
	case ChangeDelete:
		if h.OnDelete != nil && !ss.closed() {
			h.OnDelete(change.Old)
		}
	}

	if h.OnChange != nil && !ss.closed() {
		h.OnChange(change)
	}
}

func (ss *session[T]) enqueue(ev sessionEvent) {
	if ss.closed() {
		return
	}
	select {
	case ss.events <- ev:
	case <-ss.closeC:
	}
}

func (ss *session[T]) current(gen uint64) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return gen == ss.gen && !ss.stopped
}

func (ss *session[T]) scheduleLocked(delay time.Duration) {
	ss.clearTimerLocked()
	ss.timerSeq++
	seq := ss.timerSeq
	ss.pendingDelay = delay
	ss.timer = ss.sub.opts.scheduler.AfterFunc(delay, func() {
		ss.enqueue(sessionEvent{kind: sessionRetry, seq: seq})
	})
}

func (ss *session[T]) clearTimerLocked() {
	if ss.timer != nil {
		ss.timer.Stop()
		ss.timer = nil
	}
	ss.pendingDelay = 0
}

func (ss *session[T]) takeChannelLocked() Channel {
	ss.clearTimerLocked()
	ch := ss.channel
	ss.channel = nil
	return ch
}

func (ss *session[T]) close() {
	ss.closeOnce.Do(func() {
		close(ss.closeC)

		ss.mu.Lock()
		ss.connected = false
		ch := ss.takeChannelLocked()
		ss.mu.Unlock()

		if ch != nil {
			ch.Unsubscribe()
		}
		ss.logger.Debugf("subscription to %s closed", ss.binding)
	})
}

func (ss *session[T]) closed() bool {
	select {
	case <-ss.closeC:
		return true
	default:
		return false
	}
}

func (ss *session[T]) stats() SubscriptionStats {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	return SubscriptionStats{
		Active:       !ss.closed(),
		Disabled:     !ss.cfg.Filter.Enabled(),
		Connected:    ss.connected,
		Retries:      ss.retries,
		Attempts:     ss.attempts,
		Pending:      ss.timer != nil,
		PendingDelay: ss.pendingDelay,
		Stopped:      ss.stopped,
		Fatal:        ss.fatal,
	}
}

func statusError(status ChannelStatus) error {
	switch status {
	case StatusTimedOut:
		return ErrJoinTimeout
	case StatusClosed:
		return ErrChannelClosed
	default:
		return errors.Wrap(ErrConnectionClosed, fmt.Sprintf("channel reported %s", status))
	}
}

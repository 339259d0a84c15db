package librealtime

import (
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/mock"
)

const waitTimeout = 2 * time.Second

func recvWithin[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v := <-c:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %T", *new(T))
	}
	panic("unreachable")
}

func awaitClosed(t *testing.T, c <-chan struct{}) {
	t.Helper()
	select {
	case <-c:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for close")
	}
}

func assertNothingWithin[T any](t *testing.T, c <-chan T, d time.Duration) {
	t.Helper()
	select {
	case v := <-c:
		t.Fatalf("unexpected %T: %v", v, v)
	case <-time.After(d):
	}
}

// fakeTimer is a task registered on a fakeScheduler; it only runs through fire.
type fakeTimer struct {
	delay   time.Duration
	f       func()
	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.f()
}

type fakeScheduler struct {
	mu        sync.Mutex
	timers    []*fakeTimer
	scheduled chan time.Duration
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(chan time.Duration, 64)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) stopper {
	t := &fakeTimer{delay: d, f: f}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	s.scheduled <- d
	return t
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

func (s *fakeScheduler) fireLast() {
	if t := s.last(); t != nil {
		t.fire()
	}
}

// fakeChannel is a Channel whose status and changes are driven by the test.
type fakeChannel struct {
	topic    string
	binding  ChangeBinding
	onStatus StatusHandler
	onChange ChangeHandler

	mu           sync.Mutex
	unsubscribed int
}

func (c *fakeChannel) Topic() string { return c.topic }

func (c *fakeChannel) Unsubscribe() {
	c.mu.Lock()
	c.unsubscribed++
	c.mu.Unlock()
}

func (c *fakeChannel) unsubscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribed
}

func (c *fakeChannel) status(s ChannelStatus, err error) {
	if c.unsubscribeCount() == 0 {
		c.onStatus(s, err)
	}
}

func (c *fakeChannel) change(t ChangeType, record, oldRecord string) {
	if c.unsubscribeCount() == 0 {
		c.onChange(rawChange(t, record, oldRecord))
	}
}

func rawChange(t ChangeType, record, oldRecord string) RawChange {
	raw := RawChange{
		Schema:          "public",
		Table:           "posts",
		CommitTimestamp: "2024-05-01T10:00:00.123Z",
		Type:            t,
	}
	if record != "" {
		raw.Record = json.RawMessage(record)
	}
	if oldRecord != "" {
		raw.OldRecord = json.RawMessage(oldRecord)
	}
	return raw
}

type fakeBackend struct {
	mu           sync.Mutex
	calls        int
	subscribeErr error
	opened       chan *fakeChannel
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{opened: make(chan *fakeChannel, 64)}
}

func (b *fakeBackend) Subscribe(binding ChangeBinding, onStatus StatusHandler, onChange ChangeHandler) (Channel, error) {
	b.mu.Lock()
	b.calls++
	err := b.subscribeErr
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := &fakeChannel{
		topic:    "realtime:" + binding.Schema + ":" + binding.Table,
		binding:  binding,
		onStatus: onStatus,
		onChange: onChange,
	}
	b.opened <- ch
	return ch, nil
}

func (b *fakeBackend) setSubscribeErr(err error) {
	b.mu.Lock()
	b.subscribeErr = err
	b.mu.Unlock()
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type mockPusher struct {
	mock.Mock
}

func (m *mockPusher) push(msg Message) error {
	return m.Called(msg).Error(0)
}

func (m *mockPusher) makeRef() string {
	return m.Called().String(0)
}

func (m *mockPusher) accessToken() string {
	return m.Called().String(0)
}

func (m *mockPusher) remove(topic string) {
	m.Called(topic)
}

// joinReplyFor is the ok reply of a server binding every postgres_changes binding of
// join, with ids counting from 1.
func joinReplyFor(join Frame) string {
	p, err := decodePayload[joinPayload](join)
	if err != nil {
		return `{"status":"error","response":{"reason":"malformed join"}}`
	}

	bound := make([]serverBinding, 0, len(p.Config.PostgresChanges))
	for i, b := range p.Config.PostgresChanges {
		bound = append(bound, serverBinding{
			ID:     int64(i + 1),
			Event:  b.Event,
			Schema: b.Schema,
			Table:  b.Table,
			Filter: b.Filter,
		})
	}

	resp, _ := json.Marshal(replyResponse{PostgresChanges: bound})
	reply, _ := json.Marshal(replyPayload{Status: replyStatusOK, Response: resp})
	return string(reply)
}

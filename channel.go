package librealtime

import (
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const defaultJoinTimeout = 10 * time.Second

type channelState int

const (
	channelJoining channelState = iota
	channelJoined
	// channelTimedOut gave up waiting for the join reply; the server may still have
	// joined the topic, so it is left on Unsubscribe.
	channelTimedOut
	channelErrored
	channelLeft
)

func (s channelState) terminal() bool {
	return s == channelTimedOut || s == channelErrored || s == channelLeft
}

// pusher is what a channel needs from its socket.
type pusher interface {
	push(m Message) error
	makeRef() string
	accessToken() string
	remove(topic string)
}

// channel is one joined topic listening to postgres changes.
type channel struct {
	socket      pusher
	topic       string
	binding     ChangeBinding
	onStatus    StatusHandler
	onChange    ChangeHandler
	logger      Logger
	joinTimeout time.Duration

	mu        sync.Mutex
	state     channelState
	joinRef   string
	joinTimer *time.Timer
	// bindingIDs are the server ids of the joined bindings.
	bindingIDs []int64
}

func newChannel(
	socket pusher,
	logger Logger,
	topic string,
	binding ChangeBinding,
	joinTimeout time.Duration,
	onStatus StatusHandler,
	onChange ChangeHandler,
) *channel {
	if joinTimeout <= 0 {
		joinTimeout = defaultJoinTimeout
	}
	return &channel{
		socket:      socket,
		topic:       topic,
		binding:     binding,
		onStatus:    onStatus,
		onChange:    onChange,
		logger:      logger.WithField("topic", topic),
		joinTimeout: joinTimeout,
	}
}

func (c *channel) Topic() string {
	return c.topic
}

func (c *channel) join() error {
	ref := c.socket.makeRef()

	msg, err := encodeFrame(c.topic, EventJoin, joinPayload{
		Config:      joinConfig{PostgresChanges: []postgresChangesBinding{c.binding.wire()}},
		AccessToken: c.socket.accessToken(),
	}, ref, ref)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.state = channelJoining
	c.joinRef = ref
	c.joinTimer = time.AfterFunc(c.joinTimeout, c.timeout)
	c.mu.Unlock()

	if err := c.socket.push(msg); err != nil {
		c.mu.Lock()
		c.stopTimerLocked()
		c.state = channelLeft
		c.mu.Unlock()
		return errors.Wrapf(err, "cannot join %s", c.topic)
	}

	c.logger.Debugf("joining with %s", c.binding)

	return nil
}

func (c *channel) handleFrame(f Frame) {
	switch f.Event {
	case EventReply:
		c.handleReply(f)
	case EventPostgresChanges:
		c.handleChange(f)
	case EventSystem:
		p, err := decodePayload[systemPayload](f)
		if err != nil {
			c.logger.Warnf("%s", err)
			return
		}
		if p.Status == replyStatusError {
			c.fail(StatusChannelError, newServerError(c.topic, EventSystem, p.Message))
			return
		}
		c.logger.Debugf("system message: %s %s", p.Status, p.Message)
	case EventError:
		c.fail(StatusChannelError, errors.Wrap(ErrConnectionClosed, "server reported a channel error"))
	case EventClose:
		c.fail(StatusClosed, ErrChannelClosed)
	default:
		c.logger.Debugf("ignoring %s event", f.Event)
	}
}

func (c *channel) handleReply(f Frame) {
	c.mu.Lock()
	isJoinReply := c.state == channelJoining && f.Ref == c.joinRef
	c.mu.Unlock()

	if !isJoinReply {
		return
	}

	p, err := decodePayload[replyPayload](f)
	if err != nil {
		c.fail(StatusChannelError, err)
		return
	}

	if p.Status != replyStatusOK {
		c.fail(StatusChannelError, newServerError(c.topic, EventJoin, p.errorMessage()))
		return
	}

	resp, err := p.response()
	if err != nil {
		c.fail(StatusChannelError, err)
		return
	}

	ids, err := c.matchBindings(resp.PostgresChanges)
	if err != nil {
		c.leave()
		c.fail(StatusChannelError, err)
		return
	}

	c.mu.Lock()
	if c.state != channelJoining {
		c.mu.Unlock()
		return
	}
	c.state = channelJoined
	c.bindingIDs = ids
	c.stopTimerLocked()
	c.mu.Unlock()

	c.logger.Debugf("joined")
	c.onStatus(StatusSubscribed, nil)
}

// matchBindings checks that the server bound exactly what was asked for and returns
// the server ids of the bindings.
func (c *channel) matchBindings(server []serverBinding) ([]int64, error) {
	want := []postgresChangesBinding{c.binding.wire()}

	ids := make([]int64, 0, len(want))
	for i, w := range want {
		if i >= len(server) {
			return nil, errors.Wrapf(ErrBindingMismatch, "requested %s, server bound nothing", w)
		}
		if !server[i].matches(w) {
			return nil, errors.Wrapf(ErrBindingMismatch, "requested %s, server bound %s", w, server[i])
		}
		ids = append(ids, server[i].ID)
	}
	return ids, nil
}

func (c *channel) handleChange(f Frame) {
	c.mu.Lock()
	active := c.state == channelJoining || c.state == channelJoined
	c.mu.Unlock()

	if !active {
		return
	}

	p, err := decodePayload[changePayload](f)
	if err != nil {
		c.logger.Warnf("%s", err)
		return
	}

	if !c.boundTo(p.IDs) {
		c.logger.Debugf("dropping change for bindings %v", p.IDs)
		return
	}

	c.onChange(p.Data)
}

// boundTo reports whether a change tagged with ids belongs to this channel. Untagged
// changes are accepted.
func (c *channel) boundTo(ids []int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(ids) == 0 || len(c.bindingIDs) == 0 {
		return true
	}
	for _, id := range ids {
		if slices.Contains(c.bindingIDs, id) {
			return true
		}
	}
	return false
}

func (c *channel) timeout() {
	c.mu.Lock()
	joining := c.state == channelJoining
	c.mu.Unlock()

	if joining {
		c.fail(StatusTimedOut, ErrJoinTimeout)
	}
}

// fail moves the channel to its terminal state and reports it once.
func (c *channel) fail(status ChannelStatus, err error) {
	c.mu.Lock()
	if c.state.terminal() {
		c.mu.Unlock()
		return
	}
	c.state = channelErrored
	if status == StatusTimedOut {
		c.state = channelTimedOut
	}
	c.stopTimerLocked()
	c.mu.Unlock()

	c.socket.remove(c.topic)

	c.logger.Debugf("%s: %s", status, err)
	c.onStatus(status, err)
}

// Unsubscribe leaves the topic. Frames received afterwards are dropped.
func (c *channel) Unsubscribe() {
	c.mu.Lock()
	if c.state == channelLeft {
		c.mu.Unlock()
		return
	}
	mayBeJoined := c.state == channelJoining || c.state == channelJoined || c.state == channelTimedOut
	c.state = channelLeft
	c.stopTimerLocked()
	c.mu.Unlock()

	c.socket.remove(c.topic)

	if mayBeJoined {
		c.leave()
	}
}

func (c *channel) leave() {
	msg, err := encodeFrame(c.topic, EventLeave, struct{}{}, c.socket.makeRef(), "")
	if err == nil {
		err = c.socket.push(msg)
	}
	if err != nil {
		c.logger.Debugf("cannot leave cleanly: %s", err)
	}
}

func (c *channel) refreshAccessToken(token string) {
	c.mu.Lock()
	joined := c.state == channelJoined
	c.mu.Unlock()

	if !joined {
		return
	}

	msg, err := encodeFrame(c.topic, EventAccessToken, accessTokenPayload{AccessToken: token}, c.socket.makeRef(), "")
	if err == nil {
		err = c.socket.push(msg)
	}
	if err != nil {
		c.logger.Warnf("cannot refresh access token: %s", err)
	}
}

func (c *channel) stopTimerLocked() {
	if c.joinTimer != nil {
		c.joinTimer.Stop()
		c.joinTimer = nil
	}
}

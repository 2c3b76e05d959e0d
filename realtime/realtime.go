// This package manages the subscription lifecycle to the push channel for a
// conversation, and the reconnect backoff schedule. Delivered inserts are
// forwarded to the conversation's reconciler.
package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/hearsay-im/go-hearsay/config"
	"github.com/hearsay-im/go-hearsay/timeline"
	"go.uber.org/zap"
)

const (
	StateIdle = iota
	StateSubscribing
	StateSubscribed
	StateReconnecting
)

// Subscription is a live push subscription which can be relinquished.
type Subscription interface {
	Unsubscribe() error
}

// Subscriber is the push capability: it delivers newly inserted rows for one
// conversation. onStatus is called with true when the subscription is
// acknowledged and false on connection loss.
type Subscriber interface {
	Subscribe(chatID string, onInsert func(*timeline.Message), onStatus func(connected bool)) (Subscription, error)
}

// An event indicating a change in the sync state for a conversation.
type StateUpdate struct {
	ChatID string
	State  int
}

func stateName(state int) string {
	switch state {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

type Controller struct {
	config     *config.Config
	log        *zap.SugaredLogger
	subscriber Subscriber
	reconciler *timeline.Reconciler
	updates    chan interface{}

	lock    sync.Mutex
	chatID  string
	state   int
	closed  bool
	sub     Subscription
	retryMs int64
	timer   *time.Timer
}

func NewController(c *config.Config, subscriber Subscriber, reconciler *timeline.Reconciler, updates chan interface{}) *Controller {
	return &Controller{
		config:     c,
		log:        c.Logger("realtime"),
		subscriber: subscriber,
		reconciler: reconciler,
		updates:    updates,
		state:      StateIdle,
		retryMs:    c.ReconnectFloorMs,
	}
}

// Open establishes the push subscription for a conversation. A failed handshake
// is not surfaced as a hard failure, it enters the reconnect schedule.
func (c *Controller) Open(chatID string) error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return fmt.Errorf("realtime: controller is closed")
	}
	if c.state != StateIdle {
		c.lock.Unlock()
		return fmt.Errorf("realtime: already open, state is %s", stateName(c.state))
	}
	c.chatID = chatID
	c.setStateLocked(StateSubscribing)
	c.lock.Unlock()
	c.subscribe()
	return nil
}

// Close unsubscribes and cancels any pending backoff timer. It is idempotent
// and no callback mutates state after it returns.
func (c *Controller) Close() error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateIdle
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	sub := c.sub
	c.sub = nil
	c.lock.Unlock()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			c.log.Warnf("error while unsubscribing %#v", err)
		}
	}
	return nil
}

func (c *Controller) State() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// RetryInterval returns the wait before the next reconnect attempt.
func (c *Controller) RetryInterval() time.Duration {
	c.lock.Lock()
	defer c.lock.Unlock()
	return time.Duration(c.retryMs) * time.Millisecond
}

func (c *Controller) subscribe() {
	sub, err := c.subscriber.Subscribe(c.chatID, c.handleInsert, c.handleStatus)
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		if sub != nil {
			go func() {
				if err := sub.Unsubscribe(); err != nil {
					c.log.Warnf("error while unsubscribing %#v", err)
				}
			}()
		}
		return
	}
	if err != nil {
		c.log.Warnf("error while subscribing to %s: %#v", c.chatID, err)
		c.connectionLossLocked()
		return
	}
	c.sub = sub
}

func (c *Controller) handleInsert(row *timeline.Message) {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return
	}
	c.lock.Unlock()
	c.reconciler.MergeRemote(row)
	c.emit(&timeline.Update{ChatID: c.chatID})
}

func (c *Controller) handleStatus(connected bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return
	}
	if connected {
		c.retryMs = c.config.ReconnectFloorMs
		c.setStateLocked(StateSubscribed)
		return
	}
	c.connectionLossLocked()
}

// connectionLossLocked drives the backoff schedule. The interval grows only on
// observed connection-loss events, doubling up to the ceiling.
func (c *Controller) connectionLossLocked() {
	c.setStateLocked(StateReconnecting)
	wait := c.retryMs
	c.retryMs *= 2
	if c.retryMs > c.config.ReconnectCeilingMs {
		c.retryMs = c.config.ReconnectCeilingMs
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.log.Debugf("reconnecting to %s in %dms", c.chatID, wait)
	c.timer = time.AfterFunc(time.Duration(wait)*time.Millisecond, c.resubscribe)
}

func (c *Controller) resubscribe() {
	c.lock.Lock()
	if c.closed || c.state != StateReconnecting {
		c.lock.Unlock()
		return
	}
	sub := c.sub
	c.sub = nil
	c.setStateLocked(StateSubscribing)
	c.lock.Unlock()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			c.log.Warnf("error while unsubscribing %#v", err)
		}
	}
	c.subscribe()
}

func (c *Controller) setStateLocked(state int) {
	if c.state == state {
		return
	}
	c.state = state
	c.emit(&StateUpdate{ChatID: c.chatID, State: state})
}

func (c *Controller) emit(e interface{}) {
	if c.updates == nil {
		return
	}
	select {
	case c.updates <- e:
	default:
		c.log.Warnf("dropping update %#v", e)
	}
}

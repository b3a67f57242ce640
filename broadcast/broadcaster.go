// Package broadcast is the in-process publish/subscribe hub that carries log
// records to live viewers. It keeps no backlog: a payload published while a
// topic has no subscribers is dropped.
package broadcast

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/auditmos/devlens/logging"
)

// TopicLog carries every log record rendered for live viewers.
const TopicLog = "log"

// Handler receives a published payload. A returned error or a panic is
// logged and does not affect delivery to other handlers. A handler must not
// publish to its own topic synchronously.
type Handler func(payload string) error

type Subscription struct {
	id      uint64
	topic   string
	handler Handler

	mu      sync.Mutex
	removed bool
}

func (s *Subscription) Topic() string {
	return s.topic
}

// deliver runs the handler unless the subscription was removed. Holding mu
// for the call lets Unsubscribe wait out an in-flight delivery.
func (s *Subscription) deliver(payload string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(payload)
}

type Broadcaster struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string]map[uint64]*Subscription
	logger logging.Logger
}

func New(logger logging.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Broadcaster{
		topics: make(map[string]map[uint64]*Subscription),
		logger: logger,
	}
}

var (
	defaultOnce        sync.Once
	defaultBroadcaster *Broadcaster
)

// Default returns the process-wide broadcaster, creating it on first use.
// Components take a *Broadcaster explicitly; only main reaches for Default.
func Default() *Broadcaster {
	defaultOnce.Do(func() {
		defaultBroadcaster = New(nil)
	})
	return defaultBroadcaster
}

// SetLogger replaces the logger used to report handler failures.
func (b *Broadcaster) SetLogger(logger logging.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

func (b *Broadcaster) Subscribe(topic string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, topic: topic, handler: handler}

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		b.topics[topic] = subs
	}
	subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once and with nil.
// When it returns, sub's handler is not running and will not run again.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	if subs, ok := b.topics[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
	b.mu.Unlock()

	sub.mu.Lock()
	sub.removed = true
	sub.mu.Unlock()
}

// Publish delivers payload to every current subscriber of topic, in
// subscription order, before returning.
func (b *Broadcaster) Publish(topic, payload string) {
	b.mu.RLock()
	subs := b.snapshot(topic)
	logger := b.logger
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.deliver(payload); err != nil {
			logger.WithError(err).WithFields(logging.Fields{
				"topic":        topic,
				"subscription": sub.id,
			}).Warn("broadcast", "deliver", "Subscriber failed")
		}
	}
}

func (b *Broadcaster) snapshot(topic string) []*Subscription {
	subs := b.topics[topic]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, c *Subscription) int {
		return cmp.Compare(a.id, c.id)
	})
	return out
}

func (b *Broadcaster) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

package broadcast

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/auditmos/devlens/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu  sync.Mutex
	got []string
}

func (c *collector) handle(payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, payload)
	return nil
}

func (c *collector) payloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func TestPublish_DeliversToEverySubscriberInOrder(t *testing.T) {
	b := New(nil)
	var first, second collector
	b.Subscribe(TopicLog, first.handle)
	b.Subscribe(TopicLog, second.handle)

	b.Publish(TopicLog, `{"level":"info","message":"one"}`)
	b.Publish(TopicLog, `{"level":"info","message":"two"}`)

	want := []string{`{"level":"info","message":"one"}`, `{"level":"info","message":"two"}`}
	assert.Equal(t, want, first.payloads())
	assert.Equal(t, want, second.payloads())
}

func TestPublish_OnlyMatchingTopic(t *testing.T) {
	b := New(nil)
	var logs, other collector
	b.Subscribe(TopicLog, logs.handle)
	b.Subscribe("metrics", other.handle)

	b.Publish("metrics", "m1")

	assert.Empty(t, logs.payloads())
	assert.Equal(t, []string{"m1"}, other.payloads())
}

func TestPublish_NoSubscribersDropsPayload(t *testing.T) {
	b := New(nil)

	assert.NotPanics(t, func() {
		b.Publish(TopicLog, "nobody listening")
	})

	var late collector
	b.Subscribe(TopicLog, late.handle)
	b.Publish(TopicLog, "after")

	assert.Equal(t, []string{"after"}, late.payloads(), "no replay of earlier payloads")
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	b := New(nil)
	var c collector
	sub := b.Subscribe(TopicLog, c.handle)
	assert.Equal(t, TopicLog, sub.Topic())
	assert.Equal(t, 1, b.Subscribers(TopicLog))

	b.Unsubscribe(sub)
	assert.NotPanics(t, func() {
		b.Unsubscribe(sub)
		b.Unsubscribe(nil)
	})

	b.Publish(TopicLog, "ignored")
	assert.Empty(t, c.payloads())
	assert.Equal(t, 0, b.Subscribers(TopicLog))
}

func TestPublish_HandlerFailureIsolated(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.LoggerConfig{
		Output:    &buf,
		Formatter: &logging.JSONFormatter{},
		Level:     logging.DEBUG,
	})
	b := New(logger)

	var before, after collector
	b.Subscribe(TopicLog, before.handle)
	b.Subscribe(TopicLog, func(string) error { return errors.New("write: broken pipe") })
	b.Subscribe(TopicLog, func(string) error { panic("handler exploded") })
	b.Subscribe(TopicLog, after.handle)

	assert.NotPanics(t, func() {
		b.Publish(TopicLog, "payload")
	})

	assert.Equal(t, []string{"payload"}, before.payloads())
	assert.Equal(t, []string{"payload"}, after.payloads())

	output := buf.String()
	assert.Contains(t, output, `"component":"broadcast"`)
	assert.Contains(t, output, `"action":"deliver"`)
	assert.Contains(t, output, "write: broken pipe")
	assert.Contains(t, output, "handler panic: handler exploded")
}

func TestUnsubscribe_WaitsForInFlightDelivery(t *testing.T) {
	b := New(nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	sub := b.Subscribe(TopicLog, func(string) error {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil
	})

	go b.Publish(TopicLog, "slow")
	<-entered

	unsubscribed := make(chan struct{})
	go func() {
		b.Unsubscribe(sub)
		close(unsubscribed)
	}()

	select {
	case <-unsubscribed:
		t.Fatal("Unsubscribe returned while handler was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-unsubscribed:
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe did not return")
	}

	b.Publish(TopicLog, "after removal")
	assert.Equal(t, int32(1), calls.Load())
}

func TestBroadcaster_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := New(nil)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(TopicLog, fmt.Sprintf("%d-%d", i, j))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				var c collector
				sub := b.Subscribe(TopicLog, c.handle)
				b.Unsubscribe(sub)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, b.Subscribers(TopicLog))
}

func TestPublish_PerPublisherOrder(t *testing.T) {
	b := New(nil)
	var c collector
	b.Subscribe(TopicLog, c.handle)

	for i := 0; i < 100; i++ {
		b.Publish(TopicLog, fmt.Sprint(i))
	}

	got := c.payloads()
	require.Len(t, got, 100)
	for i, p := range got {
		assert.Equal(t, fmt.Sprint(i), p)
	}
}

func TestDefault_IsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}

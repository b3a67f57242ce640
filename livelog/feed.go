package livelog

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/auditmos/devlens/broadcast"
	"github.com/auditmos/devlens/logging"
)

// ConnLimiter caps concurrent live connections per client.
type ConnLimiter interface {
	AcquireConnection(key string) bool
	ReleaseConnection(key string)
}

const defaultBufferSize = 64

var errViewerBehind = errors.New("live viewer fell behind, buffer full")

// feed ties one live connection to the broadcaster. Payloads are queued in
// publish order; close is idempotent and unsubscribes before returning.
// Connections must call close before logging their own teardown: the
// logger may publish back into this feed.
type feed struct {
	events     chan string
	done       chan struct{}
	once       sync.Once
	overflowed atomic.Bool

	b       *broadcast.Broadcaster
	sub     *broadcast.Subscription
	release func()
}

func openFeed(b *broadcast.Broadcaster, bufferSize int, release func()) *feed {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	f := &feed{
		events:  make(chan string, bufferSize),
		done:    make(chan struct{}),
		b:       b,
		release: release,
	}
	f.sub = b.Subscribe(broadcast.TopicLog, f.push)
	return f
}

// push never blocks the publisher. A viewer whose buffer is full has fallen
// behind for good: the first overflow drops it, and the serve loop sees
// done closed.
func (f *feed) push(payload string) error {
	select {
	case <-f.done:
		return nil
	default:
	}
	select {
	case f.events <- payload:
		return nil
	default:
	}
	if !f.overflowed.CompareAndSwap(false, true) {
		return nil
	}
	// close waits for this delivery to finish, so it cannot run inline.
	go f.close()
	return errViewerBehind
}

func (f *feed) close() {
	f.once.Do(func() {
		close(f.done)
		f.b.Unsubscribe(f.sub)
		if f.release != nil {
			f.release()
		}
	})
}

type endpoint struct {
	mode       Mode
	b          *broadcast.Broadcaster
	logger     logging.Logger
	limiter    ConnLimiter
	proxies    TrustedProxies
	bufferSize int
}

// admit applies the mode gate and the per-client limit. On success it
// returns the release func for the acquired slot.
func (e *endpoint) admit(w http.ResponseWriter, r *http.Request, action string) (func(), bool) {
	if err := CheckMode(e.mode); err != nil {
		e.logger.WithError(err).WithFields(logging.Fields{
			"mode":   e.mode.String(),
			"remote": r.RemoteAddr,
		}).Warn("livelog", action, "Live log stream refused")
		writeError(w, err, http.StatusForbidden)
		return nil, false
	}

	client := e.proxies.ClientKey(r)
	if e.limiter == nil {
		return func() {}, true
	}
	if !e.limiter.AcquireConnection(client) {
		e.logger.WithFields(logging.Fields{"client": client}).Warn("livelog", action, "Too many live connections")
		writeError(w, logging.Classify(logging.ConnectionLimit, "open stream", errTooManyStreams), http.StatusServiceUnavailable)
		return nil, false
	}
	return func() { e.limiter.ReleaseConnection(client) }, true
}

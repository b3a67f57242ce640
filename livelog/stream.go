// Package livelog exposes the log broadcaster to browsers as a server-sent
// event stream (and a WebSocket variant), and provides a Go client for it.
package livelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/auditmos/devlens/broadcast"
	"github.com/auditmos/devlens/logging"
)

// EventLog is the event name every pushed record is sent under.
const EventLog = "log"

const defaultKeepAlive = 15 * time.Second

var errTooManyStreams = errors.New("too many live connections for this client")

type StreamConfig struct {
	Mode        Mode
	Broadcaster *broadcast.Broadcaster
	Logger      logging.Logger
	// KeepAlive is the interval between comment pings. A failed ping tears
	// the stream down like any other write error.
	KeepAlive time.Duration
	Limiter   ConnLimiter
	// Proxies may name the client via X-Forwarded-For.
	Proxies TrustedProxies
	// BufferSize bounds the events queued for a slow viewer; overflowing it
	// drops the connection.
	BufferSize int
}

// Stream serves the live log as text/event-stream.
type Stream struct {
	endpoint
	keepAlive time.Duration
}

func NewStream(cfg StreamConfig) *Stream {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &Stream{
		endpoint: endpoint{
			mode:       cfg.Mode,
			b:          cfg.Broadcaster,
			logger:     logger,
			limiter:    cfg.Limiter,
			proxies:    cfg.Proxies,
			bufferSize: cfg.BufferSize,
		},
		keepAlive: keepAlive,
	}
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	release, ok := s.admit(w, r, "stream")
	if !ok {
		return
	}

	f := openFeed(s.b, s.bufferSize, release)

	logger := s.logger.WithFields(logging.Fields{"remote": r.RemoteAddr})
	logger.Debug("livelog", "stream", "Stream opened")

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	err := s.serve(r.Context(), w, f)
	f.close()
	logTeardown(logger, "stream", f, err)
}

// serve pushes events until the client goes away, a write fails or the
// feed is dropped for falling behind.
func (s *Stream) serve(ctx context.Context, w http.ResponseWriter, f *feed) error {
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("streaming not supported: %w", err)
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case <-f.done:
			return nil
		case payload := <-f.events:
			err = writeEvent(w, EventLog, payload)
		case <-ticker.C:
			_, err = io.WriteString(w, ": ping\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			return err
		}
	}
}

// logTeardown runs after the feed is closed, so these records never land
// in the connection being torn down.
func logTeardown(logger logging.Logger, action string, f *feed, err error) {
	switch {
	case f.overflowed.Load():
		logger.WithFields(logging.Fields{"buffer": cap(f.events)}).Warn("livelog", action, "Live viewer fell behind, connection dropped")
	case err != nil:
		logger.WithError(err).Debug("livelog", action, "Live connection write failed")
	default:
		logger.Debug("livelog", action, "Live connection closed")
	}
}

// writeEvent frames payload as one SSE event. Payload lines become
// separate data fields so embedded newlines survive.
func writeEvent(w io.Writer, event, payload string) error {
	var sb strings.Builder
	sb.WriteString("event: ")
	sb.WriteString(event)
	sb.WriteString("\n")
	for _, line := range strings.Split(payload, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(strings.TrimSuffix(line, "\r"))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

func writeError(w http.ResponseWriter, err error, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      err.Error(),
		"error_type": logging.ErrorType(err),
	})
}

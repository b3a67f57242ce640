package livelog

import (
	"context"
	"net/http"
	"time"

	"github.com/auditmos/devlens/broadcast"
	"github.com/auditmos/devlens/logging"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

type SocketConfig struct {
	Mode        Mode
	Broadcaster *broadcast.Broadcaster
	Logger      logging.Logger
	KeepAlive   time.Duration
	Limiter     ConnLimiter
	Proxies     TrustedProxies
	BufferSize  int
	// CheckOrigin defaults to allowing any origin, which only matters in
	// development where the endpoint is enabled.
	CheckOrigin func(r *http.Request) bool
}

// Socket serves the live log over a WebSocket, one text message per record.
type Socket struct {
	endpoint
	keepAlive time.Duration
	upgrader  websocket.Upgrader
}

func NewSocket(cfg SocketConfig) *Socket {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Socket{
		endpoint: endpoint{
			mode:       cfg.Mode,
			b:          cfg.Broadcaster,
			logger:     logger,
			limiter:    cfg.Limiter,
			proxies:    cfg.Proxies,
			bufferSize: cfg.BufferSize,
		},
		keepAlive: keepAlive,
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

func (s *Socket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	release, ok := s.admit(w, r, "socket")
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		release()
		s.logger.WithError(err).Warn("livelog", "socket", "WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	f := openFeed(s.b, s.bufferSize, release)

	logger := s.logger.WithFields(logging.Fields{"remote": r.RemoteAddr})
	logger.Debug("livelog", "socket", "Socket opened")

	err = s.serve(r.Context(), conn, f)
	f.close()
	logTeardown(logger, "socket", f, err)
}

func (s *Socket) serve(ctx context.Context, conn *websocket.Conn, f *feed) error {
	// The client never sends data; reading surfaces close frames and
	// dropped connections.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return nil
		case <-f.done:
			return nil
		case payload := <-f.events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = conn.WriteMessage(websocket.TextMessage, []byte(payload))
		case <-ticker.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
		if err != nil {
			return err
		}
	}
}

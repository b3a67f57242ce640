package livelog

import (
	"errors"
	"strings"

	"github.com/auditmos/devlens/logging"
)

// Mode is the deployment mode the process runs in.
type Mode string

const (
	Development Mode = "development"
	Test        Mode = "test"
	Production  Mode = "production"
)

// ErrModeNotAllowed is returned when a live stream is requested in
// production mode.
var ErrModeNotAllowed = errors.New("live log stream is only available outside production")

func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dev", "development":
		return Development
	case "prod", "production":
		return Production
	case "test":
		return Test
	default:
		return Mode(strings.ToLower(strings.TrimSpace(s)))
	}
}

func (m Mode) AllowsLiveLog() bool {
	return m != Production
}

func (m Mode) String() string {
	return string(m)
}

// CheckMode reports a ModeNotAllowed error when m forbids live streams.
func CheckMode(m Mode) error {
	if m.AllowsLiveLog() {
		return nil
	}
	return logging.Classify(logging.ModeNotAllowed, "open stream", ErrModeNotAllowed)
}

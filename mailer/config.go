package mailer

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSubject = "App - ERROR"
	DefaultTimeout = 30 * time.Second
)

var (
	ErrNoHost      = errors.New("mailer host not configured")
	ErrNoRecipient = errors.New("mailer recipient not configured")
)

// Config describes the SMTP transport and the incident mailbox.
type Config struct {
	Host      string
	Port      int
	Secure    bool
	IgnoreTLS bool
	User      string
	Password  string
	From      string
	To        string
	Subject   string
	Timeout   time.Duration
}

// ConfigFromEnv reads MAILER_* variables through getenv. It never fails;
// missing values surface when a message is sent.
func ConfigFromEnv(getenv func(string) string) Config {
	cfg := Config{
		Host:      strings.TrimSpace(getenv("MAILER_HOST")),
		Secure:    envBool(getenv("MAILER_SECURE")),
		IgnoreTLS: envBool(getenv("MAILER_IGNORE_TLS")),
		User:      getenv("MAILER_USER"),
		Password:  getenv("MAILER_PASSWORD"),
		From:      strings.TrimSpace(getenv("MAILER_SEND_ERRORS_FROM")),
		To:        strings.TrimSpace(getenv("MAILER_SEND_ERRORS_TO")),
		Subject:   getenv("MAILER_SUBJECT"),
		Timeout:   DefaultTimeout,
	}
	if port, err := strconv.Atoi(strings.TrimSpace(getenv("MAILER_PORT"))); err == nil && port > 0 {
		cfg.Port = port
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	return cfg
}

func envBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// Validate reports the first missing setting that makes delivery impossible.
func (c Config) Validate() error {
	if c.Host == "" {
		return ErrNoHost
	}
	if len(c.Recipients()) == 0 {
		return ErrNoRecipient
	}
	return nil
}

// Recipients splits To on commas.
func (c Config) Recipients() []string {
	return splitAddresses(c.To)
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ResolvedPort is Port or the conventional submission port for the
// security mode.
func (c Config) ResolvedPort() int {
	if c.Port > 0 {
		return c.Port
	}
	if c.Secure {
		return 465
	}
	return 587
}

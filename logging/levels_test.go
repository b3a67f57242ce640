package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{SILLY, "silly"},
		{DEBUG, "debug"},
		{VERBOSE, "verbose"},
		{HTTP, "http"},
		{INFO, "info"},
		{WARN, "warn"},
		{ERROR, "error"},
		{LogLevel(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"silly", SILLY},
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"verbose", VERBOSE},
		{"http", HTTP},
		{"HTTP", HTTP},
		{"info", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{" error ", ERROR},
		{"invalid", INFO},
		{"", INFO},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestLogLevel_ShouldLog(t *testing.T) {
	tests := []struct {
		level LogLevel
		min   LogLevel
		want  bool
	}{
		{DEBUG, DEBUG, true},
		{SILLY, DEBUG, false},
		{VERBOSE, DEBUG, true},
		{HTTP, DEBUG, true},
		{HTTP, INFO, false},
		{INFO, HTTP, true},
		{WARN, INFO, true},
		{ERROR, WARN, true},
		{DEBUG, INFO, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.ShouldLog(tt.min), "%s >= %s", tt.level, tt.min)
	}
}

package logging

import "strings"

// LogLevel orders severities from most to least verbose.
type LogLevel int

const (
	SILLY LogLevel = iota
	DEBUG
	VERBOSE
	HTTP
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	SILLY:   "silly",
	DEBUG:   "debug",
	VERBOSE: "verbose",
	HTTP:    "http",
	INFO:    "info",
	WARN:    "warn",
	ERROR:   "error",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

func (l LogLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel maps a level name to a LogLevel. Unknown names yield INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silly":
		return SILLY
	case "debug":
		return DEBUG
	case "verbose":
		return VERBOSE
	case "http":
		return HTTP
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) ShouldLog(min LogLevel) bool {
	return l >= min
}

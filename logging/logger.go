package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Logger interface {
	Debug(component, action, msg string)
	Info(component, action, msg string)
	Warn(component, action, msg string)
	Error(component, action, msg string)
	Log(level LogLevel, component, action, msg string)
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithTraceID(traceID string) Logger
}

// Hook receives every entry that passes the level filter, after it has been
// written to the primary output.
type Hook interface {
	Fire(entry LogEntry) error
}

type HookFunc func(entry LogEntry) error

func (f HookFunc) Fire(entry LogEntry) error { return f(entry) }

type StandardLogger struct {
	mu        *sync.Mutex
	out       io.Writer
	formatter Formatter
	level     LogLevel
	hooks     []Hook
	fields    Fields
	traceID   string
	sanitize  bool
	errType   string
}

type LoggerConfig struct {
	Output    io.Writer
	Formatter Formatter
	Level     LogLevel
	Hooks     []Hook
	Sanitize  bool
}

func NewLogger(cfg LoggerConfig) *StandardLogger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	formatter := cfg.Formatter
	if formatter == nil {
		formatter = NewHumanFormatter(out)
	}

	return &StandardLogger{
		mu:        &sync.Mutex{},
		out:       out,
		formatter: formatter,
		level:     cfg.Level,
		hooks:     cfg.Hooks,
		fields:    make(Fields),
		sanitize:  cfg.Sanitize,
	}
}

func (l *StandardLogger) log(level LogLevel, component, action, msg string) {
	if !level.ShouldLog(l.level) {
		return
	}

	fields := l.fields
	if l.sanitize {
		fields = fields.Sanitize()
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Component: component,
		Action:    action,
		Message:   msg,
		Fields:    fields,
		TraceID:   l.traceID,
		ErrorType: l.errType,
	}

	if errField, ok := l.fields["error"]; ok {
		if errStr, ok := errField.(string); ok {
			entry.Error = errStr
		}
	}

	if data, err := l.formatter.Format(entry); err == nil {
		l.mu.Lock()
		l.out.Write(data)
		l.mu.Unlock()
	}

	for _, h := range l.hooks {
		l.fire(h, entry)
	}
}

func (l *StandardLogger) fire(h Hook, entry LogEntry) {
	defer func() {
		if r := recover(); r != nil {
			l.mu.Lock()
			fmt.Fprintf(l.out, "logging: hook panic: %v\n", r)
			l.mu.Unlock()
		}
	}()
	if err := h.Fire(entry); err != nil {
		l.mu.Lock()
		fmt.Fprintf(l.out, "logging: hook: %v\n", err)
		l.mu.Unlock()
	}
}

func (l *StandardLogger) Debug(component, action, msg string) {
	l.log(DEBUG, component, action, msg)
}

func (l *StandardLogger) Info(component, action, msg string) {
	l.log(INFO, component, action, msg)
}

func (l *StandardLogger) Warn(component, action, msg string) {
	l.log(WARN, component, action, msg)
}

func (l *StandardLogger) Error(component, action, msg string) {
	l.log(ERROR, component, action, msg)
}

func (l *StandardLogger) Log(level LogLevel, component, action, msg string) {
	l.log(level, component, action, msg)
}

func (l *StandardLogger) derive() *StandardLogger {
	return &StandardLogger{
		mu:        l.mu,
		out:       l.out,
		formatter: l.formatter,
		level:     l.level,
		hooks:     l.hooks,
		fields:    l.fields,
		traceID:   l.traceID,
		sanitize:  l.sanitize,
		errType:   l.errType,
	}
}

func (l *StandardLogger) WithFields(fields Fields) Logger {
	newFields := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	d := l.derive()
	d.fields = newFields
	return d
}

func (l *StandardLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	d := l.WithFields(Fields{"error": err.Error()}).(*StandardLogger)
	d.errType = ErrorType(err)
	return d
}

func (l *StandardLogger) WithTraceID(traceID string) Logger {
	d := l.derive()
	d.traceID = traceID
	return d
}

type NopLogger struct{}

func (NopLogger) Debug(component, action, msg string)               {}
func (NopLogger) Info(component, action, msg string)                {}
func (NopLogger) Warn(component, action, msg string)                {}
func (NopLogger) Error(component, action, msg string)               {}
func (NopLogger) Log(level LogLevel, component, action, msg string) {}
func (n NopLogger) WithFields(fields Fields) Logger                 { return n }
func (n NopLogger) WithError(err error) Logger                      { return n }
func (n NopLogger) WithTraceID(traceID string) Logger               { return n }

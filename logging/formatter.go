package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

type Formatter interface {
	Format(entry LogEntry) ([]byte, error)
}

// JSONFormatter writes one JSON object per line with fields nested under
// "fields".
type JSONFormatter struct{}

func (f *JSONFormatter) Format(entry LogEntry) ([]byte, error) {
	output := map[string]interface{}{
		"timestamp": entry.Timestamp.Format(time.RFC3339),
		"level":     entry.Level.String(),
		"component": entry.Component,
		"action":    entry.Action,
		"message":   entry.Message,
	}

	if len(entry.Fields) > 0 {
		output["fields"] = entry.Fields
	}
	addErrorKeys(output, entry)

	data, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return append(data, '\n'), nil
}

// RecordFormatter produces the flat record shape pushed to live viewers:
// fields sit at the top level next to level and message. Reserved keys
// override fields of the same name. No trailing newline.
type RecordFormatter struct{}

func (f *RecordFormatter) Format(entry LogEntry) ([]byte, error) {
	output := make(map[string]interface{}, len(entry.Fields)+6)
	for k, v := range entry.Fields {
		output[k] = v
	}
	output["timestamp"] = entry.Timestamp.Format(time.RFC3339Nano)
	output["level"] = entry.Level.String()
	output["message"] = entry.Message
	if entry.Component != "" {
		output["component"] = entry.Component
	}
	if entry.Action != "" {
		output["action"] = entry.Action
	}
	addErrorKeys(output, entry)

	data, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return data, nil
}

func addErrorKeys(output map[string]interface{}, entry LogEntry) {
	if entry.Error != "" {
		output["error"] = entry.Error
	}
	if entry.ErrorType != "" {
		output["error_type"] = entry.ErrorType
	}
	if entry.TraceID != "" {
		output["trace_id"] = entry.TraceID
	}
}

type HumanFormatter struct {
	colorEnabled bool
}

func NewHumanFormatter(w io.Writer) *HumanFormatter {
	colorEnabled := false
	if f, ok := w.(*os.File); ok {
		colorEnabled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &HumanFormatter{colorEnabled: colorEnabled}
}

func (f *HumanFormatter) Format(entry LogEntry) ([]byte, error) {
	ts := entry.Timestamp.Format("15:04:05")
	level := f.colorLevel(entry.Level)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s [%s] %s: %s", ts, level, entry.Component, entry.Action, entry.Message)

	if len(entry.Fields) > 0 {
		sb.WriteString(" ")
		sb.WriteString(formatFields(entry.Fields))
	}
	if entry.Error != "" {
		fmt.Fprintf(&sb, " error=%s", entry.Error)
	}
	if entry.ErrorType != "" {
		fmt.Fprintf(&sb, " error_type=%s", entry.ErrorType)
	}
	if entry.TraceID != "" {
		fmt.Fprintf(&sb, " trace_id=%s", entry.TraceID)
	}
	sb.WriteString("\n")

	return []byte(sb.String()), nil
}

// Same palette the browser adapters use, approximated in ANSI.
var levelColors = map[LogLevel]string{
	SILLY:   "\033[35m", // purple
	DEBUG:   "\033[36m", // teal
	VERBOSE: "\033[90m", // gray
	HTTP:    "\033[92m", // light green
	INFO:    "\033[34m", // blue
	WARN:    "\033[33m", // amber
	ERROR:   "\033[31m", // red
}

func (f *HumanFormatter) colorLevel(l LogLevel) string {
	name := l.String()
	if !f.colorEnabled {
		return fmt.Sprintf("%-7s", name)
	}
	return fmt.Sprintf("%s%-7s\033[0m", levelColors[l], name)
}

func formatFields(f Fields) string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, f[k])
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

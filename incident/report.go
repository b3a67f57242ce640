// Package incident turns an unhandled error into a dual-format report and
// hands it to the mail dispatcher.
package incident

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/auditmos/devlens/stacktrace"
)

// RequestInfo identifies the request that failed.
type RequestInfo struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// Report is everything known about one incident.
type Report struct {
	Message string
	Stack   []string
	Frames  []stacktrace.ResolvedFrame
	Request RequestInfo
	Params  map[string]string
}

type errorPayload struct {
	Message string   `json:"message"`
	Stack   []string `json:"stack"`
}

type payload struct {
	Error   errorPayload      `json:"error"`
	Request RequestInfo       `json:"request"`
	Params  map[string]string `json:"params"`
}

// JSON is the machine-readable echo of the report: indented two spaces,
// map keys sorted.
func (r Report) JSON() (string, error) {
	p := payload{
		Error:   errorPayload{Message: r.Message, Stack: r.Stack},
		Request: r.Request,
		Params:  r.Params,
	}
	if p.Error.Stack == nil {
		p.Error.Stack = []string{}
	}
	if p.Params == nil {
		p.Params = map[string]string{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// NewReport assembles a report from a resolution and the failed request.
func NewReport(res stacktrace.Resolution, req RequestInfo, params map[string]string) Report {
	return Report{
		Message: res.Message,
		Stack:   res.Stack,
		Frames:  res.Frames,
		Request: req,
		Params:  params,
	}
}

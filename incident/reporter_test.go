package incident

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/auditmos/devlens/logging"
	"github.com/auditmos/devlens/mailer"
	"github.com/auditmos/devlens/stacktrace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureMailer struct {
	mu   sync.Mutex
	msgs []mailer.Message
}

func (c *captureMailer) Dispatch(msg mailer.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *captureMailer) messages() []mailer.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mailer.Message(nil), c.msgs...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type tracedError struct{ stack string }

func (e *tracedError) Error() string      { return "traced" }
func (e *tracedError) StackTrace() string { return e.stack }

func newTestReporter(t *testing.T, logs *syncBuffer) (*Reporter, *captureMailer) {
	t.Helper()
	rn, err := NewRenderer("")
	require.NoError(t, err)
	m := &captureMailer{}
	logger := logging.NewLogger(logging.LoggerConfig{
		Output:    logs,
		Formatter: &logging.JSONFormatter{},
		Level:     logging.DEBUG,
	})
	return NewReporter(ReporterConfig{
		Resolver: stacktrace.NewResolver(nil, nil, logger),
		Renderer: rn,
		Mailer:   m,
		Logger:   logger,
	}), m
}

func TestReporter_CaptureDispatchesReport(t *testing.T) {
	var logs syncBuffer
	r, m := newTestReporter(t, &logs)

	ok := r.Capture(context.Background(), Input{
		Stack:   "TypeError: x is not defined\n    at foo (/build/server/index.js:10:5)",
		Request: RequestInfo{Method: "GET", URL: "/contacts/7"},
		Params:  map[string]string{"contactId": "7"},
	})
	require.True(t, ok)
	r.Wait()

	msgs := m.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].HTML, "TypeError: x is not defined")
	assert.Contains(t, msgs[0].Text, `"url": "/contacts/7"`)
	assert.Contains(t, msgs[0].Text, "/build/server/index.js:10:5")

	assert.Contains(t, logs.String(), `"level":"error"`)
	assert.Contains(t, logs.String(), `"component":"incident"`)
	assert.Contains(t, logs.String(), "TypeError: x is not defined")
}

func TestReporter_SkipsAbortedRequests(t *testing.T) {
	var logs syncBuffer
	r, m := newTestReporter(t, &logs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok := r.Capture(ctx, Input{Err: errors.New("boom")})
	r.Wait()

	assert.False(t, ok)
	assert.Empty(t, m.messages())
	assert.NotContains(t, logs.String(), `"level":"error"`)
}

func TestReporter_RedactsParams(t *testing.T) {
	var logs syncBuffer
	r, m := newTestReporter(t, &logs)

	r.Capture(context.Background(), Input{
		Err:    errors.New("boom"),
		Params: map[string]string{"token": "abc123", "id": "7"},
	})
	r.Wait()

	msgs := m.messages()
	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0].Text, "abc123")
	assert.Contains(t, msgs[0].Text, `"token": "[REDACTED]"`)
	assert.Contains(t, msgs[0].Text, `"id": "7"`)
}

type upperRedactor struct{}

func (upperRedactor) RedactParams(p map[string]string) map[string]string {
	out := make(map[string]string, len(p))
	for k := range p {
		out[k] = "***"
	}
	return out
}

func (upperRedactor) RedactURL(raw string) string { return strings.SplitN(raw, "?", 2)[0] }

func TestReporter_UsesConfiguredRedactor(t *testing.T) {
	rn, err := NewRenderer("")
	require.NoError(t, err)
	m := &captureMailer{}
	r := NewReporter(ReporterConfig{Renderer: rn, Mailer: m, Redactor: upperRedactor{}})

	r.Capture(context.Background(), Input{
		Err:     errors.New("boom"),
		Request: RequestInfo{Method: "GET", URL: "/reset?code=999"},
		Params:  map[string]string{"id": "7"},
	})
	r.Wait()

	msgs := m.messages()
	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0].Text, "999")
	assert.Contains(t, msgs[0].Text, `"id": "***"`)
}

func TestReporter_StackSources(t *testing.T) {
	var logs syncBuffer
	r, m := newTestReporter(t, &logs)

	r.Capture(context.Background(), Input{Err: &tracedError{stack: "Error: traced\n    at own (/x.js:1:1)"}})
	r.Capture(context.Background(), Input{Err: fmt.Errorf("wrapped: %w", &tracedError{stack: "Error: inner\n    at deep (/y.js:2:2)"})})
	r.Capture(context.Background(), Input{Err: errors.New("plain go error")})
	r.Wait()

	var texts []string
	for _, msg := range m.messages() {
		texts = append(texts, msg.Text)
	}
	all := strings.Join(texts, "\n")
	assert.Contains(t, all, `"message": "Error: traced"`)
	assert.Contains(t, all, `"message": "Error: inner"`)
	assert.Contains(t, all, `"message": "plain go error"`)
	assert.Contains(t, all, "goroutine")
}

func TestReporter_ConcurrentCapturesStayIsolated(t *testing.T) {
	var logs syncBuffer
	r, m := newTestReporter(t, &logs)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Capture(context.Background(), Input{
				Stack:   fmt.Sprintf("Error: failure-%02d", i),
				Request: RequestInfo{Method: "GET", URL: fmt.Sprintf("/item/%02d", i)},
			})
		}(i)
	}
	wg.Wait()
	r.Wait()

	msgs := m.messages()
	require.Len(t, msgs, n)
	for _, msg := range msgs {
		var id string
		for i := 0; i < n; i++ {
			if strings.Contains(msg.Text, fmt.Sprintf("failure-%02d", i)) {
				require.Empty(t, id, "report mixes incidents")
				id = fmt.Sprintf("%02d", i)
			}
		}
		require.NotEmpty(t, id)
		assert.Contains(t, msg.Text, "/item/"+id)
	}
}

func TestReporter_WithoutMailerStillLogs(t *testing.T) {
	var logs syncBuffer
	logger := logging.NewLogger(logging.LoggerConfig{Output: &logs, Formatter: &logging.JSONFormatter{}, Level: logging.DEBUG})
	r := NewReporter(ReporterConfig{Logger: logger})

	assert.True(t, r.Capture(context.Background(), Input{Err: errors.New("boom")}))
	r.Wait()

	assert.Contains(t, logs.String(), "Unhandled error")
	assert.Contains(t, logs.String(), "report dropped")
}

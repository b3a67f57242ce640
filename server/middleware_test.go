package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/auditmos/devlens/incident"
	"github.com/auditmos/devlens/livelog"
	"github.com/auditmos/devlens/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCapturer struct {
	mu     sync.Mutex
	inputs []incident.Input
}

func (f *fakeCapturer) Capture(ctx context.Context, in incident.Input) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return true
}

func (f *fakeCapturer) captured() []incident.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]incident.Input(nil), f.inputs...)
}

func newBufferLogger(buf *bytes.Buffer, level logging.LogLevel) logging.Logger {
	return logging.NewLogger(logging.LoggerConfig{
		Output:    buf,
		Formatter: &logging.JSONFormatter{},
		Level:     level,
	})
}

func newBoundary(t *testing.T, mode livelog.Mode, c Capturer) *recoverer {
	t.Helper()
	pages, err := newErrorPages("")
	require.NoError(t, err)
	return &recoverer{mode: mode, reporter: c, pages: pages, logger: logging.NopLogger{}}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogger(newBufferLogger(&buf, logging.SILLY), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contacts?page=2", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	trace := rec.Header().Get(TraceHeader)
	assert.Len(t, trace, 26)

	out := buf.String()
	assert.Contains(t, out, `"level":"http"`)
	assert.Contains(t, out, `"component":"server"`)
	assert.Contains(t, out, `"__type":"api"`)
	assert.Contains(t, out, `"status":201`)
	assert.Contains(t, out, `"url":"/contacts?page=2"`)
	assert.Contains(t, out, `"trace_id":"`+trace+`"`)
}

func TestRequestLogger_KeepsIncomingTraceID(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogger(newBufferLogger(&buf, logging.SILLY), http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set(TraceHeader, "trace-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "trace-123", rec.Header().Get(TraceHeader))
	assert.Contains(t, buf.String(), `"status":404`)
}

func TestRequestLogger_SuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogger(newBufferLogger(&buf, logging.INFO), http.NotFoundHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Empty(t, buf.String())
}

func TestRecover_DevelopmentShowsDetails(t *testing.T) {
	c := &fakeCapturer{}
	h := newBoundary(t, livelog.Development, c).wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("nil contact"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contacts/7", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "500 Internal Server Error")
	assert.Contains(t, rec.Body.String(), "nil contact")

	inputs := c.captured()
	require.Len(t, inputs, 1)
	assert.EqualError(t, inputs[0].Err, "nil contact")
	assert.Equal(t, "GET", inputs[0].Request.Method)
	assert.Equal(t, "/contacts/7", inputs[0].Request.URL)
	assert.Contains(t, inputs[0].Stack, "nil contact\n")
}

func TestRecover_ProductionHidesDetails(t *testing.T) {
	c := &fakeCapturer{}
	h := newBoundary(t, livelog.Production, c).wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("database password=hunter2 rejected")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Len(t, c.captured(), 1)
}

func TestRecover_RouteParams(t *testing.T) {
	c := &fakeCapturer{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /contacts/{contactId}/notes/{rest...}", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := newBoundary(t, livelog.Development, c).wrap(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/contacts/7/notes/a/b", nil))

	inputs := c.captured()
	require.Len(t, inputs, 1)
	assert.Equal(t, map[string]string{"contactId": "7", "rest": "a/b"}, inputs[0].Params)
}

func TestRecover_PanicAfterWrite(t *testing.T) {
	c := &fakeCapturer{}
	h := newBoundary(t, livelog.Development, c).wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial"))
		panic("late")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
	assert.Len(t, c.captured(), 1)
}

func TestRecover_AbortHandlerPropagates(t *testing.T) {
	h := newBoundary(t, livelog.Development, &fakeCapturer{}).wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRecover_PassThrough(t *testing.T) {
	c := &fakeCapturer{}
	h := newBoundary(t, livelog.Development, c).wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fine"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "fine", rec.Body.String())
	assert.Empty(t, c.captured())
}

func TestRouteParams_NoPattern(t *testing.T) {
	assert.Nil(t, routeParams(httptest.NewRequest(http.MethodGet, "/", nil)))
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

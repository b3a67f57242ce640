package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/auditmos/devlens/incident"
	"github.com/auditmos/devlens/livelog"
	"github.com/auditmos/devlens/logging"
	"github.com/oklog/ulid/v2"
)

// TraceHeader carries the per-request trace id back to the client.
const TraceHeader = "X-Request-Id"

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(p)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

// RequestLogger logs one api-shaped record per request at HTTP level and
// tags the request with a trace id.
func RequestLogger(logger logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = ulid.Make().String()
		}
		w.Header().Set(TraceHeader, traceID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.WithTraceID(traceID).
			WithFields(logging.APIFields(r.Method, r.URL.RequestURI(), rec.status, time.Since(start).Milliseconds())).
			Log(logging.HTTP, "server", "http", r.Method+" "+r.URL.Path)
	})
}

// Capturer starts an incident report for a failure.
type Capturer interface {
	Capture(ctx context.Context, in incident.Input) bool
}

type recoverer struct {
	mode     livelog.Mode
	reporter Capturer
	pages    *errorPages
	logger   logging.Logger
}

// wrap installs the error boundary: a panicking handler gets the standard
// error page and its error is captured without waiting.
func (rc *recoverer) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}

			err := panicError(p)
			stack := err.Error() + "\n" + string(debug.Stack())
			if rc.reporter != nil {
				rc.reporter.Capture(r.Context(), incident.Input{
					Err:     err,
					Stack:   stack,
					Request: incident.RequestInfo{Method: r.Method, URL: r.URL.RequestURI()},
					Params:  routeParams(r),
				})
			}

			if rec.wroteHeader {
				rc.logger.WithError(err).Warn("server", "recover", "Panic after response started")
				return
			}
			page := errorPage{Status: http.StatusInternalServerError, Title: http.StatusText(http.StatusInternalServerError)}
			if rc.mode.AllowsLiveLog() {
				page.Message = err.Error()
				page.Stack = stack
			}
			rc.pages.write(rec, page)
		}()
		next.ServeHTTP(rec, r)
	})
}

func panicError(p interface{}) error {
	if err, ok := p.(error); ok {
		return err
	}
	return fmt.Errorf("%v", p)
}

// routeParams collects the wildcard values of the ServeMux pattern that
// matched r.
func routeParams(r *http.Request) map[string]string {
	if r.Pattern == "" {
		return nil
	}
	params := make(map[string]string)
	rest := r.Pattern
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			break
		}
		name := strings.TrimSuffix(rest[open+1:open+end], "...")
		if name != "" && name != "$" {
			params[name] = r.PathValue(name)
		}
		rest = rest[open+end+1:]
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

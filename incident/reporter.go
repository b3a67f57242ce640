package incident

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/auditmos/devlens/logging"
	"github.com/auditmos/devlens/mailer"
	"github.com/auditmos/devlens/stacktrace"
)

// MailDispatcher hands a message off for background delivery.
type MailDispatcher interface {
	Dispatch(msg mailer.Message)
}

// ParamRedactor masks sensitive values before they enter a report.
type ParamRedactor interface {
	RedactParams(params map[string]string) map[string]string
	RedactURL(raw string) string
}

// StackTracer is implemented by errors that carry their own stack text.
type StackTracer interface {
	StackTrace() string
}

// Input is one captured failure. Stack overrides the stack derived from
// Err, for errors reported by a browser or another process.
type Input struct {
	Err     error
	Stack   string
	Request RequestInfo
	Params  map[string]string
}

type ReporterConfig struct {
	Resolver *stacktrace.Resolver
	Renderer *Renderer
	Mailer   MailDispatcher
	Redactor ParamRedactor
	Logger   logging.Logger
}

// Reporter is the capture pipeline: resolve, render, mail. Each capture
// runs detached from the request that triggered it.
type Reporter struct {
	resolver *stacktrace.Resolver
	renderer *Renderer
	mailer   MailDispatcher
	redactor ParamRedactor
	logger   logging.Logger
	wg       sync.WaitGroup
}

func NewReporter(cfg ReporterConfig) *Reporter {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = stacktrace.NewResolver(nil, nil, logger)
	}
	return &Reporter{
		resolver: resolver,
		renderer: cfg.Renderer,
		mailer:   cfg.Mailer,
		redactor: cfg.Redactor,
		logger:   logger,
	}
}

// Capture logs the failure and starts building its report in the
// background. Requests whose context is already done were aborted by the
// client and are skipped. It reports whether a capture was started.
func (r *Reporter) Capture(ctx context.Context, in Input) bool {
	if ctx != nil && ctx.Err() != nil {
		r.logger.WithFields(logging.Fields{
			"method": in.Request.Method,
			"url":    in.Request.URL,
		}).Debug("incident", "capture", "Skipping aborted request")
		return false
	}

	stack := in.Stack
	if stack == "" {
		stack = stackOf(in.Err)
	}

	req := in.Request
	params := in.Params
	if r.redactor != nil {
		req.URL = r.redactor.RedactURL(req.URL)
		params = r.redactor.RedactParams(params)
	} else {
		params = logging.SanitizeStrings(params)
	}
	params = copyParams(params)

	logger := r.logger.WithFields(logging.Fields{"method": req.Method, "url": req.URL})
	if in.Err != nil {
		logger = logger.WithError(in.Err)
	} else {
		logger = logger.WithFields(logging.Fields{"error": firstLine(stack)})
	}
	logger.Error("incident", "capture", "Unhandled error")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.process(stack, req, params)
	}()
	return true
}

// Wait blocks until every started capture has been handed to the mailer.
func (r *Reporter) Wait() {
	r.wg.Wait()
}

func (r *Reporter) process(stack string, req RequestInfo, params map[string]string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.WithFields(logging.Fields{"panic": fmt.Sprint(p)}).
				Error("incident", "report", "Incident report panicked")
		}
	}()

	report := NewReport(r.resolver.Resolve(stack), req, params)

	if r.renderer == nil || r.mailer == nil {
		r.logger.Debug("incident", "report", "No mailer configured, report dropped")
		return
	}

	rendered, err := r.renderer.Render(report)
	if err != nil {
		r.logger.WithError(err).Error("incident", "report", "Failed to render incident report")
		return
	}

	r.mailer.Dispatch(mailer.Message{HTML: rendered.HTML, Text: rendered.JSON})
	r.logger.WithFields(logging.Fields{
		"frames": len(report.Frames),
	}).Debug("incident", "report", "Incident report dispatched")
}

// stackOf returns the stack text for err: its own StackTrace when it has
// one, else the message followed by the current goroutine stack.
func stackOf(err error) string {
	if err == nil {
		return ""
	}
	var st StackTracer
	if errors.As(err, &st) {
		if s := st.StackTrace(); s != "" {
			return s
		}
	}
	return err.Error() + "\n" + string(debug.Stack())
}

func copyParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

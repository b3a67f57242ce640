package logging

import (
	"errors"
	"reflect"
)

// Class names a family of failures. It is what a record carries as
// error_type, and what clients of the HTTP endpoints match on.
type Class string

const (
	// ModeNotAllowed: a live log stream was requested in production.
	ModeNotAllowed Class = "ModeNotAllowed"
	// ConnectionLimit: the client already holds its share of live streams.
	ConnectionLimit Class = "ConnectionLimit"
	// FrameUnresolved: one stack frame could not be mapped and was kept raw.
	FrameUnresolved Class = "FrameUnresolved"
	// MailDeliveryFailed: the single attempt to send an incident mail failed.
	MailDeliveryFailed Class = "MailDeliveryFailed"
)

// Error lets a Class be matched with errors.Is.
func (c Class) Error() string { return string(c) }

// ClassError is err tagged with the operation that failed and its class.
type ClassError struct {
	Class Class
	Op    string
	Err   error
}

// Classify tags err. It returns nil when err is nil.
func Classify(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ClassError{Class: class, Op: op, Err: err}
}

func (e *ClassError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *ClassError) Unwrap() error { return e.Err }

// Is matches the class itself, so errors.Is(err, ModeNotAllowed) holds for
// any wrapping of a classified error.
func (e *ClassError) Is(target error) bool {
	c, ok := target.(Class)
	return ok && c == e.Class
}

// ErrorType reports the class of err, falling back to the Go type name of
// the error for unclassified failures.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	var ce *ClassError
	if errors.As(err, &ce) {
		return string(ce.Class)
	}
	t := reflect.TypeOf(err)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

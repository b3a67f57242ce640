// Package mailer delivers rendered incident reports to the operator
// mailbox. Delivery is fire-and-forget: one attempt, no retry, outcome
// observable only through logs and the optional delivery recorder.
package mailer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/auditmos/devlens/logging"
)

// DeliveryRecorder persists the outcome of a delivery attempt.
type DeliveryRecorder interface {
	RecordDelivery(subject, recipient string, sendErr error, attemptedAt time.Time, duration time.Duration) error
}

type DispatcherConfig struct {
	Config   Config
	Sender   Sender
	Recorder DeliveryRecorder
	Logger   logging.Logger
}

type Dispatcher struct {
	cfg      Config
	sender   Sender
	recorder DeliveryRecorder
	logger   logging.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	sender := cfg.Sender
	if sender == nil {
		sender = NewSMTPSender(cfg.Config)
	}
	return &Dispatcher{
		cfg:      cfg.Config,
		sender:   sender,
		recorder: cfg.Recorder,
		logger:   logger,
	}
}

// Dispatch starts one delivery attempt in the background and returns
// immediately.
func (d *Dispatcher) Dispatch(msg Message) {
	if msg.From == "" {
		msg.From = d.cfg.From
	}
	if msg.To == "" {
		msg.To = d.cfg.To
	}
	if msg.Subject == "" {
		msg.Subject = d.cfg.Subject
	}
	if msg.Subject == "" {
		msg.Subject = DefaultSubject
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(msg)
	}()
}

// Wait blocks until every dispatched message has been attempted.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(msg Message) {
	logger := d.logger.WithFields(logging.Fields{
		"subject":   msg.Subject,
		"recipient": msg.To,
	})

	start := time.Now()
	err := d.attempt(msg)
	elapsed := time.Since(start)

	if err != nil {
		logger.WithError(logging.Classify(logging.MailDeliveryFailed, "send", err)).
			WithFields(logging.Fields{"duration_ms": elapsed.Milliseconds()}).
			Error("mailer", "send", "Incident mail not delivered")
	} else {
		logger.WithFields(logging.Fields{"duration_ms": elapsed.Milliseconds()}).
			Info("mailer", "send", "Incident mail delivered")
	}

	if d.recorder != nil {
		if recErr := d.recorder.RecordDelivery(msg.Subject, msg.To, err, start, elapsed); recErr != nil {
			logger.WithError(recErr).Warn("mailer", "record", "Failed to record delivery")
		}
	}
}

func (d *Dispatcher) attempt(msg Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sender panic: %v", p)
		}
	}()

	if d.cfg.Host == "" {
		return ErrNoHost
	}
	if len(splitAddresses(msg.To)) == 0 {
		return ErrNoRecipient
	}

	timeout := d.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.sender.Send(ctx, msg)
}

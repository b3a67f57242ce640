package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// Message is one outgoing incident mail. Empty From, To and Subject are
// filled from the dispatcher's config.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers messages over SMTP, dialing once per message.
type SMTPSender struct {
	cfg Config
}

func NewSMTPSender(cfg Config) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if s.cfg.Host == "" {
		return ErrNoHost
	}
	recipients := splitAddresses(msg.To)
	if len(recipients) == 0 {
		return ErrNoRecipient
	}

	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return fmt.Errorf("set from %q: %w", msg.From, err)
	}
	if err := m.To(recipients...); err != nil {
		return fmt.Errorf("set recipients: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	if msg.Text != "" {
		m.AddAlternativeString(mail.TypeTextPlain, msg.Text)
	}

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail via %s:%d: %w", s.cfg.Host, s.cfg.ResolvedPort(), err)
	}
	return nil
}

func (s *SMTPSender) clientOptions() []mail.Option {
	var opts []mail.Option
	switch {
	case s.cfg.Secure:
		opts = append(opts, mail.WithSSL())
	case s.cfg.IgnoreTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	opts = append(opts, mail.WithPort(s.cfg.ResolvedPort()))

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts = append(opts, mail.WithTimeout(timeout))

	if s.cfg.User != "" {
		auth := mail.SMTPAuthPlain
		if s.cfg.IgnoreTLS && !s.cfg.Secure {
			auth = mail.SMTPAuthPlainNoEnc
		}
		opts = append(opts,
			mail.WithSMTPAuth(auth),
			mail.WithUsername(s.cfg.User),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

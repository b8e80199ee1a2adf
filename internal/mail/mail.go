// Package mail is the outbound Mail Relay capability: verification and
// welcome messages delivered over SMTP.
//
// Delivery is never allowed to block or fail a state transition. The
// registration flow sends synchronously but treats failure as a soft flag in
// its result; everything else goes through the Dispatcher, which retries a
// few times in the background and then gives up with a log line; the client
// can always request a resend.
package mail

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Relay sends a single message. Implementations must be safe for concurrent
// use.
type Relay interface {
	Send(ctx context.Context, msg Message) error
}

// SMTP is a Relay over a plain SMTP submission endpoint.
type SMTP struct {
	dialer *gomail.Dialer
	from   string
}

var _ Relay = (*SMTP)(nil)

// NewSMTP builds an SMTP relay. from is the full sender header, e.g.
// "PathFit <no-reply@pathfit.app>".
func NewSMTP(host string, port int, username, password, from string) *SMTP {
	return &SMTP{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	// gomail has no context support; honour cancellation before dialing
	// at least, since that is where the time goes.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("mail: sending to %s: %w", msg.To, err)
	}
	return nil
}

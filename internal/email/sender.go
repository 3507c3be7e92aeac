// Package email dispatches the out-of-band messages of the account-linking
// flow: the signed confirmation link and the linking-complete notice.
package email

import (
	"fmt"

	mail "github.com/go-mail/mail"
)

// Sender delivers one HTML message.
type Sender interface {
	Send(to, subject, htmlBody string) error
}

// SMTPSender is the production Sender.
type SMTPSender struct {
	Host string
	Port int
	From string
	User string
	Pass string
}

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(host string, port int, from, user, pass string) *SMTPSender {
	return &SMTPSender{Host: host, Port: port, From: from, User: user, Pass: pass}
}

// Send delivers the message. go-mail negotiates STARTTLS when the server
// offers it.
func (s *SMTPSender) Send(to, subject, htmlBody string) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

package sink

import (
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/sudorandom/hijackwatch/internal/alert"
)

// Mail delivers alerts over SMTP, matching the original project's
// "send_email" adapter: one plain-text message per alert, addressed
// to a fixed distribution list.
type Mail struct {
	smtpAddr string
	from     string
	to       []string
	log      *zap.Logger
}

// NewMail constructs a Mail sink. smtpAddr is host:port of a local or
// relay SMTP server that accepts unauthenticated mail, matching the
// original's use of a local smtplib.SMTP('localhost') connection.
func NewMail(smtpAddr, from string, to []string, log *zap.Logger) *Mail {
	return &Mail{smtpAddr: smtpAddr, from: from, to: to, log: log}
}

// Callback returns the function to register with alert.Engine.On.
func (s *Mail) Callback() alert.Callback {
	return func(a alert.Alert) {
		if err := s.send(a); err != nil {
			s.log.Error("mail sink failed", zap.Error(err), zap.String("event", a.Event))
		}
	}
}

func (s *Mail) send(a alert.Alert) error {
	msg := fmt.Sprintf("Subject: BGP alert\r\nFrom: %s\r\nTo: %s\r\n\r\n%s\r\n",
		s.from, strings.Join(s.to, ", "), a.Message)
	if err := smtp.SendMail(s.smtpAddr, nil, s.from, s.to, []byte(msg)); err != nil {
		return fmt.Errorf("sink: send mail: %w", err)
	}
	return nil
}

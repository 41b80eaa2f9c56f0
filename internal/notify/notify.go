// Package notify delivers transactional email: MFA verification codes
// and periodic backup reports.
package notify

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	gomail "gopkg.in/gomail.v2"
)

// Sender delivers one message. The scheduler and the session layer hold
// this interface; tests substitute a recorder.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTP sends through a regular SMTP relay via gomail.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// SSL forces implicit TLS instead of STARTTLS.
	SSL bool
}

// Send implements Sender.
func (s *SMTP) Send(to, subject, body string) error {
	if s.Host == "" {
		return fmt.Errorf("notify: smtp host not configured")
	}
	message := gomail.NewMessage()
	message.SetHeader("From", s.From)
	message.SetHeader("To", to)
	message.SetHeader("Subject", subject)
	message.SetBody("text/plain", body)

	dialer := gomail.NewDialer(s.Host, s.Port, s.Username, s.Password)
	dialer.SSL = s.SSL
	if errSend := dialer.DialAndSend(message); errSend != nil {
		return fmt.Errorf("notify: send to %s: %w", to, errSend)
	}
	log.Debugf("sent mail %q to %s", subject, to)
	return nil
}

// VerificationCodeBody renders the MFA code mail.
func VerificationCodeBody(code string, ttlMinutes int) (subject, body string) {
	subject = "Your verification code"
	body = fmt.Sprintf(
		"Your verification code is: %s\n\nThe code expires in %d minutes. If you did not try to sign in, you can ignore this message.\n",
		code, ttlMinutes)
	return subject, body
}

// Discard drops every message; used when no SMTP relay is configured.
type Discard struct{}

// Send implements Sender.
func (Discard) Send(to, subject, _ string) error {
	log.Warnf("mail delivery disabled, dropping %q for %s", subject, to)
	return nil
}

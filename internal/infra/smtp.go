package infra

import (
	"errors"
	"fmt"
	"net/mail"
	"net/smtp"

	"cajapos/internal/config"

	"github.com/jordan-wright/email"
)

var (
	ErrMailerDeshabilitado  = errors.New("mailer: SMTP_HOST not configured")
	ErrDestinatarioInvalido = errors.New("mailer: destinatario invalido")
)

// Mailer wraps SMTP configuration for plain-text notification mails.
type Mailer struct {
	host     string
	user     string
	password string
	addr     string
}

func NewMailer(cfg *config.Config) *Mailer {
	return &Mailer{
		host:     cfg.SMTPHost,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		addr:     fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
	}
}

// Enabled reports whether an SMTP host is configured.
func (m *Mailer) Enabled() bool { return m != nil && m.host != "" }

// Send delivers a plain-text message.
func (m *Mailer) Send(to []string, subject, body string) error {
	if !m.Enabled() {
		return ErrMailerDeshabilitado
	}
	for _, addr := range to {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("%w %q: %v", ErrDestinatarioInvalido, addr, err)
		}
	}
	e := email.NewEmail()
	e.From = m.user
	e.To = to
	e.Subject = subject
	e.Text = []byte(body)

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.password, m.host)
	}
	if err := e.Send(m.addr, auth); err != nil {
		return fmt.Errorf("mailer: send: %w", err)
	}
	return nil
}

// Package mailer delivers confirmation mail over SMTP. Sender is the
// surface the rest of the program depends on; SMTPSender is the real
// implementation with plain, STARTTLS and implicit-TLS transport modes.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/glaciergate/glaciergate/internal/metrics"
)

// ErrNotConfigured is returned when the SMTP host or sender address is missing.
var ErrNotConfigured = errors.New("mailer: smtp not configured")

// Sender delivers one confirmation message and reports a delivery ID the
// caller can log and correlate with the receiving MTA.
type Sender interface {
	SendConfirmation(ctx context.Context, to, confirmURL, file string) (deliveryID string, err error)
}

// Config holds SMTP transport parameters.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool // STARTTLS after plaintext connect
	UseSSL   bool // implicit TLS on connect

	From     string // envelope and header sender address
	FromName string // optional display name
}

// SMTPSender implements Sender against a real SMTP server.
type SMTPSender struct {
	cfg  Config
	log  zerolog.Logger
	send func(cfg Config, to string, msg []byte) error
}

// New builds an SMTPSender. Transport mode errors surface here rather
// than on first send.
func New(cfg Config, log zerolog.Logger) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Port == 0 || cfg.From == "" {
		return nil, ErrNotConfigured
	}
	if cfg.UseTLS && cfg.UseSSL {
		return nil, errors.New("mailer: STARTTLS and implicit TLS are mutually exclusive")
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("mailer: bad sender address: %w", err)
	}
	return &SMTPSender{cfg: cfg, log: log, send: transmit}, nil
}

// SendConfirmation builds and delivers the confirmation message for one
// (address, file) pair. The returned delivery ID is the generated
// Message-ID, minted before the send so a failed delivery is still
// traceable in the logs.
func (s *SMTPSender) SendConfirmation(ctx context.Context, to, confirmURL, file string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	deliveryID := uuid.NewString()
	msg, err := buildMessage(s.cfg, to, deliveryID, confirmURL, file)
	if err != nil {
		metrics.MailsSent.WithLabelValues("error").Inc()
		return "", err
	}

	if err := s.send(s.cfg, to, msg); err != nil {
		metrics.MailsSent.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Str("delivery_id", deliveryID).Msg("confirmation mail delivery failed")
		return "", fmt.Errorf("smtp send: %w", err)
	}
	metrics.MailsSent.WithLabelValues("ok").Inc()
	s.log.Info().Str("delivery_id", deliveryID).Msg("confirmation mail sent")
	return deliveryID, nil
}

func buildMessage(cfg Config, to, deliveryID, confirmURL, file string) ([]byte, error) {
	if _, err := mail.ParseAddress(to); err != nil {
		return nil, fmt.Errorf("mailer: bad recipient: %w", err)
	}
	body, err := renderBody(confirmURL, file)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", fromHeader(cfg.From, cfg.FromName))
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", "Confirm your archive retrieval request"))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", deliveryID, cfg.Host)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String()), nil
}

func fromHeader(from, name string) string {
	if strings.TrimSpace(name) == "" {
		return from
	}
	encoded := mime.QEncoding.Encode("UTF-8", name)
	return (&mail.Address{Name: encoded, Address: from}).String()
}

func transmit(cfg Config, to string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var auth smtp.Auth
	if cfg.Username != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	switch {
	case cfg.UseSSL:
		return sendWithSSL(addr, auth, cfg.Host, cfg.From, to, msg)
	case cfg.UseTLS:
		return sendWithStartTLS(addr, auth, cfg.Host, cfg.From, to, msg)
	default:
		return smtp.SendMail(addr, auth, cfg.From, []string{to}, msg)
	}
}

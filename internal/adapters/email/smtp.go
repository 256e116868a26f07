package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"chainintel/internal/domain/notification"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Sender delivers alerts over SMTP
type Sender struct {
	addr     string
	host     string
	from     string
	auth     smtp.Auth
	sendMail sendFunc
	log      *logger.Logger
}

var _ notification.Sender = (*Sender)(nil)

// Config for the SMTP sender
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// NewSender creates an SMTP sender. Auth is skipped when no username is set.
func NewSender(cfg Config, log *logger.Logger) *Sender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &Sender{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		host:     cfg.Host,
		from:     cfg.From,
		auth:     auth,
		sendMail: smtp.SendMail,
		log:      log.With("component", "smtp_sender"),
	}
}

// Channel implements notification.Sender
func (s *Sender) Channel() notification.Channel {
	return notification.ChannelEmail
}

// Send mails msg to the comma separated recipients in target.
// net/smtp has no context support, so cancellation is checked before dialing only.
func (s *Sender) Send(ctx context.Context, target string, msg notification.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var to []string
	for _, addr := range strings.Split(target, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	if len(to) == 0 {
		return errors.NewValidationError("to", "no recipients", target)
	}

	subject := msg.Subject
	if subject == "" {
		subject = fmt.Sprintf("[%s] chain risk alert", msg.Bucket)
	}
	if msg.Emergency {
		subject = "EMERGENCY " + subject
	}

	body := buildMessage(s.from, to, subject, msg.Body)
	if err := s.sendMail(s.addr, s.auth, s.from, to, body); err != nil {
		s.log.Errorw("Failed to send email", "recipients", len(to), "trace_id", msg.TraceID, "error", err)
		return errors.Wrap(err, "smtp send")
	}
	return nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

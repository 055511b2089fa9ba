package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"reminderq/internal/config"
	"reminderq/internal/ports"
)

var _ ports.Channel = (*SMTP)(nil)

type mailClient interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type SMTP struct {
	cfg        config.SMTP
	senderName string

	// newClient builds a client whose per-operation timeout is timeout.
	newClient func(timeout time.Duration) (mailClient, error)
}

func NewSMTP(cfg config.SMTP, senderName string) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("SMTP_HOST is not set")
	}
	if strings.TrimSpace(cfg.SenderEmail) == "" {
		return nil, errors.New("SMTP_SENDER_EMAIL is not set")
	}
	s := &SMTP{cfg: cfg, senderName: senderName}
	s.newClient = s.dial
	return s, nil
}

func (s *SMTP) dial(timeout time.Duration) (mailClient, error) {
	opts := []mail.Option{
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithPort(s.cfg.Port),
	}
	if timeout > 0 {
		opts = append(opts, mail.WithTimeout(timeout))
	}
	if s.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.User),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return mail.NewClient(s.cfg.Host, opts...)
}

func (s *SMTP) Name() string { return "smtp" }

// Send performs one SMTP exchange bounded by ctx's deadline.
func (s *SMTP) Send(ctx context.Context, m ports.Message) error {
	msg, err := s.message(m)
	if err != nil {
		return Permanent(err)
	}

	var timeout time.Duration
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
		if timeout <= 0 {
			return Transient(context.DeadlineExceeded)
		}
	}
	c, err := s.newClient(timeout)
	if err != nil {
		return Permanent(fmt.Errorf("smtp client: %w", err))
	}
	return classifySMTP(ctx, c.DialAndSendWithContext(ctx, msg))
}

func (s *SMTP) message(m ports.Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(s.senderName, s.cfg.SenderEmail); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", m.To, err)
	}
	msg.Subject(m.Subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	if m.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, m.HTML)
	}
	return msg, nil
}

// classifySMTP maps a send error to a delivery class. A deadline hit
// mid-exchange leaves the server's state unknown, so it is never retried.
func classifySMTP(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, os.ErrDeadlineExceeded) {
		return Unknown(err)
	}
	var se *mail.SendError
	if errors.As(err, &se) {
		if se.IsTemp() {
			return Transient(err)
		}
		return Permanent(err)
	}
	return Transient(err)
}

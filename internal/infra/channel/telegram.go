package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"reminderq/internal/config"
	"reminderq/internal/ports"
)

var _ ports.Channel = (*Telegram)(nil)

type teleSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram delivers to a chat id carried in the recipient address.
type Telegram struct {
	bot teleSender
}

func NewTelegram(cfg config.Telegram) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, m ports.Message) error {
	id, err := strconv.ParseInt(strings.TrimSpace(m.To), 10, 64)
	if err != nil {
		return Permanent(fmt.Errorf("invalid chat id %q: %w", m.To, err))
	}
	text := m.Subject
	if m.Body != "" {
		text += "\n\n" + m.Body
	}

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(tele.ChatID(id), text, &tele.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()
	select {
	case err := <-done:
		return classifyTelegram(err)
	case <-ctx.Done():
		// the request cannot be aborted and may still reach the chat
		return Unknown(ctx.Err())
	}
}

func classifyTelegram(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return TransientAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var te *tele.Error
	if errors.As(err, &te) {
		if te.Code == 429 || te.Code >= 500 {
			return Transient(err)
		}
		return Permanent(err)
	}
	// network failures and anything unrecognised
	return Transient(err)
}

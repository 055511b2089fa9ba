package channel

import (
	"context"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/wneessen/go-mail"
	tele "gopkg.in/telebot.v4"

	"reminderq/internal/config"
	"reminderq/internal/domain"
	"reminderq/internal/ports"
)

func TestClassifySES(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want domain.ErrorClass
	}{
		{"rejected", &smithy.GenericAPIError{Code: "MessageRejected", Fault: smithy.FaultClient}, domain.Permanent},
		{"throttled", &smithy.GenericAPIError{Code: "TooManyRequestsException", Fault: smithy.FaultClient}, domain.Transient},
		{"server", &smithy.GenericAPIError{Code: "InternalFailure", Fault: smithy.FaultServer}, domain.Transient},
		{"other client fault", &smithy.GenericAPIError{Code: "ValidationError", Fault: smithy.FaultClient}, domain.Permanent},
		{"network", errors.New("dial tcp: i/o timeout"), domain.Transient},
	}
	for _, tt := range tests {
		if got := domain.ClassOf(classifySES(tt.err)); got != tt.want {
			t.Fatalf("%s: class = %s, want %s", tt.name, got, tt.want)
		}
	}
	if classifySES(nil) != nil {
		t.Fatal("nil error should stay nil")
	}
}

func TestClassifySMTP(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if got := domain.ClassOf(classifySMTP(ctx, errors.New("connection refused"))); got != domain.Transient {
		t.Fatalf("network class = %s", got)
	}
	err := classifySMTP(ctx, fmt.Errorf("write DATA: %w", os.ErrDeadlineExceeded))
	if domain.ClassOf(err) != domain.Permanent || !errors.Is(err, ErrOutcomeUnknown) {
		t.Fatalf("mid-exchange timeout err = %v, want permanent unknown outcome", err)
	}
	if classifySMTP(ctx, nil) != nil {
		t.Fatal("nil error should stay nil")
	}
}

func TestClassifyTelegram(t *testing.T) {
	t.Parallel()
	if got := domain.ClassOf(classifyTelegram(&tele.Error{Code: 400, Description: "chat not found"})); got != domain.Permanent {
		t.Fatalf("400 class = %s", got)
	}
	if got := domain.ClassOf(classifyTelegram(&tele.Error{Code: 502, Description: "bad gateway"})); got != domain.Transient {
		t.Fatalf("502 class = %s", got)
	}
	var de *domain.DeliveryError
	if err := classifyTelegram(tele.FloodError{RetryAfter: 7}); !errors.As(err, &de) || de.Class != domain.Transient || de.RetryAfter != 7*time.Second {
		t.Fatal("flood error should be transient with retry-after")
	}
}

func TestTelegramRejectsBadChatID(t *testing.T) {
	t.Parallel()
	tg := &Telegram{bot: nil}
	err := tg.Send(context.Background(), ports.Message{To: "not-a-number"})
	if domain.ClassOf(err) != domain.Permanent {
		t.Fatalf("err = %v, want permanent", err)
	}
}

type sesStub struct {
	in  *sesv2.SendEmailInput
	err error
}

func (s *sesStub) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	s.in = in
	return &sesv2.SendEmailOutput{}, s.err
}

func TestSESSend(t *testing.T) {
	t.Parallel()
	stub := &sesStub{}
	s := &SES{client: stub, fromEmail: "bot@example.com"}
	err := s.Send(context.Background(), ports.Message{To: "ada@example.com", Subject: "subj", Body: "plain", HTML: "<p>hi</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg := stub.in.Content.Simple
	if *stub.in.FromEmailAddress != "bot@example.com" || *msg.Subject.Data != "subj" || *msg.Body.Text.Data != "plain" || *msg.Body.Html.Data != "<p>hi</p>" {
		t.Fatalf("unexpected input %+v", stub.in)
	}

	if err := s.Send(context.Background(), ports.Message{To: "not an address"}); domain.ClassOf(err) != domain.Permanent {
		t.Fatalf("invalid recipient err = %v", err)
	}
}

type mailStub struct {
	timeout time.Duration
	msgs    []*mail.Msg
	send    func(ctx context.Context) error
}

func (m *mailStub) DialAndSendWithContext(ctx context.Context, msgs ...*mail.Msg) error {
	m.msgs = append(m.msgs, msgs...)
	if m.send != nil {
		return m.send(ctx)
	}
	return nil
}

func newSMTPStub(t *testing.T, stub *mailStub) *SMTP {
	t.Helper()
	s, err := NewSMTP(config.SMTP{Host: "smtp.example.com", Port: 587, SenderEmail: "bot@example.com"}, "Todo Reminder Bot")
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	s.newClient = func(timeout time.Duration) (mailClient, error) {
		stub.timeout = timeout
		return stub, nil
	}
	return s
}

func TestSMTPSend(t *testing.T) {
	t.Parallel()
	stub := &mailStub{}
	s := newSMTPStub(t, stub)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	err := s.Send(ctx, ports.Message{To: "Ada <ada@example.com>", Subject: "Reminder: x", Body: "plain body", HTML: "<p>html</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(stub.msgs) != 1 || stub.timeout <= 0 || stub.timeout > time.Minute {
		t.Fatalf("msgs=%d timeout=%s", len(stub.msgs), stub.timeout)
	}
	var buf bytes.Buffer
	if _, err := stub.msgs[0].WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	for _, want := range []string{"multipart/alternative", "text/plain", "text/html", "plain body", "ada@example.com", "bot@example.com"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("message missing %q:\n%s", want, buf.String())
		}
	}

	if err := s.Send(context.Background(), ports.Message{To: "not an address"}); domain.ClassOf(err) != domain.Permanent {
		t.Fatalf("invalid recipient err = %v, want permanent", err)
	}
}

func TestSMTPTimeoutIsNotRetried(t *testing.T) {
	t.Parallel()
	stub := &mailStub{send: func(ctx context.Context) error {
		<-ctx.Done()
		return fmt.Errorf("smtp DATA: %w", ctx.Err())
	}}
	s := newSMTPStub(t, stub)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, ports.Message{To: "ada@example.com", Body: "b"})
	if domain.ClassOf(err) != domain.Permanent || !errors.Is(err, ErrOutcomeUnknown) {
		t.Fatalf("err = %v, want permanent unknown outcome", err)
	}
}

type teleStub struct {
	release chan struct{}
}

func (s *teleStub) Send(tele.Recipient, interface{}, ...interface{}) (*tele.Message, error) {
	<-s.release
	return &tele.Message{}, nil
}

func TestTelegramTimeoutIsNotRetried(t *testing.T) {
	t.Parallel()
	stub := &teleStub{release: make(chan struct{})}
	t.Cleanup(func() { close(stub.release) })
	tg := &Telegram{bot: stub}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tg.Send(ctx, ports.Message{To: "12345", Subject: "s"})
	if domain.ClassOf(err) != domain.Permanent || !errors.Is(err, ErrOutcomeUnknown) {
		t.Fatalf("err = %v, want permanent unknown outcome", err)
	}
}

func TestLogChannel(t *testing.T) {
	t.Parallel()
	if err := NewLog().Send(context.Background(), ports.Message{To: "a@b.c"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := NewLog().Send(context.Background(), ports.Message{}); domain.ClassOf(err) != domain.Permanent {
		t.Fatalf("empty recipient err = %v", err)
	}
}

func TestNewUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := New(context.Background(), &config.Config{Channel: config.Channel{Driver: "pigeon"}}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

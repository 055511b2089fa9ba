package channel

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"reminderq/internal/config"
	"reminderq/internal/ports"
)

var _ ports.Channel = (*SES)(nil)

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SES struct {
	client    sesAPI
	fromEmail string
}

func NewSES(ctx context.Context, cfg config.SES) (*SES, error) {
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, errors.New("SES_FROM_EMAIL is not set")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SES{client: sesv2.NewFromConfig(awsCfg), fromEmail: cfg.FromEmail}, nil
}

func (s *SES) Name() string { return "ses" }

func (s *SES) Send(ctx context.Context, m ports.Message) error {
	if _, err := mail.ParseAddress(m.To); err != nil {
		return Permanent(fmt.Errorf("invalid recipient %q: %w", m.To, err))
	}
	body := &types.Body{Text: &types.Content{Data: aws.String(m.Body), Charset: aws.String("UTF-8")}}
	if m.HTML != "" {
		body.Html = &types.Content{Data: aws.String(m.HTML), Charset: aws.String("UTF-8")}
	}
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.fromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{m.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(m.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	})
	return classifySES(err)
}

var sesPermanent = map[string]bool{
	"MessageRejected":                    true,
	"MailFromDomainNotVerifiedException": true,
	"AccountSuspendedException":          true,
	"SendingPausedException":             true,
	"BadRequestException":                true,
	"NotFoundException":                  true,
}

func classifySES(err error) error {
	if err == nil {
		return nil
	}
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return Transient(err)
	}
	if sesPermanent[ae.ErrorCode()] {
		return Permanent(err)
	}
	if ae.ErrorFault() == smithy.FaultClient && !strings.Contains(ae.ErrorCode(), "TooManyRequests") &&
		!strings.Contains(ae.ErrorCode(), "LimitExceeded") && !strings.Contains(ae.ErrorCode(), "Throttl") {
		return Permanent(err)
	}
	return Transient(err)
}

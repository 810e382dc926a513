package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/authemail/pkg/logger"
)

// SESAPI is the subset of the SES client used to send mail
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer renders templates and sends them through AWS SES
type SESMailer struct {
	client      SESAPI
	renderer    *TemplateRenderer
	fromAddress string
	bcc         []string
	logger      *slog.Logger
}

// NewSESMailer loads the default AWS configuration for region
func NewSESMailer(ctx context.Context, region, fromAddress string, bcc []string, renderer *TemplateRenderer, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESMailerWithClient(ses.NewFromConfig(cfg), fromAddress, bcc, renderer, logger), nil
}

func NewSESMailerWithClient(client SESAPI, fromAddress string, bcc []string, renderer *TemplateRenderer, logger *slog.Logger) *SESMailer {
	return &SESMailer{
		client:      client,
		renderer:    renderer,
		fromAddress: fromAddress,
		bcc:         bcc,
		logger:      logger,
	}
}

func (m *SESMailer) Send(ctx context.Context, template TemplateID, data map[string]string, recipient string) error {
	msg, err := m.renderer.Render(template, data)
	if err != nil {
		return err
	}

	destination := &types.Destination{ToAddresses: []string{recipient}}
	if len(m.bcc) > 0 {
		destination.BccAddresses = m.bcc
	}

	input := &ses.SendEmailInput{
		Source:      aws.String(m.fromAddress),
		Destination: destination,
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")},
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send %s email: %w", template, err)
	}

	m.logger.Info("email sent",
		slog.String("template", string(template)),
		slog.String("to", pkglogger.SanitizedEmail(recipient)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

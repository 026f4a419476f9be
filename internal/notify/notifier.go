// Package notify tells applicants about decisions by email (SES) and SMS (SNS).
package notify

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/common/metrics"
	"admissions-workers/internal/common/validation"
	"admissions-workers/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"

	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusDisabled = "disabled"
)

// SESService and SNSService match the SDK client methods, so *ses.Client and
// *sns.Client satisfy them directly.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Config struct {
	EmailEnabled bool
	FromEmail    string
	SMSEnabled   bool
	SenderID     string
	Templates    map[models.Decision]models.NotificationTemplate
}

type AWSNotifier struct {
	config Config
	ses    SESService
	sns    SNSService
	log    logger.Logger
}

// NewAWSNotifier builds a notifier. A nil client disables its channel.
func NewAWSNotifier(config Config, sesClient SESService, snsClient SNSService, log logger.Logger) *AWSNotifier {
	if config.Templates == nil {
		config.Templates = DefaultTemplates
	}
	return &AWSNotifier{
		config: config,
		ses:    sesClient,
		sns:    snsClient,
		log:    logger.ForComponent(log, "notify"),
	}
}

// SendDecision sends on every enabled channel and fails only if a channel
// that was attempted failed.
func (n *AWSNotifier) SendDecision(ctx context.Context, notice models.DecisionNotice) error {
	results := n.Send(ctx, notice)
	var errs []error
	for _, r := range results {
		if r.Status == StatusFailed {
			errs = append(errs, errors.NewNotificationSendFailedError(r.Channel, stderrors.New(r.Error)))
		}
	}
	return stderrors.Join(errs...)
}

// Send returns one Notification per channel.
func (n *AWSNotifier) Send(ctx context.Context, notice models.DecisionNotice) []models.Notification {
	tmpl, ok := n.config.Templates[notice.Decision]
	if !ok {
		n.log.Warn("No template for decision", map[string]interface{}{"decision": string(notice.Decision)})
		return []models.Notification{n.result(notice, ChannelEmail, StatusFailed, "", fmt.Errorf("no template for %q", notice.Decision))}
	}
	data := noticeData(notice)

	return []models.Notification{
		n.sendEmail(ctx, notice, Render(tmpl.Subject, data), Render(tmpl.Body, data)),
		n.sendSMS(ctx, notice, Render(SMSTemplates[notice.Decision], data)),
	}
}

func (n *AWSNotifier) sendEmail(ctx context.Context, notice models.DecisionNotice, subject, body string) models.Notification {
	if !n.config.EmailEnabled || n.ses == nil || !validation.ValidateEmail(notice.Email) {
		return n.result(notice, ChannelEmail, StatusDisabled, "", nil)
	}

	out, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{notice.Email}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(n.config.FromEmail),
	})
	if err != nil {
		return n.result(notice, ChannelEmail, StatusFailed, "", err)
	}
	return n.result(notice, ChannelEmail, StatusSent, aws.ToString(out.MessageId), nil)
}

func (n *AWSNotifier) sendSMS(ctx context.Context, notice models.DecisionNotice, body string) models.Notification {
	if !n.config.SMSEnabled || n.sns == nil || !validation.ValidatePhone(notice.Phone) {
		return n.result(notice, ChannelSMS, StatusDisabled, "", nil)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(notice.Phone),
		Message:     aws.String(body),
	}
	if n.config.SenderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {DataType: aws.String("String"), StringValue: aws.String(n.config.SenderID)},
		}
	}
	out, err := n.sns.Publish(ctx, input)
	if err != nil {
		return n.result(notice, ChannelSMS, StatusFailed, "", err)
	}
	return n.result(notice, ChannelSMS, StatusSent, aws.ToString(out.MessageId), nil)
}

func (n *AWSNotifier) result(notice models.DecisionNotice, channel, status, messageID string, err error) models.Notification {
	metrics.Notifications.WithLabelValues(channel, status).Inc()
	out := models.Notification{
		ID:            uuid.NewString(),
		ApplicationID: notice.ApplicationID,
		Channel:       channel,
		Status:        status,
		MessageID:     messageID,
		SentAt:        time.Now().UTC(),
	}
	fields := map[string]interface{}{"channel": channel, "status": status, "id": notice.ApplicationID}
	if err != nil {
		out.Error = err.Error()
		n.log.WithError(err).Warn("Notification failed", fields)
	} else if status == StatusSent {
		n.log.Info("Notification sent", fields)
	}
	return out
}

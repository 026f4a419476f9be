// Package aws builds the SDK clients used for decision notifications.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// NotificationClients holds the SES and SNS clients. A channel that was not
// requested is left nil.
type NotificationClients struct {
	SES *ses.Client
	SNS *sns.Client
}

// NewNotificationClients loads the default credential chain once for region
// and creates the clients for the requested channels.
func NewNotificationClients(ctx context.Context, region string, email, sms bool) (*NotificationClients, error) {
	if !email && !sms {
		return &NotificationClients{}, nil
	}
	if region == "" {
		return nil, fmt.Errorf("aws region is required for notifications")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), 3)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	out := &NotificationClients{}
	if email {
		out.SES = ses.NewFromConfig(cfg)
	}
	if sms {
		out.SNS = sns.NewFromConfig(cfg)
	}
	return out, nil
}

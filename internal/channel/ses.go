package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/seplitza/backend-rejuvena/internal/engine"
)

// SESChannel sends through AWS SES using the SDK v2. Engagement callbacks
// arrive via SNS notifications handled by the webhook receiver.
type SESChannel struct {
	client    *sesv2.Client
	fromName  string
	fromEmail string
}

// NewSESChannel creates an SES channel. With empty credentials the default
// AWS credential chain is used (IAM role in deployment).
func NewSESChannel(ctx context.Context, accessKey, secretKey, region, fromName, fromEmail string) (*SESChannel, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESChannel{
		client:    sesv2.NewFromConfig(cfg),
		fromName:  fromName,
		fromEmail: fromEmail,
	}, nil
}

// Send delivers one message and returns the SES message id. A
// MessageRejected or BadRequest response is a permanent rejection; anything
// else is transient.
func (c *SESChannel) Send(ctx context.Context, to, subject, html string) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", c.fromName, c.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(html), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	out, err := c.client.SendEmail(ctx, input)
	if err != nil {
		var rejected *types.MessageRejected
		if errors.As(err, &rejected) {
			return "", &engine.SendRejectedError{Reason: aws.ToString(rejected.Message)}
		}
		var badReq *types.BadRequestException
		if errors.As(err, &badReq) {
			return "", &engine.SendRejectedError{Reason: aws.ToString(badReq.Message)}
		}
		return "", fmt.Errorf("ses send: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

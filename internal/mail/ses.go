package mail

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SESGateway delivers mail through AWS SES.
type SESGateway struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

// NewSESGateway creates the live transport. It does not verify; call
// Verify once before handing the gateway to the scheduler.
func NewSESGateway(ctx context.Context, cfg Config, logger *zap.Logger) (*SESGateway, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &SESGateway{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Verify probes the transport with the cheapest authenticated call.
// A failure here means the gateway must not be used for this process.
func (g *SESGateway) Verify(ctx context.Context) error {
	if _, err := g.client.GetSendQuota(ctx, &ses.GetSendQuotaInput{}); err != nil {
		return fmt.Errorf("ses verification failed: %w", err)
	}
	return nil
}

// Ready reports whether live sends will be attempted. A constructed and
// verified SES gateway is always ready; downgrades swap in the no-op
// gateway instead of flipping a flag.
func (g *SESGateway) Ready() bool {
	return true
}

// Send delivers one envelope via SES
func (g *SESGateway) Send(ctx context.Context, env *Envelope) (string, error) {
	if env.To == "" {
		return "", fmt.Errorf("envelope missing recipient")
	}
	if env.Subject == "" {
		return "", fmt.Errorf("envelope missing subject")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(g.from),
		Destination: &types.Destination{
			ToAddresses: []string{env.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(env.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(env.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := g.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}

	g.logger.Info("email sent via SES",
		zap.String("to", env.To),
		zap.String("message_id", *result.MessageId),
	)

	return *result.MessageId, nil
}

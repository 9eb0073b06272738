// Package ops publishes operator alerts for run-level failures. Per-
// notification outcomes live in the delivery log; only a whole-run
// abort is worth paging about.
package ops

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// AlertPublisher pushes operator alerts to an SNS topic.
type AlertPublisher struct {
	client   *sns.Client
	topicARN string
	logger   *zap.Logger
}

type Config struct {
	Region   string
	TopicARN string
}

// NewAlertPublisher creates an SNS-backed alert publisher.
func NewAlertPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*AlertPublisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SNS: %w", err)
	}

	return &AlertPublisher{
		client:   sns.NewFromConfig(awsCfg),
		topicARN: cfg.TopicARN,
		logger:   logger,
	}, nil
}

// RunAborted reports that an expiration check aborted before any users
// were processed. Publish failures are logged, never propagated; the
// alert channel must not make a bad run worse.
func (p *AlertPublisher) RunAborted(ctx context.Context, reason string) {
	message := fmt.Sprintf("Subscription expiration check aborted: %s", reason)

	_, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String("Notifier run aborted"),
		Message:  aws.String(message),
	})
	if err != nil {
		p.logger.Error("failed to publish operator alert",
			zap.Error(err),
			zap.String("topic_arn", p.topicARN),
		)
		return
	}

	p.logger.Info("operator alert published",
		zap.String("topic_arn", p.topicARN),
	)
}

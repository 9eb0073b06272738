package mail

import (
	"context"

	"go.uber.org/zap"
)

// Envelope is one outbound message, built fresh per send attempt.
// It is never persisted; the outcome lands in the delivery log.
type Envelope struct {
	To      string
	Subject string
	Body    string
}

// Gateway abstracts the live message-sending capability. Ready reports
// whether sends will be attempted over the network at all; a gateway
// that starts unready, or is downgraded after a failed verification,
// stays unready for the process lifetime.
type Gateway interface {
	Ready() bool
	Send(ctx context.Context, env *Envelope) (messageID string, err error)
}

// Config holds transport settings.
type Config struct {
	Region    string
	FromEmail string
}

// Verifier is a gateway that can probe its transport once at startup.
type Verifier interface {
	Gateway
	Verify(ctx context.Context) error
}

// NewGateway resolves the transport in two phases before the scheduler
// starts: construct, then verify. With no FROM address configured the
// process runs in dry-run mode on the no-op gateway. A failed
// verification also lands on the no-op gateway; there is no automatic
// re-promotion, the next boot re-checks.
func NewGateway(ctx context.Context, cfg Config, logger *zap.Logger) Gateway {
	return resolveGateway(ctx, cfg, logger, func(ctx context.Context) (Verifier, error) {
		return NewSESGateway(ctx, cfg, logger)
	})
}

func resolveGateway(ctx context.Context, cfg Config, logger *zap.Logger, construct func(context.Context) (Verifier, error)) Gateway {
	if cfg.FromEmail == "" {
		logger.Info("no sender address configured, notifications will be recorded locally")
		return NewNoopGateway(logger)
	}

	gw, err := construct(ctx)
	if err != nil {
		logger.Warn("transport construction failed, downgrading to local recording",
			zap.Error(err),
		)
		return NewNoopGateway(logger)
	}

	if err := gw.Verify(ctx); err != nil {
		logger.Warn("transport verification failed, downgrading to local recording",
			zap.Error(err),
		)
		return NewNoopGateway(logger)
	}

	logger.Info("transport verified and ready",
		zap.String("from", cfg.FromEmail),
		zap.String("region", cfg.Region),
	)
	return gw
}

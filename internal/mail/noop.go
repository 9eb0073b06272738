package mail

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// NoopGateway is the permanently-unready transport. The scheduler sees
// Ready() == false and routes every notification to the fallback
// recorder; Send exists only to catch wiring mistakes.
type NoopGateway struct {
	logger *zap.Logger
}

func NewNoopGateway(logger *zap.Logger) *NoopGateway {
	return &NoopGateway{logger: logger}
}

func (g *NoopGateway) Ready() bool {
	return false
}

func (g *NoopGateway) Send(ctx context.Context, env *Envelope) (string, error) {
	g.logger.Warn("send attempted on unready transport",
		zap.String("to", env.To),
		zap.String("subject", env.Subject),
	)
	return "", fmt.Errorf("transport unready")
}

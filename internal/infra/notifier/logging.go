package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/social-platform-accounts/internal/core/port"
	"github.com/arklim/social-platform-accounts/internal/infra/logger"
)

// LoggingTransport writes deliveries to the service log instead of an
// outbound channel. Useful for development environments without a
// notification pipeline.
type LoggingTransport struct {
	logger *zap.Logger
}

// NewLoggingTransport constructs a transport that only logs deliveries.
func NewLoggingTransport(log *zap.Logger) *LoggingTransport {
	return &LoggingTransport{logger: log}
}

// Send logs the delivery with the destination masked. The raw secret is
// logged in full so developers can complete flows locally.
func (t *LoggingTransport) Send(_ context.Context, delivery port.TokenDelivery) error {
	destination := delivery.Destination
	switch delivery.Channel {
	case port.DeliveryChannelEmail:
		destination = logger.MaskEmail(destination)
	case port.DeliveryChannelSMS:
		destination = logger.MaskPhone(destination)
	}

	t.logger.Info("token delivery",
		zap.String("channel", delivery.Channel),
		zap.String("destination", destination),
		zap.String("template", string(delivery.Purpose)),
		zap.String("token", delivery.Token),
		zap.String("code", delivery.Code),
		zap.Time("expires_at", delivery.ExpiresAt),
	)

	return nil
}

var _ port.TokenTransport = (*LoggingTransport)(nil)

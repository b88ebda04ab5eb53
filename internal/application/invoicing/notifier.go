package invoicing

import (
	"context"

	"go.uber.org/zap"

	"github.com/fatturino/backend/internal/domain/invoicing"
)

// ExchangeAlert describes one processed notification for the observability
// side channel.
type ExchangeAlert struct {
	ExternalID string
	Outcome    invoicing.NotificationOutcome
	Entity     string // "invoice", "credit_note" or "none"
	Applied    bool
	Error      string
}

// AlertNotifier is the best-effort side channel fed on every processed
// exchange event. Implementations must be safe for concurrent use; failures
// never block or fail the state transition.
type AlertNotifier interface {
	NotifyExchangeOutcome(ctx context.Context, alert ExchangeAlert)
}

// LogAlertNotifier emits alerts to the structured log
type LogAlertNotifier struct {
	logger *zap.Logger
}

// NewLogAlertNotifier creates a notifier backed by the given logger
func NewLogAlertNotifier(logger *zap.Logger) *LogAlertNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAlertNotifier{logger: logger}
}

// NotifyExchangeOutcome implements AlertNotifier
func (n *LogAlertNotifier) NotifyExchangeOutcome(_ context.Context, alert ExchangeAlert) {
	n.logger.Info("Exchange notification processed",
		zap.String("external_id", alert.ExternalID),
		zap.String("outcome", string(alert.Outcome)),
		zap.String("entity", alert.Entity),
		zap.Bool("applied", alert.Applied),
		zap.String("error", alert.Error))
}

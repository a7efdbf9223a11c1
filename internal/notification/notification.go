package notification

import (
	"context"
	"log/slog"
)

// Notification kinds emitted by the transfer processor.
const (
	KindTransfer   = "transfer"
	KindDeposit    = "deposit"
	KindWithdrawal = "withdrawal"
)

// Message describes a notification payload. Destination is the email address
// supplied with the originating request.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems. Delivery itself is
// an external collaborator concern; the ledger only hands messages off.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger. Stands in for
// the real email collaborator in development and tests.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"destination", message.Destination,
		"body", message.Body)
	return nil
}

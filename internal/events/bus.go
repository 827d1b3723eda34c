package events

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/vending-relay/internal/txn"
)

// Topic constants for transaction state changes emitted by the reconciler.
const (
	TopicPaymentApproved  = "payment.approved"
	TopicPaymentRejected  = "payment.rejected"
	TopicPaymentCancelled = "payment.cancelled"
	TopicPaymentRefunded  = "payment.refunded"
)

// TopicForStatus maps a terminal transaction status to its topic. Returns an
// empty string for non-terminal statuses.
func TopicForStatus(status txn.Status) string {
	switch status {
	case txn.StatusApproved:
		return TopicPaymentApproved
	case txn.StatusRejected:
		return TopicPaymentRejected
	case txn.StatusCancelled:
		return TopicPaymentCancelled
	case txn.StatusRefunded:
		return TopicPaymentRefunded
	default:
		return ""
	}
}

// Event describes one transaction state change.
type Event struct {
	Topic         string
	TransactionID string
	MachineID     string
	Status        txn.Status
}

// Notifier reacts to emitted events (push delivery, metrics, etc.). Notifier
// failures are logged by the bus and never propagated: polling remains the
// authoritative delivery path.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Bus fans transaction state changes out to downstream notifiers.
type Bus struct {
	Notifiers []Notifier
	Logger    zerolog.Logger
}

// Emit dispatches the event to all configured notifiers.
func (b *Bus) Emit(ctx context.Context, event Event) error {
	if b == nil {
		return errors.New("events: bus not configured")
	}
	if strings.TrimSpace(event.Topic) == "" {
		return errors.New("events: topic is required")
	}
	if strings.TrimSpace(event.TransactionID) == "" {
		return errors.New("events: transaction id is required")
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, event); err != nil {
			b.Logger.Warn().
				Err(err).
				Str("topic", event.Topic).
				Str("transaction_id", event.TransactionID).
				Str("machine_id", event.MachineID).
				Msg("event notifier failed")
		}
	}
	return nil
}

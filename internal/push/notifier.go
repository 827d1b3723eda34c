package push

import (
	"context"

	"github.com/noah-isme/vending-relay/internal/events"
	"github.com/noah-isme/vending-relay/internal/obs"
)

// ApprovedNotifier is the push sink on the event bus: it forwards approval
// events to the machine's live connection. Non-approval topics and events
// without a machine id are ignored; those machines learn the outcome by
// polling.
type ApprovedNotifier struct {
	Registry *Registry
}

// Notify implements events.Notifier.
func (n ApprovedNotifier) Notify(_ context.Context, event events.Event) error {
	if n.Registry == nil {
		return nil
	}
	if event.Topic != events.TopicPaymentApproved || event.MachineID == "" {
		return nil
	}
	delivered := n.Registry.Push(event.MachineID, NewApprovedEvent(event.TransactionID))
	if obs.DispensePushTotal != nil {
		result := "delivered"
		if !delivered {
			result = "missed"
		}
		obs.DispensePushTotal.WithLabelValues(result).Inc()
	}
	return nil
}

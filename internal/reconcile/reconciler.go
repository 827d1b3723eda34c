package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/vending-relay/internal/events"
	"github.com/noah-isme/vending-relay/internal/gateway"
	"github.com/noah-isme/vending-relay/internal/lock"
	"github.com/noah-isme/vending-relay/internal/obs"
	"github.com/noah-isme/vending-relay/internal/txn"
)

// Notification is the parsed content of a gateway callback. The payload is
// only a poke: the payment id is re-fetched from the gateway before any state
// changes, so a forged or stale notification can at worst trigger a read.
type Notification struct {
	Kind      string
	PaymentID string
}

// Outcome classifies what a notification did to local state.
type Outcome string

const (
	// OutcomeIgnored marks notifications of a kind we do not process.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeUnresolved marks notifications whose payment could not be
	// fetched from the gateway; the gateway will retry.
	OutcomeUnresolved Outcome = "unresolved"
	// OutcomeUncorrelated marks payments carrying no external reference.
	OutcomeUncorrelated Outcome = "uncorrelated"
	// OutcomeMerged marks a status merge into an existing record.
	OutcomeMerged Outcome = "merged"
	// OutcomeSynthesized marks a record rebuilt from an orphan terminal
	// payment after the local record expired or was never written.
	OutcomeSynthesized Outcome = "synthesized"
	// OutcomeDropped marks notifications that produced no state change.
	OutcomeDropped Outcome = "dropped"
)

// Reconciler folds gateway payment notifications into the transaction store
// and emits state-change events. All mutation for one transaction id is
// serialized through the locker; gateway and store calls happen outside any
// in-process critical section other than that per-key lock.
type Reconciler struct {
	Store   txn.Store
	Gateway gateway.Client
	Locker  lock.Locker
	LockTTL time.Duration
	Events  *events.Bus
	Logger  zerolog.Logger
}

// Handle processes one notification end to end and reports the outcome.
// Errors are folded into outcomes because the HTTP layer acks the gateway
// regardless; the outcome is what gets logged and counted.
func (r *Reconciler) Handle(ctx context.Context, n Notification) Outcome {
	outcome := r.handle(ctx, n)
	if obs.WebhookNotificationTotal != nil {
		obs.WebhookNotificationTotal.WithLabelValues(string(outcome)).Inc()
	}
	return outcome
}

func (r *Reconciler) handle(ctx context.Context, n Notification) Outcome {
	kind := strings.ToLower(strings.TrimSpace(n.Kind))
	if kind != "payment" || strings.TrimSpace(n.PaymentID) == "" {
		r.Logger.Debug().Str("kind", n.Kind).Str("payment_id", n.PaymentID).Msg("notification ignored")
		return OutcomeIgnored
	}

	payment, err := r.Gateway.GetPayment(ctx, n.PaymentID)
	if err != nil {
		r.Logger.Error().Err(err).Str("payment_id", n.PaymentID).Msg("payment fetch failed")
		return OutcomeUnresolved
	}
	transactionID := strings.TrimSpace(payment.ExternalReference)
	if transactionID == "" {
		r.Logger.Warn().Str("payment_id", payment.ID).Msg("payment carries no external reference")
		return OutcomeUncorrelated
	}

	status, known := txn.ParseStatus(payment.Status)
	if !known {
		r.Logger.Warn().
			Str("payment_id", payment.ID).
			Str("transaction_id", transactionID).
			Str("raw_status", payment.Status).
			Msg("unknown gateway status treated as pending")
	}

	outcome := OutcomeDropped
	// Same lock key as the checkout create path, so a notification racing
	// the initial pending write is serialized against it.
	err = r.Locker.WithLock(ctx, "txn:"+transactionID, r.LockTTL, func(ctx context.Context) error {
		outcome = r.apply(ctx, transactionID, payment, status)
		return nil
	})
	if err != nil {
		r.Logger.Error().Err(err).Str("transaction_id", transactionID).Msg("reconcile lock failed")
		return OutcomeUnresolved
	}
	return outcome
}

// apply runs the read-merge-write for one payment under the per-transaction
// lock. It returns the outcome and emits the state-change event when a
// terminal status is reached for the first time.
func (r *Reconciler) apply(ctx context.Context, transactionID string, payment gateway.Payment, status txn.Status) Outcome {
	record, found, err := r.Store.Get(ctx, transactionID)
	if err != nil {
		r.Logger.Error().Err(err).Str("transaction_id", transactionID).Msg("record read failed")
		return OutcomeUnresolved
	}

	now := time.Now().UTC()
	var outcome Outcome
	var previous txn.Status

	if found {
		previous = record.Status
		if record.Status.Terminal() {
			if !status.Terminal() {
				// Stale out-of-order notification; terminal state wins.
				r.Logger.Info().
					Str("transaction_id", transactionID).
					Str("stored", string(record.Status)).
					Str("incoming", string(status)).
					Msg("non-terminal notification after terminal state dropped")
				return OutcomeDropped
			}
			if status != record.Status {
				r.Logger.Warn().
					Str("transaction_id", transactionID).
					Str("stored", string(record.Status)).
					Str("incoming", string(status)).
					Str("payment_id", payment.ID).
					Msg("terminal status overwritten by different terminal status")
			}
		}
		if record.SessionID != "" && payment.SessionID != "" && record.SessionID != payment.SessionID {
			r.Logger.Warn().
				Str("transaction_id", transactionID).
				Str("stored_session", record.SessionID).
				Str("payment_session", payment.SessionID).
				Msg("payment references a different checkout session")
		}
		record.Status = status
		record.PaymentID = payment.ID
		record.StatusDetail = payment.StatusDetail
		record.UpdatedAt = now
		outcome = OutcomeMerged
	} else {
		if !status.Terminal() {
			// Nothing local and nothing final: a later notification (or
			// the pending write racing this one) will carry the state.
			r.Logger.Info().
				Str("transaction_id", transactionID).
				Str("payment_id", payment.ID).
				Str("status", string(status)).
				Msg("orphan non-terminal notification dropped")
			return OutcomeDropped
		}
		record = txn.Record{
			TransactionID: transactionID,
			MachineID:     payment.Metadata.MachineID,
			Status:        status,
			Items:         paymentItems(payment.Items),
			SessionID:     payment.SessionID,
			PaymentID:     payment.ID,
			StatusDetail:  payment.StatusDetail,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		outcome = OutcomeSynthesized
		r.Logger.Info().
			Str("transaction_id", transactionID).
			Str("payment_id", payment.ID).
			Str("status", string(status)).
			Str("machine_id", record.MachineID).
			Msg("record synthesized from orphan terminal payment")
	}

	if err := r.Store.Put(ctx, record); err != nil {
		r.Logger.Error().Err(err).Str("transaction_id", transactionID).Msg("record write failed")
		return OutcomeUnresolved
	}

	r.Logger.Info().
		Str("transaction_id", transactionID).
		Str("payment_id", payment.ID).
		Str("status", string(status)).
		Str("outcome", string(outcome)).
		Msg("notification reconciled")

	// Fire the state-change event only when the record first turns
	// terminal so duplicate approved notifications cannot trigger a second
	// dispense.
	if r.Events != nil && status.Terminal() && !previous.Terminal() {
		if topic := events.TopicForStatus(status); topic != "" {
			_ = r.Events.Emit(ctx, events.Event{
				Topic:         topic,
				TransactionID: record.TransactionID,
				MachineID:     record.MachineID,
				Status:        status,
			})
		}
	}
	return outcome
}

func paymentItems(items []gateway.PaymentItem) []txn.Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]txn.Item, len(items))
	for i, it := range items {
		out[i] = txn.Item{Name: it.Title, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	return out
}

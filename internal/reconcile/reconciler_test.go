package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/vending-relay/internal/events"
	"github.com/noah-isme/vending-relay/internal/gateway"
	"github.com/noah-isme/vending-relay/internal/lock"
	"github.com/noah-isme/vending-relay/internal/reconcile"
	"github.com/noah-isme/vending-relay/internal/txn"
)

type fakeGateway struct {
	mu       sync.Mutex
	payments map[string]gateway.Payment
	err      error
	fetches  int
}

func (f *fakeGateway) CreateSession(context.Context, gateway.SessionRequest) (gateway.Session, error) {
	return gateway.Session{}, errors.New("not implemented")
}

func (f *fakeGateway) GetPayment(_ context.Context, paymentID string) (gateway.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return gateway.Payment{}, f.err
	}
	p, ok := f.payments[paymentID]
	if !ok {
		return gateway.Payment{}, &gateway.Error{Op: "get_payment", HTTPStatus: 404, Message: "payment not found"}
	}
	return p, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingNotifier) Notify(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func newReconciler(store txn.Store, gw gateway.Client) (*reconcile.Reconciler, *recordingNotifier) {
	sink := &recordingNotifier{}
	return &reconcile.Reconciler{
		Store:   store,
		Gateway: gw,
		Locker:  lock.NewKeyedMutex(),
		LockTTL: 30 * time.Second,
		Events:  &events.Bus{Notifiers: []events.Notifier{sink}, Logger: zerolog.Nop()},
		Logger:  zerolog.Nop(),
	}, sink
}

func pendingRecord(transactionID string) txn.Record {
	now := time.Now().UTC()
	return txn.Record{
		TransactionID: transactionID,
		MachineID:     "vm-7",
		Status:        txn.StatusPending,
		Items:         []txn.Item{{Name: "Soda", Quantity: 1, UnitPrice: 15}},
		SessionID:     "sess-1",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func approvedPayment(transactionID string) gateway.Payment {
	return gateway.Payment{
		ID:                "pay-1",
		Status:            "approved",
		StatusDetail:      "accredited",
		ExternalReference: transactionID,
		SessionID:         "sess-1",
		Metadata:          gateway.PaymentMetadata{MachineID: "vm-7"},
	}
}

func TestApprovedNotificationMergesAndEmitsOnce(t *testing.T) {
	t.Parallel()

	store := txn.NewMemoryStore(time.Hour)
	require.NoError(t, store.Put(context.Background(), pendingRecord("txn-001")))
	gw := &fakeGateway{payments: map[string]gateway.Payment{"pay-1": approvedPayment("txn-001")}}
	rec, sink := newReconciler(store, gw)

	outcome := rec.Handle(context.Background(), reconcile.Notification{Kind: "payment", PaymentID: "pay-1"})
	require.Equal(t, reconcile.OutcomeMerged, outcome)

	stored, found, err := store.Get(context.Background(), "txn-001")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, txn.StatusApproved, stored.Status)
	require.Equal(t, "pay-1", stored.PaymentID)
	require.Equal(t, "accredited", stored.StatusDetail)
	require.Equal(t, "vm-7", stored.MachineID)

	emitted := sink.all()
	require.Len(t, emitted, 1)
	require.Equal(t, events.TopicPaymentApproved, emitted[0].Topic)
	require.Equal(t, "txn-001", emitted[0].TransactionID)
	require.Equal(t, "vm-7", emitted[0].MachineID)
}

func TestDuplicateApprovedDoesNotRefire(t *testing.T) {
	t.Parallel()

	store := txn.NewMemoryStore(time.Hour)
	require.NoError(t, store.Put(context.Background(), pendingRecord("txn-001")))
	gw := &fakeGateway{payments: map[string]gateway.Payment{"pay-1": approvedPayment("txn-001")}}
	rec, sink := newReconciler(store, gw)

	first := rec.Handle(context.Background(), reconcile.Notification{Kind: "payment", PaymentID: "pay-1"})
	second := rec.Handle(context.Background(), reconcile.Notification{Kind: "payment", PaymentID: "pay-1"})
	require.Equal(t, reconcile.OutcomeMerged, first)
	require.Equal(t, reconcile.OutcomeMerged, second)
	require.Len(t, sink.all(), 1)
}

func TestOutOfOrderPendingAfterTerminalDropped(t *testing.T) {
	t.Parallel()

	store := txn.NewMemoryStore(time.Hour)
	approved := pendingRecord("txn-001")
	approved.Status = txn.StatusApproved
	require.NoError(t, store.Put(context.Background(), approved))

	stale := approvedPayment("txn-001")
	stale.Status = "pending"
	stale.StatusDetail = ""
	gw := &fakeGateway{payments: map[string]gateway.Payment{"pay-1": stale}}
	rec, sink := newReconciler(store, gw)

	outcome := rec.Handle(context.Background(), reconcile.Notification{Kind: "payment", PaymentID: "pay-1"})
	require.Equal(t, reconcile.OutcomeDropped, outcome)

	stored, _, err := store.Get(context.Background(), "txn-001")
	require.NoError(t, err)
	require.Equal(t, txn.StatusApproved, stored.Status)
	require.Empty(t, sink.all())
}

func TestDifferentTerminalOverwritesWithoutEvent(t *testing.T) {
	t.Parallel()

	store := txn.NewMemoryStore(time.Hour)
	approved := pendingRecord("txn-001")
	approved.Status = txn.StatusApproved
	require.NoError(t, store.Put(context.Background(), approved))

	refunded := approvedPayment("txn-001")
	refunded.Status = "refunded"
	gw := &fakeGateway{payments: map[string]gateway.Payment{"pay-1": refunded}}
	rec, sink := newReconciler(store, gw)

	outcome := rec.Handle(context.Background(), reconcile.Notification{Kind: "payment", PaymentID: "pay-1"})
	require.Equal(t, reconcile.OutcomeMerged, outcome)

	stored, _, err := store.Get(context.Background(), "txn-001")
	require.NoError(t, err)
	require.Equal(t, txn.StatusRefunded, stored.Status)
	require.Empty(t, sink.all())
}

func TestOrphanTerminalSynthesizesRecord(t *testing.T) {
	t.Parallel()

	store := txn.NewMemoryStore(time.Hour)
	payment := approvedPayment("txn-late")
	payment.Items = []gateway.PaymentItem{{Title: "Soda", Quantity: 2, UnitPrice: 15}}
	gw := &fakeGateway{payments: map[string]gateway.Payment{"pay-1": payment}}
	rec, sink := newReconciler(store, gw)

	outcome := rec.Handle(context.Background(), reconcile.Notification{Kind: "payment", PaymentID: "pay-1"})
	require.Equal(t, reconcile.OutcomeSynthesized, outcome)

	stored, found, err := store.Get(context.Background(), "txn-late")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, txn.StatusApproved, stored.Status)
	require.Equal(t, "vm-7", stored.MachineID)
	require.Equal(t, []txn.Item{{Name: "Soda", Quantity: 2, UnitPrice: 15}}, stored.Items)

	require.Len(t, sink.all(), 1)
}

func TestOrphanNonTerminalDropped(t *testing.T) {
	t.Parallel()

	store := txn.NewMemoryStore(time.Hour)
	payment := approvedPayment("txn-late")
	payment.Status = "in_process"
	gw := &fakeGateway{payments: map[string]gateway.Payment{"pay-1": payment}}
	rec, _ := newReconciler(store, gw)

	outcome := rec.Handle(context.Background(), reconcile.Notification{Kind: "payment", PaymentID: "pay-1"})
	require.Equal(t, reconcile.OutcomeDropped, outcome)
	require.Zero(t, store.Len())
}

func TestUncorrelatedPayment(t *testing.T) {
	t.Parallel()

	payment := approvedPayment("")
	gw := &fakeGateway{payments: map[string]gateway.Payment{"pay-1": payment}}
	rec, _ := newReconciler(txn.NewMemoryStore(time.Hour), gw)

	outcome := rec.Handle(context.Background(), reconcile.Notification{Kind: "payment", PaymentID: "pay-1"})
	require.Equal(t, reconcile.OutcomeUncorrelated, outcome)
}

func TestGatewayFetchFailureIsUnresolved(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{err: errors.New("gateway timeout")}
	rec, _ := newReconciler(txn.NewMemoryStore(time.Hour), gw)

	outcome := rec.Handle(context.Background(), reconcile.Notification{Kind: "payment", PaymentID: "pay-1"})
	require.Equal(t, reconcile.OutcomeUnresolved, outcome)
}

func TestNonPaymentKindIgnoredWithoutFetch(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	rec, _ := newReconciler(txn.NewMemoryStore(time.Hour), gw)

	require.Equal(t, reconcile.OutcomeIgnored, rec.Handle(context.Background(), reconcile.Notification{Kind: "merchant_order", PaymentID: "m-1"}))
	require.Equal(t, reconcile.OutcomeIgnored, rec.Handle(context.Background(), reconcile.Notification{Kind: "payment"}))
	require.Zero(t, gw.fetches)
}

func TestUnknownStatusTreatedAsPending(t *testing.T) {
	t.Parallel()

	store := txn.NewMemoryStore(time.Hour)
	require.NoError(t, store.Put(context.Background(), pendingRecord("txn-001")))

	payment := approvedPayment("txn-001")
	payment.Status = "authorized_weirdly"
	gw := &fakeGateway{payments: map[string]gateway.Payment{"pay-1": payment}}
	rec, sink := newReconciler(store, gw)

	outcome := rec.Handle(context.Background(), reconcile.Notification{Kind: "payment", PaymentID: "pay-1"})
	require.Equal(t, reconcile.OutcomeMerged, outcome)

	stored, _, err := store.Get(context.Background(), "txn-001")
	require.NoError(t, err)
	require.Equal(t, txn.StatusPending, stored.Status)
	require.Equal(t, "pay-1", stored.PaymentID)
	require.Empty(t, sink.all())
}

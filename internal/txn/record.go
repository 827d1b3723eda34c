package txn

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a vending transaction as reported by the
// payment gateway.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProcess   Status = "in_process"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusCancelled   Status = "cancelled"
	StatusRefunded    Status = "refunded"
	StatusChargedBack Status = "charged_back"

	// StatusNotFound is synthesised at query time for missing or expired
	// records. It is never stored.
	StatusNotFound Status = "not_found"
)

// Terminal reports whether no further meaningful transition is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// ParseStatus normalises a gateway-reported status string. Unknown values map
// to pending and are reported via the second return so callers can log them.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return StatusPending, true
	case "in_process", "in_mediation":
		return StatusInProcess, true
	case "approved", "authorized":
		return StatusApproved, true
	case "rejected":
		return StatusRejected, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	case "refunded":
		return StatusRefunded, true
	case "charged_back":
		return StatusChargedBack, true
	default:
		return StatusPending, false
	}
}

// Item is a purchased line item. Reconciliation treats items as opaque; they
// are carried through for display only.
type Item struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// Record is the durable state of one vending transaction, keyed by the
// caller-chosen transaction id.
type Record struct {
	TransactionID string    `json:"transactionId"`
	MachineID     string    `json:"machineId,omitempty"`
	Status        Status    `json:"status"`
	Items         []Item    `json:"items,omitempty"`
	SessionID     string    `json:"gatewaySessionId,omitempty"`
	PaymentID     string    `json:"gatewayPaymentId,omitempty"`
	StatusDetail  string    `json:"statusDetail,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

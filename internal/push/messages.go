package push

// Inbound message types sent by machines over the push channel.
const (
	msgIdentify   = "identify"
	msgClientPing = "ping_from_client"
)

// Outbound message types.
const (
	msgConnectionAck     = "connection_ack"
	msgIdentificationAck = "identification_ack"
	msgClientPong        = "pong_to_client"
	msgPaymentApproved   = "payment_approved"
)

// InboundMessage is a machine-originated message on the push channel.
type InboundMessage struct {
	Type      string `json:"type"`
	MachineID string `json:"machine_id,omitempty"`
}

// AckMessage acknowledges a connection or an in-band identification.
type AckMessage struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	MachineID string `json:"machine_id"`
	Message   string `json:"message,omitempty"`
}

// PongMessage answers a client-level ping.
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ApprovedEvent notifies a machine that a payment was approved and the item
// can be dispensed.
type ApprovedEvent struct {
	Type          string `json:"type"`
	TransactionID string `json:"vending_transaction_id"`
	Status        string `json:"status"`
}

// NewApprovedEvent builds the dispense notification for a transaction.
func NewApprovedEvent(transactionID string) ApprovedEvent {
	return ApprovedEvent{Type: msgPaymentApproved, TransactionID: transactionID, Status: "approved"}
}

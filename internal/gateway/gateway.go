package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SessionItem is a purchase line forwarded to the gateway checkout session.
type SessionItem struct {
	Name        string
	Description string
	Quantity    int
	UnitPrice   float64
}

// BackURLs are the browser return URLs attached to a checkout session.
type BackURLs struct {
	Success string
	Failure string
	Pending string
}

// SessionRequest carries everything needed to open a checkout session. The
// external reference is the caller's transaction id and is how the webhook
// path correlates payments back to local records. MachineID travels in the
// session metadata so orphan webhooks can still be resolved to a machine.
type SessionRequest struct {
	Items             []SessionItem
	ExternalReference string
	MachineID         string
	NotificationURL   string
	BackURLs          BackURLs
}

// Session is the gateway's handle for a created checkout session.
type Session struct {
	ID            string
	PayURL        string
	SandboxPayURL string
}

// PaymentMetadata is the caller-supplied metadata echoed back on payments.
type PaymentMetadata struct {
	MachineID string `json:"machine_id,omitempty"`
}

// PaymentItem is a line item as reported back by the gateway.
type PaymentItem struct {
	Title     string  `json:"title"`
	Quantity  int     `json:"quantity,string"`
	UnitPrice float64 `json:"unit_price,string"`
}

// Payment is the authoritative payment state fetched from the gateway.
type Payment struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	SessionID         string
	Metadata          PaymentMetadata
	Items             []PaymentItem
}

// Client abstracts the remote payment processor. Both operations block on
// network I/O and honour context cancellation.
type Client interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	GetPayment(ctx context.Context, paymentID string) (Payment, error)
}

// Error is a failed gateway call. Cause holds the raw diagnostic payload the
// gateway returned, when any.
type Error struct {
	Op         string
	HTTPStatus int
	Message    string
	Cause      json.RawMessage
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	detail := e.Detail()
	if detail != "" {
		return fmt.Sprintf("gateway: %s: %s", e.Op, detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway: %s failed", e.Op)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Detail extracts the most human-readable diagnostic from the nested gateway
// cause. Gateways wrap the useful message in shapes that vary per endpoint: a
// bare string, an object with a message field, or an array of cause objects.
func (e *Error) Detail() string {
	if e == nil {
		return ""
	}
	if detail := causeDetail(e.Cause); detail != "" {
		return detail
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

func causeDetail(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var asObject struct {
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil {
		if asObject.Description != "" {
			return asObject.Description
		}
		if asObject.Message != "" {
			return asObject.Message
		}
	}
	var asArray []struct {
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &asArray); err == nil && len(asArray) > 0 {
		if asArray[0].Description != "" {
			return asArray[0].Description
		}
		if asArray[0].Message != "" {
			return asArray[0].Message
		}
	}
	return ""
}

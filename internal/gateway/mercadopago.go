package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL  = "https://api.mercadopago.com"
	defaultCurrency = "MXN"
	maxTitleLen     = 250
)

// HTTPClient talks to a Mercado Pago style REST API: checkout preferences for
// session creation and the payments resource for authoritative status.
type HTTPClient struct {
	AccessToken string
	BaseURL     string
	Currency    string
	Sandbox     bool
	HTTP        *http.Client
}

// NewHTTPClient constructs a gateway client with a bounded request timeout.
func NewHTTPClient(accessToken, baseURL string, timeout time.Duration, sandbox bool) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		AccessToken: accessToken,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Sandbox:     sandbox,
		HTTP:        &http.Client{Timeout: timeout},
	}
}

type preferenceItem struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	CurrencyID  string  `json:"currency_id"`
	UnitPrice   float64 `json:"unit_price"`
}

type preferenceRequest struct {
	Items             []preferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url"`
	Metadata          PaymentMetadata  `json:"metadata"`
	BackURLs          struct {
		Success string `json:"success"`
		Failure string `json:"failure"`
		Pending string `json:"pending"`
	} `json:"back_urls"`
	AutoReturn string `json:"auto_return"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// CreateSession opens a checkout preference carrying the transaction id as
// the external reference.
func (c *HTTPClient) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	body := preferenceRequest{
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
		Metadata:          PaymentMetadata{MachineID: req.MachineID},
		AutoReturn:        "approved",
	}
	body.BackURLs.Success = req.BackURLs.Success
	body.BackURLs.Failure = req.BackURLs.Failure
	body.BackURLs.Pending = req.BackURLs.Pending
	currency := c.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	for _, item := range req.Items {
		title := item.Name
		if len(title) > maxTitleLen {
			title = title[:maxTitleLen]
		}
		description := item.Description
		if description == "" && req.MachineID != "" {
			description = fmt.Sprintf("Vending item from %s", req.MachineID)
		}
		body.Items = append(body.Items, preferenceItem{
			Title:       title,
			Description: description,
			Quantity:    item.Quantity,
			CurrencyID:  currency,
			UnitPrice:   item.UnitPrice,
		})
	}

	var resp preferenceResponse
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, &resp, "create session"); err != nil {
		return Session{}, err
	}
	return Session{ID: resp.ID, PayURL: resp.InitPoint, SandboxPayURL: resp.SandboxInitPoint}, nil
}

type paymentResponse struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	ExternalReference string          `json:"external_reference"`
	PreferenceID      string          `json:"preference_id"`
	Metadata          PaymentMetadata `json:"metadata"`
	AdditionalInfo    struct {
		Items []PaymentItem `json:"items"`
	} `json:"additional_info"`
}

// GetPayment fetches authoritative payment facts by gateway payment id.
func (c *HTTPClient) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	var resp paymentResponse
	path := "/v1/payments/" + paymentID
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, "get payment"); err != nil {
		return Payment{}, err
	}
	return Payment{
		ID:                resp.ID.String(),
		Status:            resp.Status,
		StatusDetail:      resp.StatusDetail,
		ExternalReference: resp.ExternalReference,
		SessionID:         resp.PreferenceID,
		Metadata:          resp.Metadata,
		Items:             resp.AdditionalInfo.Items,
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any, op string) error {
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Op: op, HTTPStatus: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := &Error{
			Op:         op,
			HTTPStatus: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
		if json.Valid(payload) {
			gwErr.Cause = append(json.RawMessage(nil), payload...)
			var envelope struct {
				Message string          `json:"message"`
				Cause   json.RawMessage `json:"cause"`
			}
			if err := json.Unmarshal(payload, &envelope); err == nil {
				gwErr.Message = envelope.Message
				if len(envelope.Cause) > 0 {
					gwErr.Cause = envelope.Cause
				}
			}
		}
		return gwErr
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return &Error{Op: op, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

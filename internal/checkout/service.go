package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/vending-relay/internal/common"
	"github.com/noah-isme/vending-relay/internal/gateway"
	"github.com/noah-isme/vending-relay/internal/lock"
	"github.com/noah-isme/vending-relay/internal/obs"
	"github.com/noah-isme/vending-relay/internal/txn"
)

// CreateRequest is the payload a vending machine sends to open a checkout
// session. The transaction id is caller-chosen and becomes the correlation
// key for everything that follows.
type CreateRequest struct {
	MachineID     string        `json:"machine_id" validate:"required"`
	TransactionID string        `json:"vending_transaction_id" validate:"required"`
	Items         []RequestItem `json:"items" validate:"required,min=1,dive"`
}

// RequestItem is one purchase line in a creation request.
type RequestItem struct {
	Name      string  `json:"name" validate:"required"`
	Quantity  int     `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

// CreateResponse hands the machine the gateway session and the URL the buyer
// must be sent to.
type CreateResponse struct {
	TransactionID string `json:"vending_transaction_id"`
	SessionID     string `json:"session_id"`
	PayURL        string `json:"pay_url"`
	SandboxPayURL string `json:"sandbox_pay_url,omitempty"`
}

// StatusResponse is the polling view of a transaction.
type StatusResponse struct {
	TransactionID string     `json:"vending_transaction_id"`
	Status        txn.Status `json:"status"`
	MachineID     string     `json:"machine_id,omitempty"`
	StatusDetail  string     `json:"status_detail,omitempty"`
}

// Service creates checkout sessions and answers status polls.
type Service struct {
	Store           txn.Store
	Gateway         gateway.Client
	Locker          lock.Locker
	LockTTL         time.Duration
	PublicBaseURL   string
	FrontendBaseURL string
	Validate        *validator.Validate
	Logger          zerolog.Logger
}

// NewService wires a checkout service with a fresh validator.
func NewService(store txn.Store, gw gateway.Client, locker lock.Locker, lockTTL time.Duration, publicBaseURL, frontendBaseURL string, logger zerolog.Logger) *Service {
	if frontendBaseURL == "" {
		frontendBaseURL = publicBaseURL
	}
	return &Service{
		Store:           store,
		Gateway:         gw,
		Locker:          locker,
		LockTTL:         lockTTL,
		PublicBaseURL:   publicBaseURL,
		FrontendBaseURL: frontendBaseURL,
		Validate:        validator.New(),
		Logger:          logger,
	}
}

// Create validates the request, opens a gateway session carrying the
// transaction id as external reference, and persists the pending record.
// The check-then-create sequence runs under a per-transaction lock so two
// concurrent calls for the same id cannot both open gateway sessions.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	if err := s.Validate.Struct(req); err != nil {
		countCheckout("invalid")
		return CreateResponse{}, &common.AppError{
			Code:       "VALIDATION",
			Message:    "invalid create-payment request",
			HTTPStatus: http.StatusBadRequest,
			Err:        err,
			Details:    validationDetails(err),
		}
	}

	// Same lock key as the reconciler: a webhook for this transaction id
	// queues behind the create instead of interleaving with it.
	var resp CreateResponse
	err := s.Locker.WithLock(ctx, "txn:"+req.TransactionID, s.LockTTL, func(ctx context.Context) error {
		var err error
		resp, err = s.createLocked(ctx, req)
		return err
	})
	return resp, err
}

func (s *Service) createLocked(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	_, exists, err := s.Store.Get(ctx, req.TransactionID)
	if err != nil {
		countCheckout("store_error")
		return CreateResponse{}, common.NewAppError("STORE_UNAVAILABLE", "transaction store unavailable", http.StatusServiceUnavailable, err)
	}
	if exists {
		countCheckout("conflict")
		return CreateResponse{}, common.NewAppError("TXN_CONFLICT",
			fmt.Sprintf("transaction %s already has a live checkout session", req.TransactionID),
			http.StatusConflict, nil)
	}

	session, err := s.Gateway.CreateSession(ctx, gateway.SessionRequest{
		Items:             sessionItems(req.Items),
		ExternalReference: req.TransactionID,
		MachineID:         req.MachineID,
		NotificationURL:   s.PublicBaseURL + "/payment-webhook",
		BackURLs: gateway.BackURLs{
			Success: s.feedbackURL("success", req.TransactionID),
			Failure: s.feedbackURL("failure", req.TransactionID),
			Pending: s.feedbackURL("pending", req.TransactionID),
		},
	})
	if err != nil {
		countCheckout("gateway_error")
		s.Logger.Error().Err(err).
			Str("transaction_id", req.TransactionID).
			Str("machine_id", req.MachineID).
			Msg("gateway session creation failed")
		return CreateResponse{}, gatewayAppError(err)
	}

	now := time.Now().UTC()
	record := txn.Record{
		TransactionID: req.TransactionID,
		MachineID:     req.MachineID,
		Status:        txn.StatusPending,
		Items:         recordItems(req.Items),
		SessionID:     session.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// A record can appear between the gateway call and this write when the
	// webhook wins a lock handoff (an expired distributed lock, say). Keep
	// its reconciled status and payment facts; only attach the session.
	if existing, found, err := s.Store.Get(ctx, req.TransactionID); err == nil && found {
		record.Status = existing.Status
		record.PaymentID = existing.PaymentID
		record.StatusDetail = existing.StatusDetail
		record.CreatedAt = existing.CreatedAt
		s.Logger.Warn().
			Str("transaction_id", req.TransactionID).
			Str("status", string(existing.Status)).
			Msg("record appeared during session creation, preserving reconciled status")
	}
	if err := s.Store.Put(ctx, record); err != nil {
		// The remote session exists but we have no record of it. The
		// webhook path synthesizes the record when the gateway calls
		// back, so log the inconsistency and fail the request.
		countCheckout("store_error")
		s.Logger.Error().Err(err).
			Str("transaction_id", req.TransactionID).
			Str("session_id", session.ID).
			Msg("pending record write failed after gateway session was created")
		return CreateResponse{}, common.NewAppError("STORE_UNAVAILABLE",
			"checkout session created but could not be recorded", http.StatusServiceUnavailable, err)
	}

	countCheckout("created")
	s.Logger.Info().
		Str("transaction_id", req.TransactionID).
		Str("machine_id", req.MachineID).
		Str("session_id", session.ID).
		Msg("checkout session created")

	return CreateResponse{
		TransactionID: req.TransactionID,
		SessionID:     session.ID,
		PayURL:        session.PayURL,
		SandboxPayURL: session.SandboxPayURL,
	}, nil
}

// Status reports the current state of a transaction. A missing or expired
// record is a normal answer, not an error.
func (s *Service) Status(ctx context.Context, transactionID string) (StatusResponse, error) {
	record, found, err := s.Store.Get(ctx, transactionID)
	if err != nil {
		return StatusResponse{}, common.NewAppError("STORE_UNAVAILABLE", "transaction store unavailable", http.StatusServiceUnavailable, err)
	}
	if !found {
		countStatus(txn.StatusNotFound)
		return StatusResponse{TransactionID: transactionID, Status: txn.StatusNotFound}, nil
	}
	countStatus(record.Status)
	return StatusResponse{
		TransactionID: record.TransactionID,
		Status:        record.Status,
		MachineID:     record.MachineID,
		StatusDetail:  record.StatusDetail,
	}, nil
}

func (s *Service) feedbackURL(status, transactionID string) string {
	return fmt.Sprintf("%s/payment-feedback?status=%s&vending_txn_id=%s",
		s.FrontendBaseURL, status, url.QueryEscape(transactionID))
}

func sessionItems(items []RequestItem) []gateway.SessionItem {
	out := make([]gateway.SessionItem, len(items))
	for i, it := range items {
		out[i] = gateway.SessionItem{Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	return out
}

func recordItems(items []RequestItem) []txn.Item {
	out := make([]txn.Item, len(items))
	for i, it := range items {
		out[i] = txn.Item{Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	return out
}

func gatewayAppError(err error) *common.AppError {
	appErr := common.NewAppError("GATEWAY_ERROR", "payment gateway rejected the checkout session", http.StatusBadGateway, err)
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		if detail := gwErr.Detail(); detail != "" {
			appErr.Details = detail
		}
		if gwErr.HTTPStatus == http.StatusUnauthorized || gwErr.HTTPStatus == http.StatusForbidden {
			appErr.Message = "payment gateway rejected our credentials"
		}
	}
	return appErr
}

func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}

func countCheckout(result string) {
	if obs.CheckoutTotal != nil {
		obs.CheckoutTotal.WithLabelValues(result).Inc()
	}
}

func countStatus(status txn.Status) {
	if obs.StatusQueryTotal != nil {
		obs.StatusQueryTotal.WithLabelValues(string(status)).Inc()
	}
}

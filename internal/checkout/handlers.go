package checkout

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/noah-isme/vending-relay/internal/common"
)

// Handler exposes the checkout service over HTTP.
type Handler struct {
	Service *Service
}

// Create handles POST /create-payment.
func (h Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON", nil)
		return
	}
	resp, err := h.Service.Create(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, resp)
}

// Status handles GET /payment-status?vending_transaction_id=...
func (h Handler) Status(w http.ResponseWriter, r *http.Request) {
	transactionID := strings.TrimSpace(r.URL.Query().Get("vending_transaction_id"))
	if transactionID == "" {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "vending_transaction_id query parameter is required", nil)
		return
	}
	resp, err := h.Service.Status(r.Context(), transactionID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, resp)
}

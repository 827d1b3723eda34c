package feedback_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/vending-relay/internal/feedback"
)

func TestFeedbackPageRendersStatus(t *testing.T) {
	t.Parallel()

	page := feedback.NewPage()
	rr := httptest.NewRecorder()
	page.Handle(rr, httptest.NewRequest(http.MethodGet, "/payment-feedback?status=success&vending_txn_id=txn-001", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	body := rr.Body.String()
	require.Contains(t, body, "Payment approved")
	require.Contains(t, body, "txn-001")
}

func TestFeedbackPageUnknownStatusFallsBackToPending(t *testing.T) {
	t.Parallel()

	page := feedback.NewPage()
	rr := httptest.NewRecorder()
	page.Handle(rr, httptest.NewRequest(http.MethodGet, "/payment-feedback?status=whatever", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "Payment pending")
}

func TestFeedbackPageEscapesTransactionID(t *testing.T) {
	t.Parallel()

	page := feedback.NewPage()
	rr := httptest.NewRecorder()
	page.Handle(rr, httptest.NewRequest(http.MethodGet, "/payment-feedback?status=failure&vending_txn_id=%3Cscript%3E", nil))

	body := rr.Body.String()
	require.False(t, strings.Contains(body, "<script>"))
	require.Contains(t, body, "&lt;script&gt;")
}

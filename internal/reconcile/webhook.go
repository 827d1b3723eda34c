package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/vending-relay/internal/common"
)

// Webhook receives gateway callbacks. Identifiers arrive either as query
// parameters (type + data.id or id) or in the JSON body, depending on how the
// gateway was configured; both forms are accepted. Past parsing, the handler
// always acks 200 so the gateway stops retrying — failures are logged and the
// next retry or a status poll picks up the slack.
type Webhook struct {
	Reconciler *Reconciler
	Replay     *redis.Client
	ReplayTTL  time.Duration
	Logger     zerolog.Logger
}

type webhookBody struct {
	Type   string      `json:"type"`
	Topic  string      `json:"topic"`
	Action string      `json:"action"`
	ID     json.Number `json:"id"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// Handle processes POST and query-style GET notifications.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	notification, ok := h.parse(w, r)
	if !ok {
		return
	}

	replayKey, duplicate := h.claimReplay(r, notification)
	if duplicate {
		common.JSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	outcome := h.Reconciler.Handle(r.Context(), notification)
	if outcome == OutcomeUnresolved && replayKey != "" {
		// Nothing was reconciled, so the gateway's retry must not be
		// treated as a duplicate.
		h.releaseReplay(r.Context(), replayKey)
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

// parse extracts the notification from query parameters and body. It returns
// ok=false only when a non-empty body is not valid JSON, which is the one
// case answered with a 400.
func (h Webhook) parse(w http.ResponseWriter, r *http.Request) (Notification, bool) {
	q := r.URL.Query()
	n := Notification{
		Kind:      firstNonEmpty(q.Get("type"), q.Get("topic")),
		PaymentID: firstNonEmpty(q.Get("data.id"), q.Get("id")),
	}

	if r.Body != nil {
		raw, err := io.ReadAll(r.Body)
		if err == nil && len(strings.TrimSpace(string(raw))) > 0 {
			var body webhookBody
			if err := json.Unmarshal(raw, &body); err != nil {
				h.Logger.Warn().Err(err).Msg("webhook body is not valid JSON")
				common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "notification body must be JSON", nil)
				return Notification{}, false
			}
			if n.Kind == "" {
				n.Kind = firstNonEmpty(body.Type, body.Topic, kindFromAction(body.Action))
			}
			if n.PaymentID == "" {
				n.PaymentID = firstNonEmpty(body.Data.ID.String(), body.ID.String())
			}
		}
	}
	return n, true
}

// claimReplay marks a notification as seen within the replay window and
// reports whether it already was. Guard failures never block the
// notification: processing is idempotent, the guard only trims redundant
// gateway fetches.
func (h Webhook) claimReplay(r *http.Request, n Notification) (string, bool) {
	if h.Replay == nil || h.ReplayTTL <= 0 || n.PaymentID == "" {
		return "", false
	}
	key := "wh:" + common.Sha256Hex(fmt.Sprintf("%s:%s", n.Kind, n.PaymentID))
	fresh, err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
	if err != nil {
		h.Logger.Warn().Err(err).Msg("webhook replay guard unavailable")
		return "", false
	}
	if !fresh {
		h.Logger.Info().Str("payment_id", n.PaymentID).Msg("duplicate notification suppressed")
	}
	return key, !fresh
}

func (h Webhook) releaseReplay(ctx context.Context, key string) {
	if err := h.Replay.Del(ctx, key).Err(); err != nil {
		h.Logger.Warn().Err(err).Msg("release webhook replay claim")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// kindFromAction maps gateway action strings like "payment.updated" to their
// notification kind.
func kindFromAction(action string) string {
	if idx := strings.IndexByte(action, '.'); idx > 0 {
		return action[:idx]
	}
	return ""
}

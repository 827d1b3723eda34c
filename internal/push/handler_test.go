package push_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/vending-relay/internal/push"
)

func newPushServer(t *testing.T) (*push.Registry, *httptest.Server) {
	t.Helper()
	registry := push.NewRegistry(zerolog.Nop())
	handler := push.NewHandler(registry, time.Second, 2*time.Second, time.Second, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(handler.Serve))
	t.Cleanup(srv.Close)
	return registry, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func TestIdentifyByQueryParameter(t *testing.T) {
	t.Parallel()

	registry, srv := newPushServer(t)
	ws := dial(t, srv, "?machine_id=vm-9")

	ack := readMessage(t, ws)
	require.Equal(t, "connection_ack", ack["type"])
	require.Equal(t, "success", ack["status"])
	require.Equal(t, "vm-9", ack["machine_id"])

	require.Eventually(t, func() bool {
		return registry.Push("vm-9", push.NewApprovedEvent("txn-77"))
	}, 2*time.Second, 10*time.Millisecond)

	event := readMessage(t, ws)
	require.Equal(t, "payment_approved", event["type"])
	require.Equal(t, "txn-77", event["vending_transaction_id"])
	require.Equal(t, "approved", event["status"])
}

func TestIdentifyByFirstMessage(t *testing.T) {
	t.Parallel()

	registry, srv := newPushServer(t)
	ws := dial(t, srv, "")

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "identify", "machine_id": "vm-3"}))

	ack := readMessage(t, ws)
	require.Equal(t, "identification_ack", ack["type"])
	require.Equal(t, "vm-3", ack["machine_id"])
	require.Equal(t, 1, registry.Active())
}

func TestClientPingGetsPong(t *testing.T) {
	t.Parallel()

	_, srv := newPushServer(t)
	ws := dial(t, srv, "?machine_id=vm-1")
	readMessage(t, ws) // connection_ack

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping_from_client"}))

	pong := readMessage(t, ws)
	require.Equal(t, "pong_to_client", pong["type"])
	require.NotZero(t, pong["timestamp"])
}

func TestDisconnectRemovesMachine(t *testing.T) {
	t.Parallel()

	registry, srv := newPushServer(t)
	ws := dial(t, srv, "?machine_id=vm-5")
	readMessage(t, ws) // connection_ack
	require.Equal(t, 1, registry.Active())

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		return registry.Active() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

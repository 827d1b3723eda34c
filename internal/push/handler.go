package push

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler upgrades machine connections to WebSocket and feeds the registry.
// Machines identify either through the machine_id query parameter on the
// upgrade request or through a first in-band identify message; both paths
// converge on Registry.Identify.
type Handler struct {
	Registry     *Registry
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	Logger       zerolog.Logger

	upgrader websocket.Upgrader
}

// NewHandler constructs a push handler. Machines are not browsers, so origin
// checks are disabled.
func NewHandler(registry *Registry, pingInterval, pongWait, writeTimeout time.Duration, logger zerolog.Logger) *Handler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if pongWait <= pingInterval {
		pongWait = 2 * pingInterval
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Handler{
		Registry:     registry,
		PingInterval: pingInterval,
		PongWait:     pongWait,
		WriteTimeout: writeTimeout,
		Logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Serve handles the websocket endpoint.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := NewConnection(ws)
	machineID := strings.TrimSpace(r.URL.Query().Get("machine_id"))
	if machineID != "" {
		h.Registry.Identify(machineID, conn)
		_ = conn.Send(AckMessage{
			Type:      msgConnectionAck,
			Status:    "success",
			MachineID: machineID,
			Message:   fmt.Sprintf("connected as %s", machineID),
		})
	} else {
		h.Logger.Info().Str("remote_addr", r.RemoteAddr).Msg("push connection awaiting identification")
	}

	_ = ws.SetReadDeadline(time.Now().Add(h.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.PongWait))
	})

	done := make(chan struct{})
	go h.pingLoop(ws, machineID, done)

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			break
		}
		machineID = h.handleMessage(conn, machineID, payload)
	}

	close(done)
	if machineID != "" {
		h.Registry.Remove(machineID, conn)
	}
	_ = ws.Close()
}

// handleMessage processes one in-band message and returns the (possibly newly
// established) machine id for this connection.
func (h *Handler) handleMessage(conn *Connection, machineID string, payload []byte) string {
	var msg InboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.Logger.Warn().Str("machine_id", machineID).Msg("discarding non-JSON push message")
		return machineID
	}
	switch msg.Type {
	case msgIdentify:
		if machineID != "" || strings.TrimSpace(msg.MachineID) == "" {
			return machineID
		}
		machineID = strings.TrimSpace(msg.MachineID)
		h.Registry.Identify(machineID, conn)
		_ = conn.Send(AckMessage{
			Type:      msgIdentificationAck,
			Status:    "success",
			MachineID: machineID,
			Message:   fmt.Sprintf("identified as %s", machineID),
		})
	case msgClientPing:
		_ = conn.Send(PongMessage{Type: msgClientPong, Timestamp: time.Now().UnixMilli()})
	default:
		h.Logger.Debug().Str("machine_id", machineID).Str("type", msg.Type).Msg("ignoring push message")
	}
	return machineID
}

// pingLoop probes the connection until it closes. A machine that stops
// answering pings misses its read deadline and the read loop tears the
// connection down.
func (h *Handler) pingLoop(ws *websocket.Conn, machineID string, done <-chan struct{}) {
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.WriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				h.Logger.Debug().Err(err).Str("machine_id", machineID).Msg("ping failed")
				return
			}
		}
	}
}

package push

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/vending-relay/internal/obs"
)

// Conn is the minimal write surface the registry needs from a live push
// connection.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Connection wraps a live channel with a write lock so pushes, acks and
// keepalive replies from independent goroutines never interleave a frame.
type Connection struct {
	mu   sync.Mutex
	conn Conn
}

// NewConnection wraps a raw connection.
func NewConnection(conn Conn) *Connection {
	return &Connection{conn: conn}
}

// Send serializes v onto the channel.
func (c *Connection) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Close closes the underlying channel.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// Registry tracks the live push connection per machine id. At most one
// connection is active per machine; a new identification supersedes and
// closes the previous one.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]*Connection
	Logger   zerolog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{machines: make(map[string]*Connection), Logger: logger}
}

// Identify registers conn as the live channel for machineID. A previously
// registered connection for the same machine is closed; its late disconnect
// callback will be ignored by Remove.
func (r *Registry) Identify(machineID string, conn *Connection) {
	r.mu.Lock()
	prev := r.machines[machineID]
	r.machines[machineID] = conn
	count := len(r.machines)
	r.mu.Unlock()

	if prev != nil && prev != conn {
		_ = prev.Close()
		r.Logger.Info().Str("machine_id", machineID).Msg("superseded previous push connection")
	}
	r.Logger.Info().Str("machine_id", machineID).Int("active", count).Msg("machine identified")
	updateConnectionGauge(count)
}

// Remove deregisters the connection for machineID, but only when the
// registered channel is still the one being removed. This keeps a stale
// disconnect callback from evicting a newer registration.
func (r *Registry) Remove(machineID string, conn *Connection) {
	r.mu.Lock()
	current, ok := r.machines[machineID]
	if ok && current == conn {
		delete(r.machines, machineID)
	} else {
		ok = false
	}
	count := len(r.machines)
	r.mu.Unlock()

	if ok {
		r.Logger.Info().Str("machine_id", machineID).Int("active", count).Msg("machine disconnected")
		updateConnectionGauge(count)
	}
}

// Push delivers event to the machine's live channel if one exists. Returns
// whether delivery was attempted successfully. Best effort only; the polling
// path is the guaranteed fallback.
func (r *Registry) Push(machineID string, event any) bool {
	r.mu.RLock()
	conn, ok := r.machines[machineID]
	r.mu.RUnlock()
	if !ok {
		r.Logger.Warn().Str("machine_id", machineID).Msg("no live push connection, machine will poll")
		return false
	}
	if err := conn.Send(event); err != nil {
		r.Logger.Warn().Err(err).Str("machine_id", machineID).Msg("push delivery failed")
		return false
	}
	return true
}

// Active reports the number of identified connections.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.machines)
}

func updateConnectionGauge(count int) {
	if obs.MachineConnections != nil {
		obs.MachineConnections.Set(float64(count))
	}
}

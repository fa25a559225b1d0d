package signal

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/rs/zerolog/log"
)

type hubEntry struct {
	conn    core.SignalConnection
	dropped int
}

// Hub is the table of live connections. It delivers coordinator output
// without blocking: a full send buffer is handled by the slow consumer policy.
type Hub struct {
	mu     sync.RWMutex
	conns  map[core.ConnID]*hubEntry
	policy app.SlowConsumerPolicy
}

func NewHub(policy app.SlowConsumerPolicy) *Hub {
	if policy == nil {
		policy = app.DropThenKick{}
	}
	return &Hub{conns: make(map[core.ConnID]*hubEntry), policy: policy}
}

func (h *Hub) Add(id core.ConnID, conn core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = &hubEntry{conn: conn}
}

func (h *Hub) Remove(id core.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Dispatch implements core.Dispatcher.
func (h *Hub) Dispatch(out []core.Outbound) {
	for _, o := range out {
		data, err := json.Marshal(o.Message)
		if err != nil {
			log.Error().Err(err).Str(logging.FieldModule, "signal.hub").Str(logging.FieldConnID, string(o.To)).Msg("marshal outbound")
			continue
		}
		h.send(o.To, data)
	}
}

func (h *Hub) send(id core.ConnID, data core.Frame) {
	h.mu.Lock()
	e, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		log.Debug().Str(logging.FieldModule, "signal.hub").Str(logging.FieldConnID, string(id)).Msg("recipient gone, frame dropped")
		return
	}
	err := e.conn.TrySend(data)
	if err == nil {
		e.dropped = 0
		h.mu.Unlock()
		return
	}
	var action app.BackpressureAction
	if errors.Is(err, ErrBackpressure) {
		e.dropped++
		action = h.policy.OnBackPressure(id, e.dropped)
	}
	conn := e.conn
	h.mu.Unlock()

	log.Warn().Err(err).Str(logging.FieldModule, "signal.hub").Str(logging.FieldConnID, string(id)).Str("action", action.String()).Msg("frame dropped")
	if action == app.KickMember {
		conn.Close()
	}
}

// CloseAll closes every connection; their read pumps then reconcile.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]core.SignalConnection, 0, len(h.conns))
	for _, e := range h.conns {
		conns = append(conns, e.conn)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}

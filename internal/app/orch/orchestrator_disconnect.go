package orch

import (
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/events"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Disconnect releases everything held by a closed connection: its group call,
// its registration, its room membership and its calls. Each step runs whether
// or not the previous one found anything, and a repeated call is a no-op.
func (c *Coordinator) Disconnect(id core.ConnID) []core.Outbound {
	fx := &effects{}
	c.mu.Lock()
	c.groups.Cancel(id)

	identity, regErr := c.registry.Unregister(id)

	room, roomErr := c.rooms.Leave(id)
	if roomErr == nil {
		for _, m := range c.rooms.MembersOf(room) {
			fx.send(m, protocol.NewUserLeft(identity, id))
		}
		e := c.event(events.RoomLeft, room, id)
		e.Identity = identity
		e.Reason = domain.EndReasonDisconnect
		fx.emit(e)
	}

	for _, edge := range c.calls.EdgesOf(id) {
		peer := edge.Peer(id)
		if _, ok := c.calls.Close(id, peer); !ok {
			continue
		}
		c.stopTimerLocked(edge.ID)
		fx.send(peer, protocol.NewCallEnded(id, domain.EndReasonDisconnect))
		c.emitEnded(fx, room, id, peer, domain.EndReasonDisconnect)
	}
	c.mu.Unlock()

	if regErr == nil || roomErr == nil || len(fx.out) > 0 {
		log.Info().Str(logging.FieldModule, "orch").Str(logging.FieldConnID, string(id)).Str(logging.FieldIdentity, string(identity)).
			Str(logging.FieldRoom, string(room)).Int("notices", len(fx.out)).Msg("disconnect reconciled")
	}
	return c.flush(fx)
}

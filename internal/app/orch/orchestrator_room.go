package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/events"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Join registers id under identity on first use and moves it into room. The
// sender gets the members already present; each of them gets user:joined.
// Joining the current room again only repeats the acknowledgement.
func (c *Coordinator) Join(id core.ConnID, identity domain.Identity, room domain.RoomID) ([]core.Outbound, error) {
	fx := &effects{}
	c.mu.Lock()
	err := c.joinLocked(fx, id, identity, room)
	c.mu.Unlock()
	return c.flush(fx), err
}

func (c *Coordinator) joinLocked(fx *effects, id core.ConnID, identity domain.Identity, room domain.RoomID) error {
	current, err := c.registry.IdentityOf(id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if err := c.registry.Register(id, identity); err != nil {
			return err
		}
	case current != identity:
		return fmt.Errorf("connection is already joined as %s: %w", current, domain.ErrValidation)
	}

	if cur, ok := c.rooms.RoomOf(id); ok {
		if cur == room {
			existing, _, _ := c.rooms.Join(room, id)
			fx.send(id, protocol.NewRoomJoined(room, id, c.membersLocked(existing)))
			return nil
		}
		c.leaveLocked(fx, id, domain.EndReasonLeft)
	}

	existing, _, _ := c.rooms.Join(room, id)
	fx.send(id, protocol.NewRoomJoined(room, id, c.membersLocked(existing)))
	for _, m := range existing {
		fx.send(m, protocol.NewUserJoined(identity, id))
	}
	e := c.event(events.RoomJoined, room, id)
	e.Identity = identity
	fx.emit(e)
	log.Info().Str(logging.FieldModule, "orch").Str(logging.FieldConnID, string(id)).Str(logging.FieldIdentity, string(identity)).
		Str(logging.FieldRoom, string(room)).Int("existing", len(existing)).Msg("joined room")
	return nil
}

// Leave takes id out of its room. ErrNotInRoom means there was nothing to do.
func (c *Coordinator) Leave(id core.ConnID) ([]core.Outbound, error) {
	fx := &effects{}
	c.mu.Lock()
	_, inRoom := c.rooms.RoomOf(id)
	if inRoom {
		c.leaveLocked(fx, id, domain.EndReasonLeft)
	}
	c.mu.Unlock()
	if !inRoom {
		return nil, domain.ErrNotInRoom
	}
	return c.flush(fx), nil
}

// leaveLocked ends everything id was doing in its room: its group call, its
// call edges and its membership.
func (c *Coordinator) leaveLocked(fx *effects, id core.ConnID, reason string) {
	c.groups.Cancel(id)
	c.closeEdgesLocked(fx, id, reason)

	room, err := c.rooms.Leave(id)
	if err != nil {
		return
	}
	identity, _ := c.registry.IdentityOf(id)
	for _, m := range c.rooms.MembersOf(room) {
		fx.send(m, protocol.NewUserLeft(identity, id))
	}
	e := c.event(events.RoomLeft, room, id)
	e.Identity = identity
	e.Reason = reason
	fx.emit(e)
	log.Info().Str(logging.FieldModule, "orch").Str(logging.FieldConnID, string(id)).Str(logging.FieldRoom, string(room)).Str("reason", reason).Msg("left room")
}

package orch

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/events"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Call relays offer from one member to another and records the pending call.
// When the peer is already calling the sender and wins the tie-break, the
// sender gets call:glare and ErrCallGlare is returned.
func (c *Coordinator) Call(from, to core.ConnID, offer json.RawMessage) ([]core.Outbound, error) {
	fx := &effects{}
	c.mu.Lock()
	err := c.callLocked(fx, from, to, offer)
	c.mu.Unlock()
	return c.flush(fx), err
}

func (c *Coordinator) callLocked(fx *effects, from, to core.ConnID, offer json.RawMessage) error {
	room, err := c.peerLocked(from, to)
	if err != nil {
		return err
	}
	ini, err := c.calls.Initiate(from, to, c.now())
	if errors.Is(err, domain.ErrCallGlare) {
		fx.send(from, protocol.NewCallGlare(to))
		return err
	}
	if err != nil {
		return err
	}

	switch {
	case ini.Revoked != nil:
		c.stopTimerLocked(ini.Revoked.ID)
		fx.send(from, protocol.NewCallEnded(to, domain.EndReasonGlare))
		fx.send(to, protocol.NewCallGlare(from))
		c.emitEnded(fx, room, to, from, domain.EndReasonGlare)
		log.Debug().Str(logging.FieldModule, "orch").Str(logging.FieldConnID, string(from)).Str(logging.FieldPeer, string(to)).Msg("glare resolved, pending offer revoked")
	case ini.Replaced != nil:
		c.stopTimerLocked(ini.Replaced.ID)
		fx.send(to, protocol.NewCallEnded(from, domain.EndReasonReplaced))
		c.emitEnded(fx, room, from, to, domain.EndReasonReplaced)
	}

	fx.send(to, protocol.NewIncomingCall(from, ini.Edge.ID, offer))
	e := c.event(events.CallOffered, room, from)
	e.Peer = to
	fx.emit(e)
	c.armTimerLocked(ini.Edge)
	return nil
}

// Accept relays the answer of answerer to the member whose offer it answers.
// An answer without a matching pending offer, or one naming a superseded
// callID, is ErrStaleAnswer.
func (c *Coordinator) Accept(answerer, initiator core.ConnID, callID string, answer json.RawMessage) ([]core.Outbound, error) {
	fx := &effects{}
	c.mu.Lock()
	err := c.acceptLocked(fx, answerer, initiator, callID, answer)
	c.mu.Unlock()
	return c.flush(fx), err
}

func (c *Coordinator) acceptLocked(fx *effects, answerer, initiator core.ConnID, callID string, answer json.RawMessage) error {
	room, err := c.peerLocked(answerer, initiator)
	if err != nil {
		return err
	}
	edge, err := c.calls.Accept(answerer, initiator, callID, c.now())
	if err != nil {
		log.Debug().Str(logging.FieldModule, "orch").Str(logging.FieldConnID, string(answerer)).Str(logging.FieldPeer, string(initiator)).Msg("stale answer dropped")
		return err
	}
	c.stopTimerLocked(edge.ID)
	fx.send(initiator, protocol.NewCallAccepted(answerer, answer))
	e := c.event(events.CallConnected, room, answerer)
	e.Peer = initiator
	fx.emit(e)
	return nil
}

// RelayCandidate forwards an ICE candidate over a pending or connected call.
func (c *Coordinator) RelayCandidate(from, to core.ConnID, candidate json.RawMessage) ([]core.Outbound, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.peerLocked(from, to); err != nil {
		return nil, err
	}
	if !c.calls.CanRelay(from, to) {
		return nil, fmt.Errorf("no call between %s and %s: %w", from, to, domain.ErrNotFound)
	}
	return []core.Outbound{{To: to, Message: protocol.NewPeerCandidate(from, candidate)}}, nil
}

// EndCall hangs up the call between from and to.
func (c *Coordinator) EndCall(from, to core.ConnID) ([]core.Outbound, error) {
	fx := &effects{}
	c.mu.Lock()
	edge, ok := c.calls.Close(from, to)
	if ok {
		c.stopTimerLocked(edge.ID)
		fx.send(to, protocol.NewCallEnded(from, domain.EndReasonHangup))
		room, _ := c.rooms.RoomOf(from)
		c.emitEnded(fx, room, from, to, domain.EndReasonHangup)
	}
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no call between %s and %s: %w", from, to, domain.ErrNotFound)
	}
	return c.flush(fx), nil
}

// closeEdgesLocked closes every edge of id and tells each peer why.
func (c *Coordinator) closeEdgesLocked(fx *effects, id core.ConnID, reason string) {
	room, _ := c.rooms.RoomOf(id)
	for _, edge := range c.calls.EdgesOf(id) {
		peer := edge.Peer(id)
		if _, ok := c.calls.Close(id, peer); !ok {
			continue
		}
		c.stopTimerLocked(edge.ID)
		fx.send(peer, protocol.NewCallEnded(id, reason))
		c.emitEnded(fx, room, id, peer, reason)
	}
}

func (c *Coordinator) emitEnded(fx *effects, room domain.RoomID, id, peer core.ConnID, reason string) {
	e := c.event(events.CallEnded, room, id)
	e.Peer = peer
	e.Reason = reason
	fx.emit(e)
}

func (c *Coordinator) armTimerLocked(edge app.CallEdge) {
	if c.offerTimeout <= 0 {
		return
	}
	c.timers[edge.ID] = time.AfterFunc(c.offerTimeout, func() { c.expire(edge) })
}

func (c *Coordinator) stopTimerLocked(edgeID string) {
	if t, ok := c.timers[edgeID]; ok {
		t.Stop()
		delete(c.timers, edgeID)
	}
}

// expire closes edge if it is still the same unanswered offer.
func (c *Coordinator) expire(edge app.CallEdge) {
	fx := &effects{}
	c.mu.Lock()
	delete(c.timers, edge.ID)
	_, ok := c.calls.Expire(edge.A, edge.B, edge.ID)
	if ok {
		fx.send(edge.A, protocol.NewCallEnded(edge.B, domain.EndReasonTimeout))
		fx.send(edge.B, protocol.NewCallEnded(edge.A, domain.EndReasonTimeout))
		room, _ := c.rooms.RoomOf(edge.Initiator)
		c.emitEnded(fx, room, edge.Initiator, edge.Peer(edge.Initiator), domain.EndReasonTimeout)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	log.Info().Str(logging.FieldModule, "orch").Str(logging.FieldConnID, string(edge.Initiator)).Str(logging.FieldPeer, string(edge.Peer(edge.Initiator))).Msg("offer timed out")
	c.dispatch(c.flush(fx))
}

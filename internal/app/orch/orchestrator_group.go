package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// GroupCall calls every other member of the initiator's room, one at a time
// in join order, using the offers the initiator prepared. Members already
// connected to the initiator are skipped. A running group call of the same
// initiator is replaced.
func (c *Coordinator) GroupCall(initiator core.ConnID, offers map[core.ConnID]json.RawMessage) (*app.GroupJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms.RoomOf(initiator)
	if !ok {
		return nil, domain.ErrNotInRoom
	}
	targets := make([]core.ConnID, 0)
	for _, m := range c.rooms.MembersOf(room) {
		if m != initiator {
			targets = append(targets, m)
		}
	}
	log.Info().Str(logging.FieldModule, "orch").Str(logging.FieldConnID, string(initiator)).Str(logging.FieldRoom, string(room)).Int("targets", len(targets)).Msg("group call")
	return c.groups.Start(initiator, targets, c.groupStep(initiator, offers)), nil
}

func (c *Coordinator) groupStep(initiator core.ConnID, offers map[core.ConnID]json.RawMessage) app.StepFunc {
	return func(ctx context.Context, target core.ConnID) (app.StepResult, error) {
		fx := &effects{}
		c.mu.Lock()
		res, err := c.groupStepLocked(ctx, fx, initiator, target, offers)
		c.mu.Unlock()
		c.dispatch(c.flush(fx))
		return res, err
	}
}

func (c *Coordinator) groupStepLocked(ctx context.Context, fx *effects, initiator, target core.ConnID, offers map[core.ConnID]json.RawMessage) (app.StepResult, error) {
	// Checked under the lock so a cancel issued by leave or disconnect is
	// never followed by another call.
	if err := ctx.Err(); err != nil {
		return app.StepSkipped, err
	}
	if _, err := c.peerLocked(initiator, target); err != nil {
		return app.StepSkipped, err
	}
	if c.calls.State(initiator, target) == domain.CallConnected {
		return app.StepSkipped, nil
	}
	offer, ok := offers[target]
	if !ok {
		return app.StepSkipped, fmt.Errorf("no offer prepared for %s: %w", target, domain.ErrNotFound)
	}
	err := c.callLocked(fx, initiator, target, offer)
	if errors.Is(err, domain.ErrCallGlare) {
		return app.StepSkipped, nil
	}
	if err != nil {
		return app.StepSkipped, err
	}
	return app.StepCalled, nil
}

func (c *Coordinator) groupDone(initiator core.ConnID, rep app.GroupReport) {
	c.mu.Lock()
	_, err := c.registry.IdentityOf(initiator)
	c.mu.Unlock()
	if err != nil {
		return
	}
	c.dispatch([]core.Outbound{{To: initiator, Message: protocol.NewGroupCallDone(rep.Called, rep.Skipped, rep.Failed)}})
}

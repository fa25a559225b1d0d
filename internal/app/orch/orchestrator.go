// Package orch owns all signaling state and serializes every change to it.
// Operations return the messages to deliver; nothing is sent while the lock
// is held.
package orch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/events"
)

type Config struct {
	// PacingDelay separates consecutive calls of a group call.
	PacingDelay time.Duration
	// OfferTimeout closes offers left unanswered; zero disables it.
	OfferTimeout time.Duration
}

type Coordinator struct {
	mu sync.Mutex

	registry *app.Registry
	rooms    *app.RoomDirectory
	calls    *app.CallTracker
	groups   *app.Sequencer

	out    core.Dispatcher
	events events.Publisher

	offerTimeout time.Duration
	timers       map[string]*time.Timer
	now          func() time.Time
}

// New builds a coordinator. out receives messages produced outside a
// request, such as group call steps and offer timeouts.
func New(cfg Config, out core.Dispatcher, pub events.Publisher) *Coordinator {
	if pub == nil {
		pub = events.Nop{}
	}
	c := &Coordinator{
		registry:     app.NewRegistry(),
		rooms:        app.NewRoomDirectory(),
		calls:        app.NewCallTracker(app.LowerIDWins{}),
		out:          out,
		events:       pub,
		offerTimeout: cfg.OfferTimeout,
		timers:       make(map[string]*time.Timer),
		now:          time.Now,
	}
	c.groups = app.NewSequencer(cfg.PacingDelay, c.groupDone)
	return c
}

// effects collects what one locked section produced.
type effects struct {
	out    []core.Outbound
	events []events.Event
}

func (fx *effects) send(to core.ConnID, msg any) {
	fx.out = append(fx.out, core.Outbound{To: to, Message: msg})
}

func (fx *effects) emit(e events.Event) {
	fx.events = append(fx.events, e)
}

// flush publishes collected events. Must be called without the lock.
func (c *Coordinator) flush(fx *effects) []core.Outbound {
	for _, e := range fx.events {
		_ = c.events.Publish(context.Background(), e)
	}
	return fx.out
}

func (c *Coordinator) dispatch(out []core.Outbound) {
	if len(out) > 0 && c.out != nil {
		c.out.Dispatch(out)
	}
}

func (c *Coordinator) event(t events.Type, room domain.RoomID, id core.ConnID) events.Event {
	return events.Event{Type: t, Room: room, ConnID: id, Timestamp: c.now()}
}

// peerLocked checks that from is in a room and that to is a registered
// member of the same room.
func (c *Coordinator) peerLocked(from, to core.ConnID) (domain.RoomID, error) {
	room, ok := c.rooms.RoomOf(from)
	if !ok {
		return "", domain.ErrNotInRoom
	}
	if _, err := c.registry.IdentityOf(to); err != nil {
		return "", fmt.Errorf("peer %s: %w", to, domain.ErrNotFound)
	}
	if r, ok := c.rooms.RoomOf(to); !ok || r != room {
		return "", fmt.Errorf("peer %s is not in room %s: %w", to, room, domain.ErrNotFound)
	}
	return room, nil
}

func (c *Coordinator) membersLocked(ids []core.ConnID) []core.MemberDTO {
	out := make([]core.MemberDTO, 0, len(ids))
	for _, id := range ids {
		identity, err := c.registry.IdentityOf(id)
		if err != nil {
			continue
		}
		out = append(out, core.MemberDTO{ID: id, Identity: identity})
	}
	return out
}

// Rooms lists the non-empty rooms.
func (c *Coordinator) Rooms() []core.RoomInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.List()
}

// Members returns the members of room in join order.
func (c *Coordinator) Members(room domain.RoomID) ([]core.MemberDTO, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.rooms.MembersOf(room)
	if len(ids) == 0 {
		return nil, false
	}
	return c.membersLocked(ids), true
}

func (c *Coordinator) Calls() []core.CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls.Snapshot()
}

// Presence reports the connections held by identity and their rooms.
func (c *Coordinator) Presence(identity domain.Identity) core.PresenceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := core.PresenceInfo{
		Identity:    identity,
		Connections: c.registry.ConnectionsOf(identity),
		Rooms:       []domain.RoomID{},
	}
	if info.Connections == nil {
		info.Connections = []core.ConnID{}
	}
	seen := make(map[domain.RoomID]bool)
	for _, id := range info.Connections {
		if room, ok := c.rooms.RoomOf(id); ok && !seen[room] {
			seen[room] = true
			info.Rooms = append(info.Rooms, room)
		}
	}
	return info
}

// Shutdown stops group calls and pending offer timers.
func (c *Coordinator) Shutdown() {
	c.groups.Shutdown()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

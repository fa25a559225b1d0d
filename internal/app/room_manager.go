package app

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/rs/zerolog/log"
)

// RoomDirectory maps rooms to their members in join order. A room exists
// only while it has at least one member; each connection is in at most one room.
type RoomDirectory struct {
	mu      sync.RWMutex
	members map[domain.RoomID][]core.ConnID
	roomOf  map[core.ConnID]domain.RoomID
}

func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{
		members: make(map[domain.RoomID][]core.ConnID),
		roomOf:  make(map[core.ConnID]domain.RoomID),
	}
}

// Join moves id into room and returns the members that were there before it.
// If id was in another room it is removed from it first and that room is
// reported as left. Joining the room id is already in changes nothing.
func (d *RoomDirectory) Join(room domain.RoomID, id core.ConnID) (existing []core.ConnID, left domain.RoomID, movedFrom bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.roomOf[id]; ok {
		if cur == room {
			return others(d.members[room], id), "", false
		}
		d.removeLocked(cur, id)
		left, movedFrom = cur, true
	}

	existing = slices.Clone(d.members[room])
	d.members[room] = append(d.members[room], id)
	d.roomOf[id] = room
	log.Debug().Str(logging.FieldModule, "app.rooms").Str(logging.FieldRoom, string(room)).Str(logging.FieldConnID, string(id)).Int("members", len(existing)+1).Msg("joined")
	return existing, left, movedFrom
}

// Leave removes id from its room. ErrNotInRoom is a normal outcome.
func (d *RoomDirectory) Leave(id core.ConnID) (domain.RoomID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.roomOf[id]
	if !ok {
		return "", domain.ErrNotInRoom
	}
	d.removeLocked(room, id)
	return room, nil
}

func (d *RoomDirectory) removeLocked(room domain.RoomID, id core.ConnID) {
	delete(d.roomOf, id)
	rest := slices.DeleteFunc(d.members[room], func(c core.ConnID) bool { return c == id })
	if len(rest) == 0 {
		delete(d.members, room)
		log.Debug().Str(logging.FieldModule, "app.rooms").Str(logging.FieldRoom, string(room)).Msg("room emptied")
		return
	}
	d.members[room] = rest
}

// MembersOf returns the members of room in join order, empty when the room
// does not exist.
func (d *RoomDirectory) MembersOf(room domain.RoomID) []core.ConnID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.members[room])
}

func (d *RoomDirectory) RoomOf(id core.ConnID) (domain.RoomID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.roomOf[id]
	return room, ok
}

// List returns every room sorted by id.
func (d *RoomDirectory) List() []core.RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(d.members))
	for name, m := range d.members {
		out = append(out, core.RoomInfo{Name: name, MemberCount: len(m)})
	}
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func others(ids []core.ConnID, self core.ConnID) []core.ConnID {
	out := make([]core.ConnID, 0, len(ids))
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

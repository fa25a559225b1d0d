package app

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CallEdge is the signaling relationship between two connections. A is
// always the smaller id of the pair.
type CallEdge struct {
	ID        string
	A, B      core.ConnID
	Initiator core.ConnID
	State     domain.CallState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Peer returns the other participant of the edge.
func (e CallEdge) Peer(id core.ConnID) core.ConnID {
	if id == e.A {
		return e.B
	}
	return e.A
}

func (e CallEdge) Info() core.CallInfo {
	return core.CallInfo{
		ID:        e.ID,
		A:         e.A,
		B:         e.B,
		Initiator: e.Initiator,
		State:     e.State.String(),
		CreatedAt: e.CreatedAt,
	}
}

type pairKey struct {
	a, b core.ConnID
}

func keyOf(x, y core.ConnID) pairKey {
	if y < x {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

// Initiation is the outcome of a successful Initiate. Replaced is the edge
// the new offer superseded. Revoked is set instead when the superseded edge
// was the peer's own pending offer that lost a glare.
type Initiation struct {
	Edge     CallEdge
	Replaced *CallEdge
	Revoked  *CallEdge
}

// CallTracker keeps at most one edge per unordered pair of connections.
// Closed edges are dropped, so an absent pair reads as CallNone.
type CallTracker struct {
	mu     sync.RWMutex
	policy GlarePolicy
	edges  map[pairKey]*CallEdge
	byConn map[core.ConnID]map[pairKey]struct{}
}

func NewCallTracker(policy GlarePolicy) *CallTracker {
	if policy == nil {
		policy = LowerIDWins{}
	}
	return &CallTracker{
		policy: policy,
		edges:  make(map[pairKey]*CallEdge),
		byConn: make(map[core.ConnID]map[pairKey]struct{}),
	}
}

// Initiate records an offer from one connection to another.
//
// If to already has a pending offer towards from, the pair is in glare and
// the policy picks the winner: when from wins the pending edge is revoked
// and replaced, otherwise ErrCallGlare is returned and nothing changes. Any
// other existing edge is replaced by the new offer.
func (t *CallTracker) Initiate(from, to core.ConnID, now time.Time) (Initiation, error) {
	if from == to {
		return Initiation{}, fmt.Errorf("cannot call yourself: %w", domain.ErrValidation)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	k := keyOf(from, to)
	var res Initiation
	if old, ok := t.edges[k]; ok {
		prev := *old
		if prev.State == domain.CallOfferSent && prev.Initiator == to {
			if t.policy.Winner(from, to) != from {
				log.Debug().Str(logging.FieldModule, "app.calls").Str(logging.FieldConnID, string(from)).Str(logging.FieldPeer, string(to)).Msg("glare lost")
				return Initiation{}, fmt.Errorf("%s is already calling %s: %w", to, from, domain.ErrCallGlare)
			}
			res.Revoked = &prev
			log.Debug().Str(logging.FieldModule, "app.calls").Str(logging.FieldConnID, string(from)).Str(logging.FieldPeer, string(to)).Msg("glare won")
		} else {
			res.Replaced = &prev
		}
	}

	edge := &CallEdge{
		ID:        uuid.NewString(),
		A:         k.a,
		B:         k.b,
		Initiator: from,
		State:     domain.CallOfferSent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.edges[k] = edge
	t.index(k)
	res.Edge = *edge
	return res, nil
}

// Accept moves the edge to Connected when answerer replies to the offer
// sent by initiator. A non-empty callID must name the pending edge, so an
// answer to a superseded offer is rejected. Anything else is ErrStaleAnswer.
func (t *CallTracker) Accept(answerer, initiator core.ConnID, callID string, now time.Time) (CallEdge, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.edges[keyOf(answerer, initiator)]
	if !ok || e.State != domain.CallOfferSent || e.Initiator != initiator || answerer == initiator {
		return CallEdge{}, domain.ErrStaleAnswer
	}
	if callID != "" && callID != e.ID {
		return CallEdge{}, fmt.Errorf("answer for superseded call %s: %w", callID, domain.ErrStaleAnswer)
	}
	e.State = domain.CallConnected
	e.UpdatedAt = now
	return *e, nil
}

// CanRelay reports whether candidates may flow between a and b.
func (t *CallTracker) CanRelay(a, b core.ConnID) bool {
	return t.State(a, b).Live()
}

// Close removes the edge between a and b. It reports false when there was none.
func (t *CallTracker) Close(a, b core.ConnID) (CallEdge, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked(keyOf(a, b))
}

// Expire closes the edge between a and b only if it is still the offer with
// the given id.
func (t *CallTracker) Expire(a, b core.ConnID, id string) (CallEdge, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := keyOf(a, b)
	e, ok := t.edges[k]
	if !ok || e.ID != id || e.State != domain.CallOfferSent {
		return CallEdge{}, false
	}
	return t.closeLocked(k)
}

func (t *CallTracker) closeLocked(k pairKey) (CallEdge, bool) {
	e, ok := t.edges[k]
	if !ok {
		return CallEdge{}, false
	}
	delete(t.edges, k)
	t.unindex(k)
	closed := *e
	closed.State = domain.CallClosed
	return closed, true
}

// EdgesOf returns every edge id participates in, ordered by peer id.
func (t *CallTracker) EdgesOf(id core.ConnID) []CallEdge {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]CallEdge, 0, len(t.byConn[id]))
	for k := range t.byConn[id] {
		out = append(out, *t.edges[k])
	}
	slices.SortFunc(out, func(x, y CallEdge) int { return cmp.Compare(x.Peer(id), y.Peer(id)) })
	return out
}

func (t *CallTracker) Get(a, b core.ConnID) (CallEdge, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.edges[keyOf(a, b)]
	if !ok {
		return CallEdge{}, false
	}
	return *e, true
}

func (t *CallTracker) State(a, b core.ConnID) domain.CallState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.edges[keyOf(a, b)]; ok {
		return e.State
	}
	return domain.CallNone
}

// Snapshot lists every edge, oldest first.
func (t *CallTracker) Snapshot() []core.CallInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.CallInfo, 0, len(t.edges))
	for _, e := range t.edges {
		out = append(out, e.Info())
	}
	slices.SortFunc(out, func(x, y core.CallInfo) int {
		if c := x.CreatedAt.Compare(y.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return out
}

func (t *CallTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.edges)
}

func (t *CallTracker) index(k pairKey) {
	for _, id := range []core.ConnID{k.a, k.b} {
		set, ok := t.byConn[id]
		if !ok {
			set = make(map[pairKey]struct{})
			t.byConn[id] = set
		}
		set[k] = struct{}{}
	}
}

func (t *CallTracker) unindex(k pairKey) {
	for _, id := range []core.ConnID{k.a, k.b} {
		delete(t.byConn[id], k)
		if len(t.byConn[id]) == 0 {
			delete(t.byConn, id)
		}
	}
}

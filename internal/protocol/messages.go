// Package protocol defines the JSON wire messages exchanged with clients.
// Inbound messages are decoded into typed variants and validated before they
// reach the coordinator; outbound messages are plain structs with a type tag.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

// Message types from client.
const (
	TypeRoomJoin     = "room:join"
	TypeRoomLeave    = "room:leave"
	TypeUserCall     = "user:call"
	TypeCallAccepted = "call:accepted"
	TypeICECandidate = "peer:ice-candidate"
	TypeCallEnd      = "call:end"
	TypeGroupCall    = "group:call"
	TypePing         = "ping"
)

// Message types to client. room:join, call:accepted and peer:ice-candidate
// are shared with the inbound set.
const (
	TypeRoomError     = "room:error"
	TypeUserJoined    = "user:joined"
	TypeUserLeft      = "user:left"
	TypeIncomingCall  = "incoming:call"
	TypeCallEnded     = "call:ended"
	TypeCallGlare     = "call:glare"
	TypeGroupCallDone = "group:call:done"
	TypePong          = "pong"
)

// Inbound is a decoded, validated client message.
type Inbound interface {
	Kind() string
}

// JoinRoom registers the sender under Identity and moves it into Room.
type JoinRoom struct {
	Identity domain.Identity
	Room     domain.RoomID
}

// LeaveRoom removes the sender from its room.
type LeaveRoom struct{}

// CallUser carries an offer for To.
type CallUser struct {
	To    core.ConnID
	Offer json.RawMessage
}

// AcceptCall carries the answer for the offer previously sent by To. CallID
// is the call_id of the incoming:call being answered; it may be empty.
type AcceptCall struct {
	To     core.ConnID
	CallID string
	Answer json.RawMessage
}

// ICECandidate carries one trickled candidate for To.
type ICECandidate struct {
	To        core.ConnID
	Candidate json.RawMessage
}

// EndCall hangs up the call with To.
type EndCall struct {
	To core.ConnID
}

// TargetOffer is one prepared offer of a group call.
type TargetOffer struct {
	To    core.ConnID     `json:"to"`
	Offer json.RawMessage `json:"offer"`
}

// GroupCall asks the server to call every other room member, one at a time,
// using the offers prepared by the client.
type GroupCall struct {
	Offers map[core.ConnID]json.RawMessage
}

// Ping is a keepalive.
type Ping struct{}

func (JoinRoom) Kind() string     { return TypeRoomJoin }
func (LeaveRoom) Kind() string    { return TypeRoomLeave }
func (CallUser) Kind() string     { return TypeUserCall }
func (AcceptCall) Kind() string   { return TypeCallAccepted }
func (ICECandidate) Kind() string { return TypeICECandidate }
func (EndCall) Kind() string      { return TypeCallEnd }
func (GroupCall) Kind() string    { return TypeGroupCall }
func (Ping) Kind() string         { return TypePing }

// Server -> Client messages

// RoomJoined acknowledges room:join with the members that were already there.
type RoomJoined struct {
	Type  string           `json:"type"`
	Room  domain.RoomID    `json:"room"`
	ID    core.ConnID      `json:"id"`
	Users []core.MemberDTO `json:"users"`
}

// RoomError reports a rejected request. The connection stays usable.
type RoomError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// UserPresence is sent as user:joined and user:left.
type UserPresence struct {
	Type     string          `json:"type"`
	Identity domain.Identity `json:"identity"`
	ID       core.ConnID     `json:"id"`
}

// IncomingCall relays an offer.
type IncomingCall struct {
	Type   string          `json:"type"`
	From   core.ConnID     `json:"from"`
	CallID string          `json:"call_id"`
	Offer  json.RawMessage `json:"offer"`
}

// CallAccepted relays an answer.
type CallAccepted struct {
	Type   string          `json:"type"`
	From   core.ConnID     `json:"from"`
	Answer json.RawMessage `json:"answer"`
}

// PeerCandidate relays an ICE candidate.
type PeerCandidate struct {
	Type      string          `json:"type"`
	From      core.ConnID     `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

// CallEnded tells a participant that its call with From is gone and its
// peer connection can be released.
type CallEnded struct {
	Type   string      `json:"type"`
	From   core.ConnID `json:"from"`
	Reason string      `json:"reason"`
}

// CallGlare tells the sender that From is already calling it; it should wait
// for the incoming call instead of retrying.
type CallGlare struct {
	Type string      `json:"type"`
	From core.ConnID `json:"from"`
}

// GroupCallDone reports the outcome of a group call.
type GroupCallDone struct {
	Type    string        `json:"type"`
	Called  []core.ConnID `json:"called"`
	Skipped []core.ConnID `json:"skipped"`
	Failed  []core.ConnID `json:"failed"`
}

// Pong answers ping.
type Pong struct {
	Type string `json:"type"`
}

func NewRoomJoined(room domain.RoomID, self core.ConnID, users []core.MemberDTO) *RoomJoined {
	if users == nil {
		users = []core.MemberDTO{}
	}
	return &RoomJoined{Type: TypeRoomJoin, Room: room, ID: self, Users: users}
}

func NewRoomError(message string) *RoomError {
	return &RoomError{Type: TypeRoomError, Message: message}
}

func NewUserJoined(identity domain.Identity, id core.ConnID) *UserPresence {
	return &UserPresence{Type: TypeUserJoined, Identity: identity, ID: id}
}

func NewUserLeft(identity domain.Identity, id core.ConnID) *UserPresence {
	return &UserPresence{Type: TypeUserLeft, Identity: identity, ID: id}
}

func NewIncomingCall(from core.ConnID, callID string, offer json.RawMessage) *IncomingCall {
	return &IncomingCall{Type: TypeIncomingCall, From: from, CallID: callID, Offer: offer}
}

func NewCallAccepted(from core.ConnID, answer json.RawMessage) *CallAccepted {
	return &CallAccepted{Type: TypeCallAccepted, From: from, Answer: answer}
}

func NewPeerCandidate(from core.ConnID, candidate json.RawMessage) *PeerCandidate {
	return &PeerCandidate{Type: TypeICECandidate, From: from, Candidate: candidate}
}

func NewCallEnded(from core.ConnID, reason string) *CallEnded {
	return &CallEnded{Type: TypeCallEnded, From: from, Reason: reason}
}

func NewCallGlare(from core.ConnID) *CallGlare {
	return &CallGlare{Type: TypeCallGlare, From: from}
}

func NewGroupCallDone(called, skipped, failed []core.ConnID) *GroupCallDone {
	return &GroupCallDone{
		Type:    TypeGroupCallDone,
		Called:  nonNil(called),
		Skipped: nonNil(skipped),
		Failed:  nonNil(failed),
	}
}

func NewPong() *Pong {
	return &Pong{Type: TypePong}
}

func nonNil(ids []core.ConnID) []core.ConnID {
	if ids == nil {
		return []core.ConnID{}
	}
	return ids
}

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

// Limits bounds user-supplied strings.
type Limits struct {
	MaxIdentityLen int
	MaxRoomLen     int
}

type envelope struct {
	Type string `json:"type"`
}

type joinPayload struct {
	Identity string `json:"identity"`
	Email    string `json:"email,omitempty"`
	Room     string `json:"room"`
}

type callPayload struct {
	To    string          `json:"to"`
	Offer json.RawMessage `json:"offer"`
}

type answerPayload struct {
	To     string          `json:"to"`
	CallID string          `json:"call_id,omitempty"`
	Answer json.RawMessage `json:"answer"`
	Ans    json.RawMessage `json:"ans,omitempty"`
}

type candidatePayload struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

type endPayload struct {
	To string `json:"to"`
}

type groupPayload struct {
	Offers []TargetOffer `json:"offers"`
}

// Decode parses one client frame into a validated Inbound variant. Every
// failure wraps domain.ErrValidation.
func Decode(data []byte, lim Limits) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, invalid("invalid message format")
	}

	switch env.Type {
	case TypeRoomJoin:
		var p joinPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, invalid("invalid room:join message")
		}
		raw := p.Identity
		if strings.TrimSpace(raw) == "" {
			raw = p.Email
		}
		identity, err := domain.NewIdentity(raw, lim.MaxIdentityLen)
		if err != nil {
			return nil, err
		}
		room, err := domain.NewRoomID(p.Room, lim.MaxRoomLen)
		if err != nil {
			return nil, err
		}
		return JoinRoom{Identity: identity, Room: room}, nil

	case TypeRoomLeave:
		return LeaveRoom{}, nil

	case TypeUserCall:
		var p callPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, invalid("invalid user:call message")
		}
		to, err := target(p.To)
		if err != nil {
			return nil, err
		}
		if isEmpty(p.Offer) {
			return nil, invalid("offer is required")
		}
		return CallUser{To: to, Offer: p.Offer}, nil

	case TypeCallAccepted:
		var p answerPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, invalid("invalid call:accepted message")
		}
		to, err := target(p.To)
		if err != nil {
			return nil, err
		}
		answer := p.Answer
		if isEmpty(answer) {
			answer = p.Ans
		}
		if isEmpty(answer) {
			return nil, invalid("answer is required")
		}
		return AcceptCall{To: to, CallID: strings.TrimSpace(p.CallID), Answer: answer}, nil

	case TypeICECandidate:
		var p candidatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, invalid("invalid peer:ice-candidate message")
		}
		to, err := target(p.To)
		if err != nil {
			return nil, err
		}
		if isEmpty(p.Candidate) {
			return nil, invalid("candidate is required")
		}
		return ICECandidate{To: to, Candidate: p.Candidate}, nil

	case TypeCallEnd:
		var p endPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, invalid("invalid call:end message")
		}
		to, err := target(p.To)
		if err != nil {
			return nil, err
		}
		return EndCall{To: to}, nil

	case TypeGroupCall:
		var p groupPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, invalid("invalid group:call message")
		}
		offers := make(map[core.ConnID]json.RawMessage, len(p.Offers))
		for _, o := range p.Offers {
			to, err := target(string(o.To))
			if err != nil {
				return nil, err
			}
			if isEmpty(o.Offer) {
				return nil, invalid("offer is required for " + string(to))
			}
			offers[to] = o.Offer
		}
		return GroupCall{Offers: offers}, nil

	case TypePing:
		return Ping{}, nil

	case "":
		return nil, invalid("message type is required")

	default:
		return nil, invalid("unknown message type " + env.Type)
	}
}

func target(raw string) (core.ConnID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", invalid("to is required")
	}
	return core.ConnID(s), nil
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func invalid(msg string) error {
	return fmt.Errorf("%s: %w", msg, domain.ErrValidation)
}

// ErrorText renders err for a room:error message without the sentinel suffix.
func ErrorText(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+domain.ErrValidation.Error())
}

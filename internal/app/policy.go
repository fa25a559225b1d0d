package app

import "github.com/dkeye/Mesh/internal/core"

// GlarePolicy decides which of two connections keeps its offer when both
// call each other before either answered.
type GlarePolicy interface {
	Winner(a, b core.ConnID) core.ConnID
}

// LowerIDWins lets the lexicographically smaller connection id win.
type LowerIDWins struct{}

func (LowerIDWins) Winner(a, b core.ConnID) core.ConnID {
	if a < b {
		return a
	}
	return b
}

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop_frame"
	case KickMember:
		return "kick_member"
	default:
		return "none"
	}
}

// SlowConsumerPolicy decides what happens to a connection whose send buffer
// is full. dropped counts frames already lost on that connection.
type SlowConsumerPolicy interface {
	OnBackPressure(id core.ConnID, dropped int) BackpressureAction
}

// DropThenKick drops frames until Limit frames were lost, then asks for the
// connection to be closed. A zero Limit never kicks.
type DropThenKick struct {
	Limit int
}

func (p DropThenKick) OnBackPressure(_ core.ConnID, dropped int) BackpressureAction {
	if p.Limit > 0 && dropped >= p.Limit {
		return KickMember
	}
	return DropFrame
}

package domain

// CallState is the state of the call edge between two connections.
type CallState int

const (
	CallNone CallState = iota
	CallOfferSent
	CallConnected
	CallClosed
)

func (s CallState) String() string {
	switch s {
	case CallOfferSent:
		return "offer_sent"
	case CallConnected:
		return "connected"
	case CallClosed:
		return "closed"
	default:
		return "none"
	}
}

// Live reports whether signaling may flow over an edge in this state.
func (s CallState) Live() bool {
	return s == CallOfferSent || s == CallConnected
}

// Reasons carried by call termination notices.
const (
	EndReasonHangup     = "hangup"
	EndReasonDisconnect = "disconnect"
	EndReasonLeft       = "left"
	EndReasonTimeout    = "timeout"
	EndReasonGlare      = "glare"
	EndReasonReplaced   = "replaced"
)

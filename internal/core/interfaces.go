package core

// Outbound is one instruction produced by a state mutation: deliver Message
// to the connection To. Message must be JSON encodable.
type Outbound struct {
	To      ConnID
	Message any
}

// Dispatcher delivers outbound instructions. Implementations must not block
// on a slow recipient.
type Dispatcher interface {
	Dispatch(out []Outbound)
}

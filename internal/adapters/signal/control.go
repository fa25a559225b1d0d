package signal

import (
	"errors"
	"runtime/debug"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handle routes one client frame. A panic is contained to this frame.
func (ctl *SignalWSController) handle(c *WsSignalConn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str(logging.FieldModule, "signal").Str(logging.FieldConnID, string(c.id)).
				Interface("panic", r).Bytes("stack", debug.Stack()).Msg("handler panic")
		}
	}()

	msg, err := protocol.Decode(data, ctl.opts.Limits)
	if err != nil {
		log.Debug().Err(err).Str(logging.FieldModule, "signal").Str(logging.FieldConnID, string(c.id)).Msg("rejected frame")
		ctl.reply(c.id, protocol.NewRoomError(protocol.ErrorText(err)))
		return
	}
	if rateLimited(msg) && !ctl.limiter.Allow(c.id) {
		log.Warn().Str(logging.FieldModule, "signal").Str(logging.FieldConnID, string(c.id)).Str("type", msg.Kind()).Msg("rate limited")
		ctl.reply(c.id, protocol.NewRoomError(domain.ErrRateLimited.Error()))
		return
	}

	var out []core.Outbound
	switch m := msg.(type) {
	case protocol.JoinRoom:
		out, err = ctl.coord.Join(c.id, m.Identity, m.Room)
	case protocol.LeaveRoom:
		out, err = ctl.coord.Leave(c.id)
		if errors.Is(err, domain.ErrNotInRoom) {
			err = nil
		}
	case protocol.CallUser:
		out, err = ctl.coord.Call(c.id, m.To, m.Offer)
	case protocol.AcceptCall:
		out, err = ctl.coord.Accept(c.id, m.To, m.CallID, m.Answer)
	case protocol.ICECandidate:
		out, err = ctl.coord.RelayCandidate(c.id, m.To, m.Candidate)
	case protocol.EndCall:
		out, err = ctl.coord.EndCall(c.id, m.To)
	case protocol.GroupCall:
		_, err = ctl.coord.GroupCall(c.id, m.Offers)
	case protocol.Ping:
		out = []core.Outbound{{To: c.id, Message: protocol.NewPong()}}
	}
	ctl.hub.Dispatch(out)
	ctl.fail(c, msg.Kind(), err)
}

func (ctl *SignalWSController) fail(c *WsSignalConn, kind string, err error) {
	if err == nil {
		return
	}
	lg := log.With().Str(logging.FieldModule, "signal").Str(logging.FieldConnID, string(c.id)).Str("type", kind).Logger()
	switch {
	case errors.Is(err, domain.ErrDuplicateIdentity):
		lg.Error().Err(err).Msg("duplicate registration, closing connection")
		c.Close()
	case errors.Is(err, domain.ErrValidation):
		ctl.reply(c.id, protocol.NewRoomError(protocol.ErrorText(err)))
	case errors.Is(err, domain.ErrNotInRoom):
		ctl.reply(c.id, protocol.NewRoomError("join a room first"))
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrStaleAnswer),
		errors.Is(err, domain.ErrCallGlare):
		lg.Debug().Err(err).Msg("dropped")
	default:
		lg.Error().Err(err).Msg("handler error")
	}
}

func (ctl *SignalWSController) reply(id core.ConnID, msg any) {
	ctl.hub.Dispatch([]core.Outbound{{To: id, Message: msg}})
}

func rateLimited(msg protocol.Inbound) bool {
	switch msg.(type) {
	case protocol.JoinRoom, protocol.CallUser, protocol.GroupCall:
		return true
	}
	return false
}

package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Coordinator is the signaling state the controller drives.
type Coordinator interface {
	Join(id core.ConnID, identity domain.Identity, room domain.RoomID) ([]core.Outbound, error)
	Leave(id core.ConnID) ([]core.Outbound, error)
	Call(from, to core.ConnID, offer json.RawMessage) ([]core.Outbound, error)
	Accept(answerer, initiator core.ConnID, callID string, answer json.RawMessage) ([]core.Outbound, error)
	RelayCandidate(from, to core.ConnID, candidate json.RawMessage) ([]core.Outbound, error)
	EndCall(from, to core.ConnID) ([]core.Outbound, error)
	GroupCall(initiator core.ConnID, offers map[core.ConnID]json.RawMessage) (*app.GroupJob, error)
	Disconnect(id core.ConnID) []core.Outbound
}

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	SendBuffer   int
	RateLimit    int
	RateInterval time.Duration
	Limits       protocol.Limits
}

type SignalWSController struct {
	coord   Coordinator
	hub     *Hub
	limiter *RateLimiter
	opts    Options
}

func NewSignalWSController(coord Coordinator, hub *Hub, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 65536
	}
	return &SignalWSController{
		coord:   coord,
		hub:     hub,
		limiter: NewRateLimiter(opts.RateLimit, opts.RateInterval),
		opts:    opts,
	}
}

type WsSignalConn struct {
	id   core.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool

	disconnect sync.Once
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves one signaling connection
// until it closes or ctx is done.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str(logging.FieldModule, "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		id:   core.ConnID(uuid.NewString()),
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	ctl.hub.Add(conn.id, conn)
	lg := logging.Ctx(c.Request.Context())
	lg.Info().Str(logging.FieldConnID, string(conn.id)).
		Str(logging.FieldClient, c.GetString(logging.FieldClient)).Msg("new WS connection")

	stop := context.AfterFunc(ctx, conn.Close)
	go ctl.writePump(conn)
	go func() {
		defer stop()
		ctl.readPump(conn)
	}()
}

// release reconciles a closed connection exactly once.
func (ctl *SignalWSController) release(c *WsSignalConn) {
	c.disconnect.Do(func() {
		ctl.hub.Remove(c.id)
		ctl.limiter.Forget(c.id)
		ctl.hub.Dispatch(ctl.coord.Disconnect(c.id))
		c.Close()
		log.Info().Str(logging.FieldModule, "signal").Str(logging.FieldConnID, string(c.id)).Msg("connection released")
	})
}

package signal

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnClosed
	}
	if f.full {
		return ErrBackpressure
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func TestHubDispatch(t *testing.T) {
	hub := NewHub(nil)
	a := &fakeConn{}
	hub.Add("a", a)

	hub.Dispatch([]core.Outbound{
		{To: "a", Message: protocol.NewPong()},
		{To: "gone", Message: protocol.NewPong()},
	})
	require.Len(t, a.frames, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(a.frames[0], &got))
	assert.Equal(t, protocol.TypePong, got["type"])

	hub.Remove("a")
	hub.Dispatch([]core.Outbound{{To: "a", Message: protocol.NewPong()}})
	assert.Len(t, a.frames, 1)
	assert.Zero(t, hub.Len())
}

func TestHubKicksSlowConsumer(t *testing.T) {
	hub := NewHub(app.DropThenKick{Limit: 2})
	slow := &fakeConn{full: true}
	hub.Add("slow", slow)

	msg := []core.Outbound{{To: "slow", Message: protocol.NewPong()}}
	hub.Dispatch(msg)
	assert.False(t, slow.closed, "first drop only")
	hub.Dispatch(msg)
	assert.True(t, slow.closed)
}

func TestHubCloseAll(t *testing.T) {
	hub := NewHub(nil)
	a, b := &fakeConn{}, &fakeConn{}
	hub.Add("a", a)
	hub.Add("b", b)
	hub.CloseAll()
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

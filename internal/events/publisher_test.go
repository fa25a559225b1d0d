package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPublisher struct {
	mu     sync.Mutex
	got    []Event
	gate   chan struct{}
	closed bool
}

func (m *memPublisher) Publish(_ context.Context, e Event) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, e)
	return nil
}

func (m *memPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestBusDeliversInOrderAndDrainsOnClose(t *testing.T) {
	pub := &memPublisher{}
	bus := NewBus(pub, 8)

	require.NoError(t, bus.Publish(context.Background(), Event{Type: RoomJoined, ConnID: "a"}))
	require.NoError(t, bus.Publish(context.Background(), Event{Type: RoomLeft, ConnID: "a"}))
	require.NoError(t, bus.Close())

	require.Len(t, pub.got, 2)
	assert.Equal(t, RoomJoined, pub.got[0].Type)
	assert.Equal(t, RoomLeft, pub.got[1].Type)
	assert.False(t, pub.got[0].Timestamp.IsZero())
	assert.True(t, pub.closed)

	assert.ErrorIs(t, bus.Publish(context.Background(), Event{Type: RoomJoined}), ErrBusClosed)
	assert.NoError(t, bus.Close())
}

func TestBusDropsWhenFull(t *testing.T) {
	pub := &memPublisher{gate: make(chan struct{})}
	bus := NewBus(pub, 1)

	// The worker takes the first event and blocks on the gate; the second
	// fills the queue.
	require.NoError(t, bus.Publish(context.Background(), Event{Type: CallOffered}))
	require.Eventually(t, func() bool { return len(bus.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), Event{Type: CallConnected}))

	err := bus.Publish(context.Background(), Event{Type: CallEnded})
	assert.ErrorIs(t, err, ErrBusFull)

	close(pub.gate)
	require.NoError(t, bus.Close())
	assert.Len(t, pub.got, 2)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "carrier-pigeon"})
	assert.Error(t, err)

	bus, err := Open(context.Background(), Config{Driver: DriverNone})
	require.NoError(t, err)
	assert.NoError(t, bus.Publish(context.Background(), Event{Type: RoomJoined}))
	assert.NoError(t, bus.Close())
}

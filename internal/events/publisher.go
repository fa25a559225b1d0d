// Package events publishes signaling lifecycle events (joins, leaves, call
// state changes) to an external feed.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/rs/zerolog/log"
)

type Type string

const (
	RoomJoined    Type = "room.joined"
	RoomLeft      Type = "room.left"
	CallOffered   Type = "call.offered"
	CallConnected Type = "call.connected"
	CallEnded     Type = "call.ended"
)

// Event is one lifecycle change.
type Event struct {
	Type      Type            `json:"type"`
	Room      domain.RoomID   `json:"room,omitempty"`
	ConnID    core.ConnID     `json:"conn_id"`
	Identity  domain.Identity `json:"identity,omitempty"`
	Peer      core.ConnID     `json:"peer,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher delivers events to a feed.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

var (
	ErrBusFull   = errors.New("event bus full")
	ErrBusClosed = errors.New("event bus closed")
)

// Bus queues events for a Publisher and delivers them from one worker
// goroutine, so callers never wait on the network. When the queue is full
// events are dropped.
type Bus struct {
	pub     Publisher
	queue   chan Event
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewBus(pub Publisher, buffer int) *Bus {
	if pub == nil {
		pub = Nop{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	b := &Bus{
		pub:     pub,
		queue:   make(chan Event, buffer),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go b.loop()
	return b
}

// Publish enqueues e. It never blocks.
func (b *Bus) Publish(_ context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.queue <- e:
		return nil
	default:
		log.Warn().Str(logging.FieldModule, "events.bus").Str("event", string(e.Type)).Str(logging.FieldConnID, string(e.ConnID)).Msg("event dropped, queue full")
		return ErrBusFull
	}
}

func (b *Bus) loop() {
	defer close(b.done)
	for e := range b.queue {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		if err := b.pub.Publish(ctx, e); err != nil {
			log.Error().Err(err).Str(logging.FieldModule, "events.bus").Str("event", string(e.Type)).Msg("publish failed")
		}
		cancel()
	}
}

// Close stops accepting events, delivers what is queued and closes the
// underlying publisher.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	<-b.done
	return b.pub.Close()
}

package sse

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// frameBuffer is how many frames a connection may fall behind before a
// publish has to wait on it.
const frameBuffer = 64

// enqueueWait bounds how long a publish waits on a backed-up connection
// before the connection is treated as failed. Kept short so one slow client
// cannot stall a fan-out.
const enqueueWait = 250 * time.Millisecond

var (
	ErrConnectionClosed = errors.New("sse: connection closed")
	ErrSlowClient       = errors.New("sse: client not draining frames")
)

// Identity is the verified (user, organization) pair a connection is scoped
// to. It is produced by the authentication layer before admission and is
// immutable for the connection's lifetime.
type Identity struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
}

// Valid reports whether both halves of the identity are present.
func (id Identity) Valid() bool {
	return id.UserID != uuid.Nil && id.OrganizationID != uuid.Nil
}

// Connection is one open client stream. The frame channel is its only write
// path: the HTTP handler drains it in a single loop, which is what gives
// per-connection delivery ordering.
type Connection struct {
	ID       uuid.UUID
	Identity Identity
	OpenedAt time.Time

	frames    chan Frame
	closed    chan struct{}
	closeOnce sync.Once

	lastSeenUnixNano atomic.Int64
}

func newConnection(identity Identity) *Connection {
	now := time.Now()
	c := &Connection{
		ID:       uuid.New(),
		Identity: identity,
		OpenedAt: now,
		frames:   make(chan Frame, frameBuffer),
		closed:   make(chan struct{}),
	}
	c.lastSeenUnixNano.Store(now.UnixNano())
	return c
}

// Frames is drained by the owning stream handler, one goroutine only.
func (c *Connection) Frames() <-chan Frame {
	return c.frames
}

// Done is closed when the connection is dismissed (reaper eviction, write
// failure, shutdown). The stream handler selects on it to unwind.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// Close is idempotent; racing dismiss paths (client close vs reaper) are
// expected.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Touch records a successful write or accepted heartbeat.
func (c *Connection) Touch() {
	c.lastSeenUnixNano.Store(time.Now().UnixNano())
}

// LastSeen is the time of the last successful write or heartbeat.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeenUnixNano.Load())
}

// enqueue hands a frame to the connection's drain loop. It never blocks
// while the buffer has room; once full it waits at most enqueueWait before
// reporting the client as slow. Either error means the caller should dismiss
// the connection.
func (c *Connection) enqueue(f Frame) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.frames <- f:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	t := time.NewTimer(enqueueWait)
	defer t.Stop()
	select {
	case c.frames <- f:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	case <-t.C:
		return ErrSlowClient
	}
}

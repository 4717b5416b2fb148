package sse

import (
	"encoding/json"
	"errors"
	"log"
)

var (
	// ErrMissingIdentity means the request reached admission without a
	// verified user/organization pair. The caller must answer 401 and must
	// not open a stream.
	ErrMissingIdentity = errors.New("sse: missing user or organization identity")

	// ErrTooManyStreams means the user already holds the configured maximum
	// of concurrent streams.
	ErrTooManyStreams = errors.New("sse: too many concurrent streams for user")
)

// Admitter validates and registers new connections and is the single
// component allowed to insert into or remove from the registry.
type Admitter struct {
	registry          *Registry
	maxStreamsPerUser int // 0 = unlimited
}

func NewAdmitter(registry *Registry, maxStreamsPerUser int) *Admitter {
	return &Admitter{registry: registry, maxStreamsPerUser: maxStreamsPerUser}
}

// connectedPayload is the stream-open preamble frame body.
type connectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// Admit allocates a connection for a verified identity, queues the
// stream-open preamble, and registers it. The preamble is queued before the
// registry insert: once the open frame can reach the client, the connection
// is already routable, so no event published in between is dropped.
func (a *Admitter) Admit(identity Identity) (*Connection, error) {
	if !identity.Valid() {
		return nil, ErrMissingIdentity
	}
	if a.maxStreamsPerUser > 0 && a.registry.CountByUser(identity.UserID) >= a.maxStreamsPerUser {
		return nil, ErrTooManyStreams
	}

	c := newConnection(identity)

	data, err := json.Marshal(connectedPayload{ConnectionID: c.ID.String()})
	if err != nil {
		return nil, err
	}
	// Freshly created connection with an empty buffer; cannot fail.
	if err := c.enqueue(Frame{Event: "connected", Data: data}); err != nil {
		return nil, err
	}

	a.registry.Insert(c)
	log.Printf("sse: connection %s admitted user=%s org=%s total=%d",
		c.ID, identity.UserID, identity.OrganizationID, a.registry.Count())
	return c, nil
}

// Dismiss closes the connection and removes it from the registry. It is the
// only cancellation signal in the subsystem and is safe to call from racing
// paths: client close, router write failure, and reaper eviction.
func (a *Admitter) Dismiss(c *Connection) {
	if c == nil {
		return
	}
	c.Close()
	a.registry.Remove(c.ID)
}

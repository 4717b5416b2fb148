package sse

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry tracks every live connection plus derived indexes by user and by
// organization. It is the subsystem's only shared mutable state: admission
// inserts, dismissal removes, the router and reaper read snapshots. All of
// that races, so every mutation and read goes through one mutex, held only
// for map work and never across a network write.
type Registry struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]*Connection
	byUser map[uuid.UUID]map[uuid.UUID]struct{}
	byOrg  map[uuid.UUID]map[uuid.UUID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]*Connection),
		byUser: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		byOrg:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// Insert adds the connection to the primary set and both indexes in one
// critical section, so a connection is either fully routable or not present
// at all. A duplicate id is a no-op.
func (r *Registry) Insert(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.ID]; exists {
		log.Printf("sse: registry insert ignored, duplicate connection id %s", c.ID)
		return
	}
	r.conns[c.ID] = c

	users := r.byUser[c.Identity.UserID]
	if users == nil {
		users = make(map[uuid.UUID]struct{})
		r.byUser[c.Identity.UserID] = users
	}
	users[c.ID] = struct{}{}

	orgs := r.byOrg[c.Identity.OrganizationID]
	if orgs == nil {
		orgs = make(map[uuid.UUID]struct{})
		r.byOrg[c.Identity.OrganizationID] = orgs
	}
	orgs[c.ID] = struct{}{}
}

// Remove is idempotent: client close and reaper eviction race, and both call
// it. Empty index buckets are deleted so the maps do not grow with tenant
// churn.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return
	}
	delete(r.conns, id)

	if users, ok := r.byUser[c.Identity.UserID]; ok {
		delete(users, id)
		if len(users) == 0 {
			delete(r.byUser, c.Identity.UserID)
		}
	}
	if orgs, ok := r.byOrg[c.Identity.OrganizationID]; ok {
		delete(orgs, id)
		if len(orgs) == 0 {
			delete(r.byOrg, c.Identity.OrganizationID)
		}
	}
}

// GetByUser returns a snapshot of the user's live connections. The slice is
// the caller's to keep; it never aliases registry internals.
func (r *Registry) GetByUser(userID uuid.UUID) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(r.byUser[userID])
}

// GetByOrganization returns a snapshot of the organization's live connections.
func (r *Registry) GetByOrganization(organizationID uuid.UUID) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(r.byOrg[organizationID])
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// resolveLocked maps an index bucket back to connections. An index id with
// no primary entry would be an invariant violation; it is skipped and logged
// rather than crashing delivery for unrelated connections.
func (r *Registry) resolveLocked(ids map[uuid.UUID]struct{}) []*Connection {
	if len(ids) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(ids))
	for id := range ids {
		c, ok := r.conns[id]
		if !ok {
			log.Printf("sse: registry index references unknown connection %s, skipping", id)
			continue
		}
		out = append(out, c)
	}
	return out
}

// Count is the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByUser is used by admission to enforce the per-user stream cap.
func (r *Registry) CountByUser(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Stats is the registry snapshot served by the stats endpoint.
type Stats struct {
	Timestamp           time.Time `json:"timestamp"`
	TotalConnections    int       `json:"totalConnections"`
	UniqueUsers         int       `json:"uniqueUsers"`
	UniqueOrganizations int       `json:"uniqueOrganizations"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Timestamp:           time.Now().UTC(),
		TotalConnections:    len(r.conns),
		UniqueUsers:         len(r.byUser),
		UniqueOrganizations: len(r.byOrg),
	}
}

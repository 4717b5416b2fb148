package sse

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection(userID, orgID uuid.UUID) *Connection {
	return newConnection(Identity{UserID: userID, OrganizationID: orgID})
}

func TestRegistryInsertAndLookup(t *testing.T) {
	reg := NewRegistry()
	userID := uuid.New()
	orgID := uuid.New()

	c := newTestConnection(userID, orgID)
	reg.Insert(c)

	require.Equal(t, 1, reg.Count())

	byUser := reg.GetByUser(userID)
	require.Len(t, byUser, 1)
	assert.Equal(t, c.ID, byUser[0].ID)

	byOrg := reg.GetByOrganization(orgID)
	require.Len(t, byOrg, 1)
	assert.Equal(t, c.ID, byOrg[0].ID)

	assert.Empty(t, reg.GetByUser(uuid.New()))
	assert.Empty(t, reg.GetByOrganization(uuid.New()))
}

func TestRegistryDuplicateInsertIsNoOp(t *testing.T) {
	reg := NewRegistry()
	c := newTestConnection(uuid.New(), uuid.New())

	reg.Insert(c)
	reg.Insert(c)

	assert.Equal(t, 1, reg.Count())
	assert.Len(t, reg.GetByUser(c.Identity.UserID), 1)
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	c := newTestConnection(uuid.New(), uuid.New())
	reg.Insert(c)

	reg.Remove(c.ID)
	reg.Remove(c.ID) // simulates client-close racing a reaper eviction

	assert.Equal(t, 0, reg.Count())
	assert.Empty(t, reg.GetByUser(c.Identity.UserID))
	assert.Empty(t, reg.GetByOrganization(c.Identity.OrganizationID))
}

func TestRegistryRemoveUnknownIDIsNoOp(t *testing.T) {
	reg := NewRegistry()
	reg.Insert(newTestConnection(uuid.New(), uuid.New()))

	reg.Remove(uuid.New())

	assert.Equal(t, 1, reg.Count())
}

func TestRegistryIndexConsistencyAfterChurn(t *testing.T) {
	reg := NewRegistry()
	userID := uuid.New()
	orgID := uuid.New()

	var conns []*Connection
	for i := 0; i < 10; i++ {
		c := newTestConnection(userID, orgID)
		conns = append(conns, c)
		reg.Insert(c)
	}
	for _, c := range conns[:6] {
		reg.Remove(c.ID)
	}

	require.Equal(t, 4, reg.Count())
	require.Len(t, reg.GetByUser(userID), 4)
	require.Len(t, reg.GetByOrganization(orgID), 4)

	// Every indexed connection must resolve back to the primary set.
	for _, c := range reg.GetByUser(userID) {
		found := false
		for _, all := range reg.All() {
			if all.ID == c.ID {
				found = true
			}
		}
		assert.True(t, found, "indexed connection %s missing from primary set", c.ID)
	}
}

func TestRegistryEmptyBucketsAreDeleted(t *testing.T) {
	reg := NewRegistry()
	c := newTestConnection(uuid.New(), uuid.New())
	reg.Insert(c)
	reg.Remove(c.ID)

	stats := reg.Stats()
	assert.Equal(t, 0, stats.TotalConnections)
	assert.Equal(t, 0, stats.UniqueUsers)
	assert.Equal(t, 0, stats.UniqueOrganizations)
}

func TestRegistryConcurrentChurn(t *testing.T) {
	reg := NewRegistry()
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	orgs := []uuid.UUID{uuid.New(), uuid.New()}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c := newTestConnection(users[i%len(users)], orgs[i%len(orgs)])
				reg.Insert(c)
				reg.GetByUser(c.Identity.UserID)
				reg.GetByOrganization(c.Identity.OrganizationID)
				if i%2 == 0 {
					reg.Remove(c.ID)
					reg.Remove(c.ID)
				}
			}
		}(w)
	}
	wg.Wait()

	// Quiescent point: primary set and indexes must agree exactly.
	total := 0
	for _, u := range users {
		total += len(reg.GetByUser(u))
	}
	assert.Equal(t, reg.Count(), total)

	total = 0
	for _, o := range orgs {
		total += len(reg.GetByOrganization(o))
	}
	assert.Equal(t, reg.Count(), total)
}

func TestRegistryStats(t *testing.T) {
	reg := NewRegistry()
	userA := uuid.New()
	orgA := uuid.New()

	reg.Insert(newTestConnection(userA, orgA))
	reg.Insert(newTestConnection(userA, orgA)) // second tab
	reg.Insert(newTestConnection(uuid.New(), uuid.New()))

	stats := reg.Stats()
	assert.Equal(t, 3, stats.TotalConnections)
	assert.Equal(t, 2, stats.UniqueUsers)
	assert.Equal(t, 2, stats.UniqueOrganizations)
	assert.False(t, stats.Timestamp.IsZero())
	assert.Equal(t, 2, reg.CountByUser(userA))
}

package sse

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaperSendsKeepAlives(t *testing.T) {
	reg := NewRegistry()
	adm := NewAdmitter(reg, 0)
	rp := NewReaper(reg, adm, time.Second, time.Minute)

	c := admitForTest(t, adm, uuid.New(), uuid.New())

	rp.sweep()

	select {
	case f := <-c.Frames():
		assert.True(t, f.KeepAlive())
	default:
		t.Fatal("expected keep-alive frame after sweep")
	}
	assert.Equal(t, 1, reg.Count())
}

func TestReaperEvictsIdleConnection(t *testing.T) {
	reg := NewRegistry()
	adm := NewAdmitter(reg, 0)
	rp := NewReaper(reg, adm, time.Second, 10*time.Millisecond)

	c := admitForTest(t, adm, uuid.New(), uuid.New())
	c.lastSeenUnixNano.Store(time.Now().Add(-time.Minute).UnixNano())

	rp.sweep()

	assert.Equal(t, 0, reg.Count())
	select {
	case <-c.Done():
	default:
		t.Fatal("idle connection should be closed")
	}
	assert.Empty(t, reg.All())
}

func TestReaperEvictsConnectionThatRejectsWrites(t *testing.T) {
	reg := NewRegistry()
	adm := NewAdmitter(reg, 0)
	rp := NewReaper(reg, adm, time.Second, time.Minute)

	c := admitForTest(t, adm, uuid.New(), uuid.New())
	c.Close() // writer gone; enqueue now fails

	rp.sweep()

	assert.Equal(t, 0, reg.Count())
	for _, remaining := range reg.All() {
		assert.NotEqual(t, c.ID, remaining.ID)
	}
}

func TestReaperKeepsActiveConnections(t *testing.T) {
	reg := NewRegistry()
	adm := NewAdmitter(reg, 0)
	rp := NewReaper(reg, adm, time.Second, time.Minute)

	active := admitForTest(t, adm, uuid.New(), uuid.New())
	stale := admitForTest(t, adm, uuid.New(), uuid.New())
	stale.lastSeenUnixNano.Store(time.Now().Add(-2 * time.Minute).UnixNano())

	rp.sweep()

	require.Equal(t, 1, reg.Count())
	assert.Equal(t, active.ID, reg.All()[0].ID)
}

func TestConnectionTouchUpdatesLastSeen(t *testing.T) {
	c := newTestConnection(uuid.New(), uuid.New())
	before := c.LastSeen()
	time.Sleep(2 * time.Millisecond)
	c.Touch()
	assert.True(t, c.LastSeen().After(before))
}

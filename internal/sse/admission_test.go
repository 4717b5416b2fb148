package sse

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitRejectsMissingIdentity(t *testing.T) {
	reg := NewRegistry()
	adm := NewAdmitter(reg, 0)

	cases := []Identity{
		{},
		{UserID: uuid.New()},
		{OrganizationID: uuid.New()},
	}
	for _, ident := range cases {
		c, err := adm.Admit(ident)
		assert.Nil(t, c)
		assert.ErrorIs(t, err, ErrMissingIdentity)
	}
	assert.Equal(t, 0, reg.Count())
}

func TestAdmitQueuesPreambleAndRegisters(t *testing.T) {
	reg := NewRegistry()
	adm := NewAdmitter(reg, 0)

	c, err := adm.Admit(Identity{UserID: uuid.New(), OrganizationID: uuid.New()})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 1, reg.Count())

	// The stream-open frame must be the first thing the drain loop sees.
	select {
	case f := <-c.Frames():
		assert.Equal(t, "connected", f.Event)
		var payload struct {
			ConnectionID string `json:"connectionId"`
		}
		require.NoError(t, json.Unmarshal(f.Data, &payload))
		assert.Equal(t, c.ID.String(), payload.ConnectionID)
	default:
		t.Fatal("expected preamble frame queued at admission")
	}
}

func TestAdmitEnforcesPerUserCap(t *testing.T) {
	reg := NewRegistry()
	adm := NewAdmitter(reg, 2)
	ident := Identity{UserID: uuid.New(), OrganizationID: uuid.New()}

	first, err := adm.Admit(ident)
	require.NoError(t, err)
	_, err = adm.Admit(ident)
	require.NoError(t, err)

	c, err := adm.Admit(ident)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrTooManyStreams)
	assert.Equal(t, 2, reg.Count())

	// Dismissing one stream frees a slot.
	adm.Dismiss(first)
	_, err = adm.Admit(ident)
	assert.NoError(t, err)
}

func TestDismissRemovesAndIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	adm := NewAdmitter(reg, 0)

	c, err := adm.Admit(Identity{UserID: uuid.New(), OrganizationID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, 1, reg.Count())

	adm.Dismiss(c)
	adm.Dismiss(c)

	assert.Equal(t, 0, reg.Count())
	assert.Empty(t, reg.GetByUser(c.Identity.UserID))
	assert.Empty(t, reg.GetByOrganization(c.Identity.OrganizationID))

	select {
	case <-c.Done():
	default:
		t.Fatal("dismissed connection should be closed")
	}

	adm.Dismiss(nil) // must not panic
}

// Package ingest consumes event envelopes emitted by the automation service
// (over Postgres NOTIFY or Redis pub/sub, selected by configuration) and
// publishes them into the SSE router. It is an upstream producer adapter:
// the automation service only emits an envelope after its own state change
// has committed.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"supporthub/internal/sse"
)

// Envelope is the queue/webhook wire format for one domain event. Scope is
// implied by the event type: message events carry user_id, everything else
// carries organization_id, and broadcast overrides both.
type Envelope struct {
	Type           sse.EventType   `json:"type"`
	UserID         string          `json:"user_id,omitempty"`
	OrganizationID string          `json:"organization_id,omitempty"`
	Broadcast      bool            `json:"broadcast,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// ErrUnknownType marks envelopes whose type is not part of the wire
// contract; callers log and skip these (forward compatible, same policy as
// the browser consumer).
type ErrUnknownType struct {
	Type sse.EventType
}

func (e ErrUnknownType) Error() string {
	return fmt.Sprintf("ingest: unknown event type %q", e.Type)
}

// Decode validates an envelope against the wire contract and converts it to
// a routable event.
func Decode(raw []byte) (sse.Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return sse.Event{}, fmt.Errorf("ingest: malformed envelope: %w", err)
	}
	return env.Event()
}

// Event converts the envelope to an sse.Event, enforcing the scope its type
// dictates.
func (env Envelope) Event() (sse.Event, error) {
	if !sse.KnownType(env.Type) {
		return sse.Event{}, ErrUnknownType{Type: env.Type}
	}

	var payload any
	if len(env.Payload) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(env.Payload, &decoded); err != nil {
			return sse.Event{}, fmt.Errorf("ingest: malformed %s payload: %w", env.Type, err)
		}
		payload = decoded
	}

	if env.Broadcast {
		return sse.NewBroadcastEvent(env.Type, payload), nil
	}

	if sse.UserScoped(env.Type) {
		userID, err := uuid.Parse(env.UserID)
		if err != nil {
			return sse.Event{}, fmt.Errorf("ingest: %s requires user_id: %w", env.Type, err)
		}
		return sse.NewUserEvent(env.Type, userID, payload), nil
	}

	orgID, err := uuid.Parse(env.OrganizationID)
	if err != nil {
		return sse.Event{}, fmt.Errorf("ingest: %s requires organization_id: %w", env.Type, err)
	}
	return sse.NewOrganizationEvent(env.Type, orgID, payload), nil
}

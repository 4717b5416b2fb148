// Package sse implements the real-time event fan-out core: a registry of
// live server-sent-event connections indexed by user and organization, a
// router that delivers published events to the matching connections, an
// admission controller gating new streams on a verified identity, and a
// reaper that keeps the registry honest.
package sse

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventMessageUpdate       EventType = "message_update"
	EventNewMessage          EventType = "new_message"
	EventDataSourceUpdate    EventType = "data_source_update"
	EventDocumentUpdate      EventType = "document_update"
	EventOrganizationUpdate  EventType = "organization_update"
	EventMemberRoleUpdated   EventType = "member_role_updated"
	EventMemberStatusUpdated EventType = "member_status_updated"
	EventMemberRemoved       EventType = "member_removed"
	EventIngestionRunUpdate  EventType = "ingestion_run_update"
)

// userScopedTypes lists the event types that route by user id; every other
// known type routes by organization id.
var userScopedTypes = map[EventType]struct{}{
	EventMessageUpdate: {},
	EventNewMessage:    {},
}

// KnownType reports whether t is part of the wire contract. Unknown types
// coming off the queue or webhook are logged and skipped, never published.
func KnownType(t EventType) bool {
	switch t {
	case EventMessageUpdate, EventNewMessage, EventDataSourceUpdate,
		EventDocumentUpdate, EventOrganizationUpdate, EventMemberRoleUpdated,
		EventMemberStatusUpdated, EventMemberRemoved, EventIngestionRunUpdate:
		return true
	default:
		return false
	}
}

// UserScoped reports whether t routes by user id per the wire contract.
func UserScoped(t EventType) bool {
	_, ok := userScopedTypes[t]
	return ok
}

type ScopeKind int

const (
	ScopeUser ScopeKind = iota
	ScopeOrganization
	ScopeBroadcast
)

// Scope is the routing target of a published event: exactly one of a single
// user, a whole organization, or every live connection.
type Scope struct {
	Kind           ScopeKind
	UserID         uuid.UUID
	OrganizationID uuid.UUID
}

func UserScope(userID uuid.UUID) Scope {
	return Scope{Kind: ScopeUser, UserID: userID}
}

func OrganizationScope(organizationID uuid.UUID) Scope {
	return Scope{Kind: ScopeOrganization, OrganizationID: organizationID}
}

func BroadcastScope() Scope {
	return Scope{Kind: ScopeBroadcast}
}

// Event is an immutable value produced once and fanned out read-only to
// every matching connection. Payload must be one of the *Payload structs
// below (or any JSON-marshalable value for forward compatibility).
type Event struct {
	Type      EventType
	Scope     Scope
	Payload   any
	Timestamp time.Time
}

func NewUserEvent(t EventType, userID uuid.UUID, payload any) Event {
	return Event{Type: t, Scope: UserScope(userID), Payload: payload, Timestamp: time.Now().UTC()}
}

func NewOrganizationEvent(t EventType, organizationID uuid.UUID, payload any) Event {
	return Event{Type: t, Scope: OrganizationScope(organizationID), Payload: payload, Timestamp: time.Now().UTC()}
}

func NewBroadcastEvent(t EventType, payload any) Event {
	return Event{Type: t, Scope: BroadcastScope(), Payload: payload, Timestamp: time.Now().UTC()}
}

// wireEnvelope is the single JSON object carried in the data field of every
// event frame. Clients dispatch on Type and must ignore types they do not
// recognize.
type wireEnvelope struct {
	Type      EventType `json:"type"`
	Timestamp string    `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Frame is one server-sent-event frame queued for a connection. The zero
// value is the keep-alive comment frame.
type Frame struct {
	Event string
	Data  []byte
}

// KeepAlive reports whether the frame is the heartbeat comment rather than a
// data-bearing event.
func (f Frame) KeepAlive() bool {
	return f.Event == "" && f.Data == nil
}

// marshalFrame serializes an event once; the router reuses the result for
// every targeted connection.
func marshalFrame(ev Event) (Frame, error) {
	data, err := json.Marshal(wireEnvelope{
		Type:      ev.Type,
		Timestamp: ev.Timestamp.Format(time.RFC3339Nano),
		Payload:   ev.Payload,
	})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: string(ev.Type), Data: data}, nil
}

// Wire payload shapes. Field names (including the mixed camel/snake casing)
// are part of the contract with the browser consumer and the automation
// service; do not normalize them.

type MessageUpdatePayload struct {
	MessageID       string `json:"messageId"`
	Status          string `json:"status"` // pending | processing | completed | failed
	ResponseContent string `json:"responseContent,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
}

type NewMessagePayload struct {
	MessageID      string         `json:"messageId"`
	ConversationID string         `json:"conversationId"`
	Role           string         `json:"role"`
	Message        string         `json:"message"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

type DataSourceUpdatePayload struct {
	ConnectionID          string     `json:"connectionId"`
	Status                string     `json:"status"`
	LastVerificationAt    *time.Time `json:"last_verification_at,omitempty"`
	LastVerificationError string     `json:"last_verification_error,omitempty"`
	LastSyncStatus        string     `json:"last_sync_status,omitempty"`
	LastSyncError         string     `json:"last_sync_error,omitempty"`
}

type DocumentUpdatePayload struct {
	Filename string `json:"filename"`
	Status   string `json:"status"` // processing | processed | failed
}

type OrganizationUpdatePayload struct {
	UpdateType string `json:"updateType"` // name | role | settings
}

type MemberRoleUpdatedPayload struct {
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
	NewRole   string `json:"newRole"`
}

type MemberStatusUpdatedPayload struct {
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
	IsActive  bool   `json:"isActive"`
}

type MemberRemovedPayload struct {
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
}

type IngestionRunUpdatePayload struct {
	IngestionRunID   string `json:"ingestion_run_id"`
	ConnectionID     string `json:"connection_id"`
	Status           string `json:"status"`
	RecordsProcessed *int   `json:"records_processed,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

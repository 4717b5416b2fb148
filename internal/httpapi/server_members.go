package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"supporthub/internal/sse"
)

// Member management routes are representative producers: each one commits
// its own transaction first and only then publishes the organization-scoped
// event. A mutation that fails to commit never reaches the router.

var allowedMemberRoles = map[string]struct{}{
	"owner":  {},
	"admin":  {},
	"member": {},
}

// requireOrgAdmin checks that the authenticated identity targets its own
// organization and holds an admin-capable role there.
func (s server) requireOrgAdmin(w http.ResponseWriter, r *http.Request, identity sse.Identity, orgID uuid.UUID) bool {
	if identity.OrganizationID != orgID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return false
	}

	var role string
	err := s.db.QueryRow(r.Context(), `
		select role from organization_members
		where organization_id = $1 and user_id = $2 and is_active
	`, orgID, identity.UserID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return false
	}
	if err != nil {
		logError(r.Context(), "membership role lookup failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "membership lookup failed"})
		return false
	}
	if role != "owner" && role != "admin" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return false
	}
	return true
}

func memberRouteIDs(w http.ResponseWriter, r *http.Request) (orgID, userID uuid.UUID, ok bool) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization id"})
		return uuid.Nil, uuid.Nil, false
	}
	userID, err = uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, userID, true
}

// memberEmail resolves the target member's email inside the caller's
// transaction so the published payload matches the committed row.
func memberEmail(ctx context.Context, tx pgx.Tx, orgID, userID uuid.UUID) (string, error) {
	var email string
	err := tx.QueryRow(ctx, `
		select u.email
		from organization_members m
		join users u on u.id = m.user_id
		where m.organization_id = $1 and m.user_id = $2
	`, orgID, userID).Scan(&email)
	return email, err
}

func (s server) handleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	orgID, userID, ok := memberRouteIDs(w, r)
	if !ok {
		return
	}
	if !s.requireOrgAdmin(w, r, identity, orgID) {
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if !readJSONLimited(w, r, &req, 4<<10) {
		return
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if _, ok := allowedMemberRoles[role]; !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid role"})
		return
	}

	ctx := r.Context()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "db begin failed"})
		return
	}
	defer tx.Rollback(ctx)

	email, err := memberEmail(ctx, tx, orgID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "member lookup failed"})
		return
	}

	if _, err := tx.Exec(ctx, `
		update organization_members set role = $1, updated_at = now()
		where organization_id = $2 and user_id = $3
	`, role, orgID, userID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "update failed"})
		return
	}
	if err := tx.Commit(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "commit failed"})
		return
	}

	s.publisher.Publish(sse.NewOrganizationEvent(sse.EventMemberRoleUpdated, orgID, sse.MemberRoleUpdatedPayload{
		UserID:    userID.String(),
		UserEmail: email,
		NewRole:   role,
	}))

	writeJSON(w, http.StatusOK, map[string]string{"userId": userID.String(), "role": role})
}

func (s server) handleUpdateMemberStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	orgID, userID, ok := memberRouteIDs(w, r)
	if !ok {
		return
	}
	if !s.requireOrgAdmin(w, r, identity, orgID) {
		return
	}

	var req struct {
		IsActive *bool `json:"isActive"`
	}
	if !readJSONLimited(w, r, &req, 4<<10) {
		return
	}
	if req.IsActive == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "isActive required"})
		return
	}

	ctx := r.Context()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "db begin failed"})
		return
	}
	defer tx.Rollback(ctx)

	email, err := memberEmail(ctx, tx, orgID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "member lookup failed"})
		return
	}

	if _, err := tx.Exec(ctx, `
		update organization_members set is_active = $1, updated_at = now()
		where organization_id = $2 and user_id = $3
	`, *req.IsActive, orgID, userID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "update failed"})
		return
	}
	if err := tx.Commit(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "commit failed"})
		return
	}

	s.publisher.Publish(sse.NewOrganizationEvent(sse.EventMemberStatusUpdated, orgID, sse.MemberStatusUpdatedPayload{
		UserID:    userID.String(),
		UserEmail: email,
		IsActive:  *req.IsActive,
	}))

	writeJSON(w, http.StatusOK, map[string]any{"userId": userID.String(), "isActive": *req.IsActive})
}

func (s server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	orgID, userID, ok := memberRouteIDs(w, r)
	if !ok {
		return
	}
	if !s.requireOrgAdmin(w, r, identity, orgID) {
		return
	}
	if userID == identity.UserID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot remove yourself"})
		return
	}

	ctx := r.Context()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "db begin failed"})
		return
	}
	defer tx.Rollback(ctx)

	email, err := memberEmail(ctx, tx, orgID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "member lookup failed"})
		return
	}

	if _, err := tx.Exec(ctx, `
		delete from organization_members
		where organization_id = $1 and user_id = $2
	`, orgID, userID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delete failed"})
		return
	}
	if err := tx.Commit(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "commit failed"})
		return
	}

	s.publisher.Publish(sse.NewOrganizationEvent(sse.EventMemberRemoved, orgID, sse.MemberRemovedPayload{
		UserID:    userID.String(),
		UserEmail: email,
	}))

	writeJSON(w, http.StatusOK, map[string]string{"userId": userID.String()})
}

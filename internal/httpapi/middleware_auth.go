package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"

	"supporthub/internal/keys"
	"supporthub/internal/sse"
)

// sessionCookie is where the web client carries its session token; API
// clients may use a bearer header instead.
const sessionCookie = "supporthub_session"

type ctxKey string

const ctxIdentity ctxKey = "identity"

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return bearerToken(r)
}

// sessionAuthMiddleware resolves the session token to a verified
// (user, organization) identity and stores it in the request context. The
// membership join guarantees the pair is an active tenant relationship, not
// just a live session.
func (s server) sessionAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing session"})
			return
		}
		hash := keys.HashSessionToken(s.pepper, token)

		var identity sse.Identity
		err := s.db.QueryRow(r.Context(), `
			select s.user_id, s.organization_id
			from sessions s
			join organization_members m
			  on m.user_id = s.user_id and m.organization_id = s.organization_id
			where s.token_hash = $1 and s.expires_at > now() and m.is_active
		`, hash).Scan(&identity.UserID, &identity.OrganizationID)
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid session"})
			return
		}
		if err != nil {
			logError(r.Context(), "session auth lookup failed", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "auth lookup failed"})
			return
		}

		ctx := context.WithValue(r.Context(), ctxIdentity, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromCtx(ctx context.Context) (sse.Identity, bool) {
	identity, ok := ctx.Value(ctxIdentity).(sse.Identity)
	return identity, ok && identity.Valid()
}

// automationAuthMiddleware guards the webhook ingest route with the shared
// token the automation service is provisioned with.
func (s server) automationAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.webhookToken == "" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "webhook ingest disabled"})
			return
		}
		token := bearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.webhookToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

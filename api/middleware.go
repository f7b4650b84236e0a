package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmcleod/recoverydesk/identity"
)

type contextKey int

const accountKey contextKey = iota

// AuthMiddleware authenticates the bearer access token, checks that its
// session has not been revoked, and stores the account on the request
// context.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := a.parseToken(raw, tokenTypeAccess)
		if err != nil {
			writeError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
			return
		}
		session, ok := a.sessions.Get(claims.ID)
		if !ok || session.UserID != claims.Subject {
			writeError(w, http.StatusUnauthorized, "session expired or revoked")
			return
		}
		rec, err := a.loadAccount(claims.Subject)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "session expired or revoked")
			return
		}
		if rec.Status == identity.StatusSuspended {
			a.sessions.Delete(claims.ID)
			writeError(w, http.StatusForbidden, "account suspended")
			return
		}

		session.LastAccessedAt = a.now()
		a.sessions.Put(claims.ID, session)

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey, rec)))
	})
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

func accountFromContext(ctx context.Context) *accountRecord {
	rec, _ := ctx.Value(accountKey).(*accountRecord)
	return rec
}

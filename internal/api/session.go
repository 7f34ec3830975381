package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pkfitzVT/event-stock-response/pkg/eventstudy"
)

const (
	sessionCookie = "wizard_session"
	sessionHeader = "X-Session-ID"
	userHeader    = "X-User"
	anonymousUser = "anonymous"
)

type sessionKey struct{}

// sessionMiddleware resolves the wizard session id from the X-Session-ID
// header or the wizard_session cookie, issuing a new cookie when neither is
// present. The id is echoed back in X-Session-ID.
func sessionMiddleware(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(sessionHeader))
			if id == "" {
				if c, err := r.Cookie(sessionCookie); err == nil {
					id = strings.TrimSpace(c.Value)
				}
			}
			if id == "" || len(id) > eventstudy.SessionIDMaxLen {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookie,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			w.Header().Set(sessionHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, id)))
		})
	}
}

func sessionID(r *http.Request) string {
	id, _ := r.Context().Value(sessionKey{}).(string)
	return id
}

// author identifies who created an analysis. There is no authentication;
// the X-User header is trusted as given.
func author(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get(userHeader)); user != "" {
		return user
	}
	return anonymousUser
}

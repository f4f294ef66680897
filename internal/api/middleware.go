package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/safar/solestore/internal/models"
	"github.com/safar/solestore/internal/store"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserHeader carries the caller's id, set by the gateway in front of this
// service.
const UserHeader = "X-User-ID"

// RequireUser rejects requests without a valid X-User-ID and stores the id in
// the request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserHeader)
		if raw == "" {
			respondError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}

		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID < 1 {
			respondError(w, http.StatusBadRequest, "invalid "+UserHeader+" header")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey).(int64)
	return userID, ok
}

// requireAdmin must run after RequireUser.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		user, err := store.GetUser(r.Context(), s.db, userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if user.Role != models.RoleAdmin {
			respondError(w, http.StatusForbidden, "admin access required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// currentUser returns the caller id set by RequireUser.
func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
	}
	return userID, ok
}

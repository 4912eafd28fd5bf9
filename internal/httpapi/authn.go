package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Waesta/Wapos-sub010/internal/auth"
	"github.com/Waesta/Wapos-sub010/internal/perm"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "invalid token")
			} else {
				writeError(w, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithActor(r.Context(), auth.Actor{
			UserID: claims.Subject,
			Role:   claims.Role,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	if !strings.HasPrefix(header, bearer) {
		return "", errors.New("authorization header must use Bearer scheme")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearer))
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}

// actorRole feeds the engine's role bypass from the verified token claim.
// It only ever answers for the authenticated actor; resolving another user's
// role stays with the store.
func actorRole(ctx context.Context, userID string) string {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok || actor.UserID != userID {
		return ""
	}
	return actor.Role
}

// requireManager gates administrative endpoints behind the caller's own
// staff.manage_permissions check. The engine does not self-authorize its
// mutation API; this is where that responsibility lands.
func (a *API) requireManager(w http.ResponseWriter, r *http.Request, e *perm.Engine) (auth.Actor, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return auth.Actor{}, false
	}
	if err := e.RequirePermission(r.Context(), actor.UserID,
		string(perm.ModuleStaff), string(perm.ActionManagePermissions), nil); err != nil {
		writeError(w, http.StatusForbidden, "access denied")
		return auth.Actor{}, false
	}
	return actor, true
}

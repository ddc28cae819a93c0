package httpapi

import (
	"net/http"
	"strings"
	"time"

	"kiln/cmd/internal/auth"
)

// TokenVerifier turns a bearer token into claims.
type TokenVerifier interface {
	Verify(token string, now time.Time) (auth.Claims, error)
}

type gate uint8

const (
	anyUser gate = iota
	staffOnly
	adminOnly
)

func (g gate) admits(p auth.Principal) bool {
	switch g {
	case staffOnly:
		return p.CanManageOrders()
	case adminOnly:
		return p.IsAdmin()
	default:
		return true
	}
}

// authed wraps next so it only runs for a verified principal the gate admits.
func (h *Handler) authed(g gate, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.tokens.Verify(token, time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid token")
			return
		}
		if !g.admits(claims.Principal) {
			h.log.Info("http.forbidden", "user_id", claims.UserID, "role", claims.Role, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, codeForbidden, "insufficient role")
			return
		}
		next(w, r.WithContext(auth.WithPrincipal(r.Context(), claims.Principal)))
	}
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

// requestToken reads the bearer token. Browsers cannot set headers on a websocket handshake, so
// upgrades may pass it as the access_token query parameter instead.
func requestToken(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

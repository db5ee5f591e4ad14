package admin

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
)

// requireToken rejects requests without the admin bearer token: 401 when
// no token is presented, 403 when it is wrong
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "Authorization token required")
			return
		}
		if !s.validToken(token) {
			s.logger.WithField("remote", r.RemoteAddr).Warn("Rejected invalid admin token")
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusForbidden, "Invalid authorization token")
			return
		}
		next(w, r)
	}
}

func (s *Server) validToken(token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) == 1
}

// checkOrigin admits WebSocket upgrades from the configured origins.
// Clients that send no Origin header are not browsers and are admitted.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return false
}

func (s *Server) handleAuthInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"auth_required":         true,
		"auth_method":           "Bearer token",
		"websocket_auth":        "Query parameter 'token' or auth message",
		"default_token_warning": "Change ADMIN_TOKEN environment variable in production",
	})
}

func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":   true,
		"message": "Token is valid",
	})
}

package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errUnauthenticated = errors.New("unauthenticated")

// clientPrincipal is the identity the hosting platform injects, base64 JSON
// in the principal header.
type clientPrincipal struct {
	IdentityProvider string   `json:"identityProvider"`
	UserID           string   `json:"userId"`
	UserDetails      string   `json:"userDetails"`
	UserRoles        []string `json:"userRoles"`
}

// identify resolves the caller. The principal header wins; a bearer token is
// only consulted when the header is absent and JWT validation is configured.
func (h *Handler) identify(r *http.Request) (string, error) {
	if raw := strings.TrimSpace(r.Header.Get(h.cfg.PrincipalHeader)); raw != "" {
		return decodePrincipal(raw)
	}
	if h.cfg.JWTEnabled() {
		if token, err := parseBearer(r.Header.Get("Authorization")); err == nil {
			return h.identityFromJWT(token)
		}
	}
	return "", errUnauthenticated
}

func decodePrincipal(raw string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", errUnauthenticated
	}
	var p clientPrincipal
	if err := json.Unmarshal(decoded, &p); err != nil {
		return "", errUnauthenticated
	}
	if id := strings.TrimSpace(p.UserDetails); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(p.UserID); id != "" {
		return id, nil
	}
	return "", errUnauthenticated
}

func parseBearer(value string) (string, error) {
	if value == "" {
		return "", errors.New("missing auth")
	}
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid auth")
	}
	if parts[1] == "" {
		return "", errors.New("missing token")
	}
	return parts[1], nil
}

func (h *Handler) identityFromJWT(token string) (string, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(h.cfg.JwtSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(h.cfg.JwtIssuer),
		jwt.WithAudience(h.cfg.JwtAudience),
	)
	if err != nil || parsed == nil || !parsed.Valid {
		return "", errUnauthenticated
	}
	for _, key := range []string{"preferred_username", "email", "sub"} {
		if v, ok := claims[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", errUnauthenticated
}

package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"custodia/internal/identity"
	id "custodia/pkg/domain"
)

// IdentityClaims is the token shape issued by the external identity layer.
// The ledger consumes the verified identity; it never issues tokens.
type IdentityClaims struct {
	Organization string `json:"org"`
	Role         string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity extracts the caller identity from a bearer token signed by the
// identity layer. With an empty signing key the middleware falls back to the
// X-Actor-* development headers. Requests without any identity are rejected;
// permission evaluation happens later, per operation.
func Identity(signingKey string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var actor identity.Context

			if signingKey == "" {
				actor = headerIdentity(r)
			} else {
				token := bearerToken(r)
				if token == "" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				claims, err := parseIdentityToken(token, signingKey)
				if err != nil {
					log.WarnContext(r.Context(), "identity token rejected", "error", err)
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				actor = identity.Context{
					ActorID:      id.ActorID(claims.Subject),
					Organization: claims.Organization,
				}
				if claims.Role != "" {
					role := claims.Role
					actor.DeclaredRole = &role
				}
			}

			if actor.ActorID.IsEmpty() || actor.Organization == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func parseIdentityToken(token, signingKey string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(signingKey), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return claims, nil
}

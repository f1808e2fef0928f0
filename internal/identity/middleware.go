// internal/identity/middleware.go
// Bearer token verification and identity resolution at the HTTP boundary

package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/skillsphere/messaging-service/internal/common/utils"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// TokenClaims are the claims this service reads off a verified credential
type TokenClaims struct {
	Subject     string
	DisplayName string
	Roles       []string
}

// Verifier validates bearer credentials and resolves the caller identity
type Verifier struct {
	secret   string
	resolver *Resolver
}

// NewVerifier creates a verifier for HS256-signed tokens
func NewVerifier(secret string, resolver *Resolver) *Verifier {
	return &Verifier{secret: secret, resolver: resolver}
}

// VerifyToken validates a raw token and extracts its claims
func (v *Verifier) VerifyToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	subject := getStringClaim(claims, "sub")
	if subject == "" {
		return nil, ErrInvalidToken
	}

	return &TokenClaims{
		Subject:     subject,
		DisplayName: getStringClaim(claims, "name"),
		Roles:       getStringSliceClaim(claims, "roles"),
	}, nil
}

// Authenticate verifies a token and resolves the full caller identity.
// Resolution failures are authentication failures: the operation is
// rejected, never continued with a null identity.
func (v *Verifier) Authenticate(ctx context.Context, tokenString string) (*Identity, error) {
	claims, err := v.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}

	internalID, err := v.resolver.Resolve(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	roles := make(map[Role]bool, len(claims.Roles))
	for _, r := range claims.Roles {
		roles[Role(r)] = true
	}
	if len(roles) == 0 {
		roles[RoleUser] = true
	}

	return &Identity{
		InternalID:      internalID,
		ExternalSubject: claims.Subject,
		DisplayName:     claims.DisplayName,
		Roles:           roles,
	}, nil
}

// Middleware protects HTTP routes
type Middleware struct {
	verifier *Verifier
}

// NewMiddleware creates an authentication middleware
func NewMiddleware(verifier *Verifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// Authenticate verifies the bearer token and adds the resolved identity
// to the request context
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractToken(r)
		if token == "" {
			utils.ErrorResponse(w, "Missing or invalid authorization header", http.StatusUnauthorized)
			return
		}

		id, err := m.verifier.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrIdentityUnavailable) {
				utils.ErrorResponse(w, "Identity service unavailable", http.StatusServiceUnavailable)
				return
			}
			utils.ErrorResponse(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
	})
}

// ExtractToken extracts the bearer token from the Authorization header,
// falling back to the access_token query parameter for WebSocket upgrades
func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}

	return r.URL.Query().Get("access_token")
}

// Helper functions to safely extract claims

func getStringClaim(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}

func getStringSliceClaim(claims jwt.MapClaims, key string) []string {
	raw, ok := claims[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

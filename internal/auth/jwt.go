package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carried in the access token. AccountID identifies the quota
// account everything in the pipeline is billed against.
type Claims struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

type contextKey string

const claimsKey contextKey = "claims"

// ErrNoClaims is returned when a request context carries no verified token.
var ErrNoClaims = errors.New("no authentication claims in context")

// JWT verifies and issues bearer tokens.
type JWT struct {
	secret []byte
}

// NewJWT creates the verifier. The secret must be non-empty.
func NewJWT(secret string) (*JWT, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is not configured")
	}
	return &JWT{secret: []byte(secret)}, nil
}

// GenerateToken issues a signed token for an account. Used by tests and
// provisioning tooling; login itself lives outside this service.
func (j *JWT) GenerateToken(accountID uuid.UUID, email, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		AccountID: accountID.String(),
		Email:     email,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// Middleware verifies the Authorization bearer token on /api/ routes and
// stores the claims in the request context. /health passes through.
func (j *JWT) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return j.secret, nil
		})
		if err != nil || !token.Valid {
			http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext retrieves the verified claims.
func ClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	if !ok || claims == nil {
		return nil, ErrNoClaims
	}
	return claims, nil
}

// AccountIDFromContext parses the account id out of the verified claims.
func AccountIDFromContext(ctx context.Context) (uuid.UUID, error) {
	claims, err := ClaimsFromContext(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	accountID, err := uuid.Parse(claims.AccountID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid account id in token: %w", err)
	}
	return accountID, nil
}

// WithClaims injects claims into a context. Test hook.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

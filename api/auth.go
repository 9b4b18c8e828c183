package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/referral-ledger/generic"
)

// ServiceKeyHeader carries the shared secret of the settlement trigger.
const ServiceKeyHeader = "X-Service-Key"

// Claims are the bearer token claims. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator issues and checks HS256 bearer tokens and the service key.
type Authenticator struct {
	Secret     []byte
	Issuer     string
	TTL        time.Duration
	ServiceKey string
	Now        func() time.Time
}

// NewAuthenticator returns an Authenticator. An empty serviceKey rejects
// every service call.
func NewAuthenticator(secret, issuer string, ttl time.Duration, serviceKey string) *Authenticator {
	return &Authenticator{
		Secret:     []byte(secret),
		Issuer:     issuer,
		TTL:        ttl,
		ServiceKey: serviceKey,
		Now:        time.Now,
	}
}

// Mint signs a token for userID.
func (a *Authenticator) Mint(userID generic.UserID) (string, error) {
	now := a.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			Issuer:    a.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

// Parse validates a token and returns its subject.
func (a *Authenticator) Parse(tokenString string) (generic.UserID, error) {
	claims := &Claims{}
	key := func(*jwt.Token) (any, error) { return a.Secret, nil }
	token, err := jwt.ParseWithClaims(tokenString, claims, key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.Issuer),
		jwt.WithTimeFunc(a.Now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", generic.ErrUnauthenticated
	}
	return generic.UserID(claims.Subject), nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type ctxKey struct{}

// withUser stores the authenticated user id on the request context.
func withUser(ctx context.Context, id generic.UserID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// UserFrom returns the authenticated user id, if any.
func UserFrom(ctx context.Context) (generic.UserID, bool) {
	id, ok := ctx.Value(ctxKey{}).(generic.UserID)
	return id, ok && id != ""
}

// RequireUser rejects requests without a valid bearer token.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			h.writeError(w, r, errors.Join(errors.New("missing bearer token"), generic.ErrUnauthenticated))
			return
		}
		id, err := h.Auth.Parse(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), id)))
	})
}

// RequireAdmin must run after RequireUser.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := UserFrom(r.Context())
		if err := h.Rewards.CheckAdmin(r.Context(), id); err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireService checks the X-Service-Key header in constant time.
func (h *Handler) RequireService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(ServiceKeyHeader)
		want := h.Auth.ServiceKey
		if want == "" || subtle.ConstantTimeCompare([]byte(key), []byte(want)) != 1 {
			h.writeError(w, r, errors.Join(errors.New("invalid service key"), generic.ErrUnauthenticated))
			return
		}
		next.ServeHTTP(w, r)
	})
}

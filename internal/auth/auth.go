// Package auth verifies bearer JWTs minted by the identity service and
// carries the caller's identity through the request context.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/breakfastfactory/commerce/internal/apperr"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleOutlet Role = "outlet"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleOutlet || r == RoleAdmin }

type contextKey string

const identityKey contextKey = "identity"

const bearerSchema = "Bearer "

type Claims struct {
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	OutletID string `json:"outlet_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	UserID   string
	Role     Role
	OutletID string
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Room is the real-time room the caller joins: its own account id.
func (i Identity) Room() string { return i.UserID }

// CanActForOutlet reports whether the caller may read or change outletID's data.
func (i Identity) CanActForOutlet(outletID string) bool {
	return i.IsAdmin() || (i.Role == RoleOutlet && i.OutletID != "" && i.OutletID == outletID)
}

// CanActForUser reports whether the caller is userID or an admin.
func (i Identity) CanActForUser(userID string) bool {
	return i.IsAdmin() || i.UserID == userID
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier { return &Verifier{secret: []byte(secret)} }

func (v *Verifier) Parse(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, apperr.Auth("invalid or expired token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" || !claims.Role.Valid() {
		return Identity{}, apperr.Auth("invalid token claims")
	}
	if claims.Role == RoleOutlet && claims.OutletID == "" {
		return Identity{}, apperr.Auth("outlet token without outlet id")
	}
	return Identity{UserID: claims.UserID, Role: claims.Role, OutletID: claims.OutletID}, nil
}

// Middleware requires a valid token in the Authorization header.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return v.middleware(next, false)
}

// StreamMiddleware also accepts ?token=, since EventSource cannot set headers.
func (v *Verifier) StreamMiddleware(next http.Handler) http.Handler {
	return v.middleware(next, true)
}

func (v *Verifier) middleware(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractToken(r, allowQuery)
		if tokenString == "" {
			writeError(w, apperr.Auth("missing bearer token"))
			return
		}
		id, err := v.Parse(tokenString)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireRole must run after Middleware.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				writeError(w, apperr.Auth("not authenticated"))
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, apperr.Forbidden("role "+string(id.Role)+" may not access this resource"))
		})
	}
}

func extractToken(r *http.Request, allowQuery bool) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerSchema) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerSchema))
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// Sign mints a token for id. The API never issues tokens; this exists for
// local tooling and tests.
func Sign(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   id.UserID,
		Role:     id.Role,
		OutletID: id.OutletID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"message": apperr.Message(err)})
}

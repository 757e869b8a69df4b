package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const identityKey contextKey = "caller_identity"

// Identity is the resolved, trusted caller identity placed in the request
// context by the JWT middleware. The access guard assumes it is present.
type Identity struct {
	UserID        uuid.UUID
	Email         string
	Role          string
	EntityID      uuid.UUID
	EntityModel   string
	WalletAddress string
}

// Claims is the JWT payload issued at login.
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	Role          string `json:"role"`
	EntityID      string `json:"entity_id,omitempty"`
	EntityModel   string `json:"entity_model,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

// TokenIssuer signs and verifies the HS256 tokens used by the API.
type TokenIssuer struct {
	secret  []byte
	expires time.Duration
}

func NewTokenIssuer(secret string, expires time.Duration) *TokenIssuer {
	if expires <= 0 {
		expires = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), expires: expires}
}

func (t *TokenIssuer) Issue(id *Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expires)),
		},
		Email:         id.Email,
		Role:          id.Role,
		EntityModel:   id.EntityModel,
		WalletAddress: id.WalletAddress,
	}
	if id.EntityID != uuid.Nil {
		claims.EntityID = id.EntityID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *TokenIssuer) Verify(tokenString string) (*Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("parse subject: %w", err)
	}
	id := &Identity{
		UserID:        userID,
		Email:         claims.Email,
		Role:          claims.Role,
		EntityModel:   claims.EntityModel,
		WalletAddress: claims.WalletAddress,
	}
	if claims.EntityID != "" {
		eid, err := uuid.Parse(claims.EntityID)
		if err != nil {
			return nil, fmt.Errorf("parse entity id: %w", err)
		}
		id.EntityID = eid
	}
	return id, nil
}

// Middleware verifies the bearer token and stores the caller identity in the
// request context.
func Middleware(issuer *TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "access token required")
			}

			id, err := issuer.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			ctx := context.WithValue(c.Request().Context(), identityKey, id)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// IdentityFromContext returns the caller identity, or nil when the request
// was not authenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// ContextWithIdentity is used by tests to inject a caller identity.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

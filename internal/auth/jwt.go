package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWT failures. The HTTP layer maps these to 401 with a Bearer challenge.
var (
	ErrTokenInvalid = errors.New("auth: token invalid")
	ErrTokenRevoked = errors.New("auth: token revoked")
)

// Claims is the dashboard token payload. jti keys the revocation list.
type Claims struct {
	UserID   string `json:"user"`
	TenantID string `json:"tenant"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

// JWTManager issues and verifies HMAC dashboard tokens.
type JWTManager struct {
	secret    []byte
	expiry    time.Duration
	blocklist *Blocklist
}

// NewJWTManager wires token issuance against the revocation list.
func NewJWTManager(secret string, expireMinutes int, blocklist *Blocklist) *JWTManager {
	return &JWTManager{
		secret:    []byte(secret),
		expiry:    time.Duration(expireMinutes) * time.Minute,
		blocklist: blocklist,
	}
}

// Issue mints an access token for the user.
func (m *JWTManager) Issue(userID, tenantID, email, role string) (token string, jti string, err error) {
	now := time.Now().UTC()
	jti = uuid.NewString()
	claims := Claims{
		UserID:   userID,
		TenantID: tenantID,
		Email:    email,
		Role:     role,
		Type:     "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			ID:        jti,
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign token: %w", err)
	}
	return token, jti, nil
}

// Verify checks signature, expiry, the access type claim and revocation.
// Blocklist lookup fails open on cache error: availability over security
// for the dashboard role.
func (m *JWTManager) Verify(ctx context.Context, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Type != "access" {
		return nil, ErrTokenInvalid
	}
	revoked, err := m.blocklist.IsRevoked(ctx, claims.ID)
	if err == nil && revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke blocklists the token's jti for its remaining lifetime.
func (m *JWTManager) Revoke(ctx context.Context, claims *Claims) error {
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		return nil
	}
	return m.blocklist.Revoke(ctx, claims.ID, remaining)
}

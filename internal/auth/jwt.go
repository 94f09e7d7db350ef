package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager issues and validates locally signed HS256 tokens.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// Claims are the custom JWT claims for a user session. The subject is the UID.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTManager creates a JWT manager with the given secret and token duration.
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// Generate creates a signed token for p.
func (m *JWTManager) Generate(p Principal) (string, error) {
	if p.UID == "" {
		return "", fmt.Errorf("cannot issue token without uid")
	}
	now := time.Now()
	claims := &Claims{
		Email: p.Email,
		Name:  p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Validate parses and validates a token, returning its claims.
func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Verify implements Verifier.
func (m *JWTManager) Verify(_ context.Context, token string) (Principal, error) {
	claims, err := m.Validate(token)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UID: claims.Subject, Email: claims.Email, DisplayName: claims.Name}, nil
}

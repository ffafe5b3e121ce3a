package service

import (
	"errors"
	"fmt"
	"time"

	"agent-payment-gateway/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// scopedClaims are carried by every gateway token.
type scopedClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// JWTTokenService implements ports.TokenService using HS256 JWT.
type JWTTokenService struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewJWTTokenService creates a new JWT token service.
func NewJWTTokenService(secret string, expiry time.Duration, issuer string) *JWTTokenService {
	return &JWTTokenService{
		secret: []byte(secret),
		expiry: expiry,
		issuer: issuer,
	}
}

// Generate creates a signed token for scope. For approver tokens subject is
// recorded as the resolver of every decision made with the token.
func (s *JWTTokenService) Generate(subject, scope string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("subject is required")
	}
	if !knownScope(scope) {
		return "", time.Time{}, fmt.Errorf("unknown scope %q", scope)
	}
	now := time.Now()
	expiresAt := now.Add(s.expiry)

	claims := scopedClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Validate parses and validates a token, returning the claims. Callers check
// the scope.
func (s *JWTTokenService) Validate(tokenString string) (*ports.TokenClaims, error) {
	claims := &scopedClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("missing subject claim")
	}
	if !knownScope(claims.Scope) {
		return nil, fmt.Errorf("unknown token scope %q", claims.Scope)
	}

	return &ports.TokenClaims{Subject: claims.Subject, Scope: claims.Scope}, nil
}

func knownScope(scope string) bool {
	return scope == ports.ScopeApprovals || scope == ports.ScopePayments
}

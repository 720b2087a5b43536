package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims represents the JWT session token claims
type TokenClaims struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email,omitempty"`
	IsAnonymous bool   `json:"is_anonymous"`
	jwt.RegisteredClaims
}

// TokenService handles JWT session token operations
type TokenService struct {
	secretKey      []byte
	issuer         string
	expiryDuration time.Duration
}

// NewTokenService creates a new token service
func NewTokenService(secretKey string, issuer string, expiryDuration time.Duration) *TokenService {
	return &TokenService{
		secretKey:      []byte(secretKey),
		issuer:         issuer,
		expiryDuration: expiryDuration,
	}
}

// Generate issues a new session token for the given session
func (s *TokenService) Generate(session *Session) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		UserID:      session.UserID.String(),
		Email:       session.Email,
		IsAnonymous: session.IsAnonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   session.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiryDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// Validate validates a session token and returns the claims
func (s *TokenService) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, jwt.ErrTokenMalformed
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}

// Package auth provides JWT token generation and validation for the API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/photosync-io/photosync/pkg/models"
)

// Common errors for JWT operations.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrTokenSigningFailed  = errors.New("failed to sign token")
	ErrInvalidSecretLength = errors.New("JWT secret must be at least 32 characters")
)

// Claims carries the identity a token grants: the user plus the device
// the token was minted for. Every authenticated request must present the
// same device uuid it was issued to.
type Claims struct {
	jwt.RegisteredClaims

	UserID     uint   `json:"user_id"`
	UserUUID   string `json:"user_uuid"`
	Email      string `json:"email"`
	DeviceUUID string `json:"device_uuid"`
}

// JWTConfig holds configuration for JWT token generation.
type JWTConfig struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	Secret string

	// Issuer is the token issuer claim. Default: "photosync".
	Issuer string

	// TokenDuration is the token lifetime. Default: 30 days.
	TokenDuration time.Duration
}

// JWTService handles JWT token generation and validation.
type JWTService struct {
	config JWTConfig
}

// Token is an issued bearer token plus its expiry.
type Token struct {
	AccessToken string    `json:"token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewJWTService creates a new JWT service with the given configuration.
func NewJWTService(config JWTConfig) (*JWTService, error) {
	if len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if config.Issuer == "" {
		config.Issuer = "photosync"
	}
	if config.TokenDuration == 0 {
		config.TokenDuration = 30 * 24 * time.Hour
	}
	return &JWTService{config: config}, nil
}

// GenerateToken creates a token binding user identity to one device.
func (s *JWTService) GenerateToken(user *models.User, deviceUUID string) (*Token, error) {
	now := time.Now()
	expiry := now.Add(s.config.TokenDuration)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
		UserID:     user.ID,
		UserUUID:   user.UserUUID,
		Email:      user.Email,
		DeviceUUID: deviceUUID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return nil, ErrTokenSigningFailed
	}

	return &Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expiry}, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenDuration returns the configured token lifetime.
func (s *JWTService) TokenDuration() time.Duration {
	return s.config.TokenDuration
}

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/photosync-io/photosync/pkg/models"
)

const testSecret = "test-secret-key-at-least-32-chars!!"

func testUser() *models.User {
	return &models.User{
		ID:       7,
		UserUUID: "2c2e4a2e-9f6f-4b43-9f0a-000000000001",
		Email:    "user@example.com",
	}
}

func TestNewJWTServiceRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTService(JWTConfig{Secret: "short"}); !errors.Is(err, ErrInvalidSecretLength) {
		t.Errorf("err = %v, want ErrInvalidSecretLength", err)
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	if err != nil {
		t.Fatal(err)
	}

	tok, err := svc.GenerateToken(testUser(), "device-uuid-1")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if tok.TokenType != "Bearer" {
		t.Errorf("token type = %q", tok.TokenType)
	}
	if until := time.Until(tok.ExpiresAt); until < 29*24*time.Hour {
		t.Errorf("expiry too soon: %v", until)
	}

	claims, err := svc.ValidateToken(tok.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 7 || claims.Email != "user@example.com" || claims.DeviceUUID != "device-uuid-1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc1, _ := NewJWTService(JWTConfig{Secret: testSecret})
	svc2, _ := NewJWTService(JWTConfig{Secret: "another-secret-key-32-characters!!!"})

	tok, err := svc1.GenerateToken(testUser(), "dev")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc2.ValidateToken(tok.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc, _ := NewJWTService(JWTConfig{Secret: testSecret, TokenDuration: -time.Minute})
	tok, err := svc.GenerateToken(testUser(), "dev")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ValidateToken(tok.AccessToken); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("err = %v, want ErrExpiredToken", err)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc, _ := NewJWTService(JWTConfig{Secret: testSecret})
	if _, err := svc.ValidateToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

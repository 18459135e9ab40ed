package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/photosync-io/photosync/pkg/models"
)

// NormalizeEmail lowercases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a new user with a fresh user uuid.
// The email must already be normalized; the password hash is a bcrypt verifier.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	user := &models.User{
		UserUUID:     uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, models.ErrDuplicateEmail
		}
		return nil, err
	}
	return user, nil
}

// GetUserByEmail looks up a user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrUserNotFound)
	}
	return &user, nil
}

// GetUserByID looks up a user by integer id.
func (s *Store) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrUserNotFound)
	}
	return &user, nil
}

// ListUsers returns every registered user. Used by the background workers.
func (s *Store) ListUsers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	if err := s.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// ValidateCredentials verifies a password against the stored bcrypt hash.
// Returns ErrInvalidCredentials on unknown email or wrong password so the
// two cases are indistinguishable to callers.
func (s *Store) ValidateCredentials(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, models.ErrInvalidCredentials
	}
	return user, nil
}

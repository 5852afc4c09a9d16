package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/flowdrop/flowdrop/pkg/protocol"
)

// GetUserByName fetches a user by username.
func (s *Store) GetUserByName(ctx context.Context, username string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, convertNotFoundError(err, ErrUserNotFound)
	}
	return &user, nil
}

// ListUsers returns every account ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	if err := s.db.WithContext(ctx).Order("username").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser inserts a new account. The password is bcrypt-hashed, a
// session token is minted, and the default client config is attached.
func (s *Store) CreateUser(ctx context.Context, username, password string, usertype protocol.UserType) (*User, error) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	token, err := MintToken(username)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(passwordHash),
		Token:        token,
		UserType:     string(usertype),
		CreatedAt:    time.Now(),
	}
	if err := user.SetUserConfig(protocol.DefaultUserConfig()); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}
	return user, nil
}

// EnsureMaster creates the master account from a pre-hashed password if
// it does not exist yet. Returns true when the account was created.
func (s *Store) EnsureMaster(ctx context.Context, username, passwordHash string) (bool, error) {
	_, err := s.GetUserByName(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return false, err
	}

	token, err := MintToken(username)
	if err != nil {
		return false, err
	}

	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		Token:        token,
		UserType:     string(protocol.UserTypeMaster),
		CreatedAt:    time.Now(),
	}
	if err := user.SetUserConfig(protocol.DefaultUserConfig()); err != nil {
		return false, err
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteUser removes an account by username.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	result := s.db.WithContext(ctx).Where("username = ?", username).Delete(&User{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateUserConfig persists the client configuration for a user.
func (s *Store) UpdateUserConfig(ctx context.Context, username string, cfg protocol.UserConfig) error {
	var scratch User
	if err := scratch.SetUserConfig(cfg); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("username = ?", username).
		Update("config", scratch.Config)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateLastLogin records the user's most recent login time.
func (s *Store) UpdateLastLogin(ctx context.Context, username string, timestamp time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("username = ?", username).
		Update("last_login", timestamp)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateUserType changes the account's rank.
func (s *Store) UpdateUserType(ctx context.Context, username string, usertype protocol.UserType) error {
	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("username = ?", username).
		Update("user_type", string(usertype))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePassword replaces the user's password hash and rotates the
// session token, invalidating existing WebSocket credentials.
func (s *Store) UpdatePassword(ctx context.Context, username, password string) error {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	token, err := MintToken(username)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("username = ?", username).
		Updates(map[string]any{
			"password_hash": string(passwordHash),
			"token":         token,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ValidateCredentials checks a username/password pair and returns the
// account on success.
func (s *Store) ValidateCredentials(ctx context.Context, username, password string) (*User, error) {
	user, err := s.GetUserByName(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// EnsureUser validates credentials for an existing account or registers
// a new one on first login, mirroring the site's open-registration flow.
func (s *Store) EnsureUser(ctx context.Context, username, password string) (*User, error) {
	user, err := s.GetUserByName(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return s.CreateUser(ctx, username, password, protocol.UserTypeUser)
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

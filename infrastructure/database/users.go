package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// GetUser retrieves a user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get user: %v", ErrDatabaseError, err)
	}
	return &u, nil
}

// GetUserByAddress retrieves a user by wallet address.
func (r *Repository) GetUserByAddress(ctx context.Context, address string) (*User, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("user", address)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get user by address: %v", ErrDatabaseError, err)
	}
	return &u, nil
}

// GetUserByEmail retrieves a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("user", email)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get user by email: %v", ErrDatabaseError, err)
	}
	return &u, nil
}

// CreateUser inserts a new user record.
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("%w: user cannot be nil", ErrInvalidInput)
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Role == "" {
		user.Role = "user"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, address, email, password_hash, nonce, role, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, now(), now())`,
		user.ID, user.Address, user.Email, user.PasswordHash, user.Nonce, user.Role)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("%w: create user: %v", ErrDatabaseError, err)
	}
	return nil
}

// UpdateUserEmail updates a user's email address.
func (r *Repository) UpdateUserEmail(ctx context.Context, userID, email string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	if err := ValidateEmail(email); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE users SET email = $1, updated_at = now() WHERE id = $2`, email, userID)
	if err != nil {
		return fmt.Errorf("%w: update user email: %v", ErrDatabaseError, err)
	}
	return checkRowsAffected(res, "user", userID)
}

// UpdateUserNonce updates the wallet-login challenge nonce for a user.
func (r *Repository) UpdateUserNonce(ctx context.Context, userID, nonce string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE users SET nonce = $1, updated_at = now() WHERE id = $2`, nonce, userID)
	if err != nil {
		return fmt.Errorf("%w: update user nonce: %v", ErrDatabaseError, err)
	}
	return checkRowsAffected(res, "user", userID)
}

// UpdateUserPassword updates a user's password hash.
func (r *Repository) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	if passwordHash == "" {
		return fmt.Errorf("%w: password_hash cannot be empty", ErrInvalidInput)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("%w: update user password: %v", ErrDatabaseError, err)
	}
	return checkRowsAffected(res, "user", userID)
}

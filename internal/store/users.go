/*
Copyright 2025 RedisGate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// UserRepository persists user accounts.
type UserRepository struct {
	db  sqlx.ExtContext
	rec QueryRecorder
}

const userColumns = `id, email, username, password_hash, first_name, last_name,
	is_active, is_verified, created_at, updated_at`

// Create inserts a new user. Returns ErrDuplicate when the email or username
// is already taken.
func (r *UserRepository) Create(ctx context.Context, u *User) (err error) {
	start := time.Now()
	defer func() { observe(r.rec, "users.create", start, err) }()

	query := `
		INSERT INTO users (email, username, password_hash, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_active, is_verified, created_at, updated_at`
	err = r.db.QueryRowxContext(ctx, query,
		u.Email, u.Username, u.PasswordHash, u.FirstName, u.LastName,
	).Scan(&u.ID, &u.IsActive, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID fetches a user by primary key.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (_ *User, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "users.get_by_id", start, err) }()

	var u User
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	if err = sqlx.GetContext(ctx, r.db, &u, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetByEmail fetches a user by email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (_ *User, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "users.get_by_email", start, err) }()

	var u User
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)
	if err = sqlx.GetContext(ctx, r.db, &u, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// Count returns the total number of users.
func (r *UserRepository) Count(ctx context.Context) (_ int64, err error) {
	start := time.Now()
	defer func() { observe(r.rec, "users.count", start, err) }()

	var n int64
	if err = sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

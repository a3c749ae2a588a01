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

// Package store is the PostgreSQL persistence layer. It exposes sqlx-backed
// repositories for every durable entity and a serializable transaction helper
// that quota admission and instance provisioning run under.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/redisgate/redisgate/internal/config"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Sentinel errors shared by all repositories.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// serializationFailure is SQLSTATE 40001, raised when concurrent serializable
// transactions conflict.
const serializationFailure = "40001"

// uniqueViolation is SQLSTATE 23505.
const uniqueViolation = "23505"

// txMaxRetries bounds how often WithinTx replays a serialization failure.
const txMaxRetries = 3

// QueryRecorder observes repository query latency and outcome. Satisfied by
// *metrics.Metrics.
type QueryRecorder interface {
	RecordDatabaseQuery(operation string, elapsed time.Duration, err error)
}

// Store wraps the database handle and hands out repositories.
type Store struct {
	DB  *sqlx.DB
	log logr.Logger
	rec QueryRecorder
}

// Instrument attaches a query recorder; repositories handed out afterwards
// report every query through it.
func (s *Store) Instrument(rec QueryRecorder) {
	s.rec = rec
}

// observe reports one finished query. Transaction-bound repositories carry a
// nil recorder and stay silent.
func observe(rec QueryRecorder, operation string, start time.Time, err error) {
	if rec != nil {
		rec.RecordDatabaseQuery(operation, time.Since(start), err)
	}
}

// Open connects to PostgreSQL with the configured pool sizing and verifies
// the connection with a ping.
func Open(ctx context.Context, cfg config.DatabaseConfig, log logr.Logger) (*Store, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MinConnections)
	db.SetConnMaxIdleTime(time.Duration(cfg.IdleTimeoutSeconds) * time.Second)
	db.SetConnMaxLifetime(time.Duration(cfg.MaxLifetimeSeconds) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectionTimeoutSeconds)*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("connected to database",
		"maxConnections", cfg.MaxConnections,
		"minConnections", cfg.MinConnections)

	return &Store{DB: db, log: log}, nil
}

// NewWithDB wraps an existing database handle. Used by tests that inject a
// mocked driver.
func NewWithDB(db *sqlx.DB, log logr.Logger) *Store {
	return &Store{DB: db, log: log}
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.DB.DB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	s.log.Info("database migrations applied")
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// HealthCheck pings the database with a short deadline.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.DB.PingContext(ctx)
}

// WithinTx runs fn inside a SERIALIZABLE transaction, retrying up to three
// times on SQLSTATE 40001. Any other error aborts immediately.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= txMaxRetries; attempt++ {
		tx, err := s.DB.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if isSerializationFailure(err) && attempt < txMaxRetries {
				lastErr = err
				s.log.V(1).Info("serialization conflict, retrying transaction", "attempt", attempt)
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isSerializationFailure(err) && attempt < txMaxRetries {
				lastErr = err
				s.log.V(1).Info("serialization conflict on commit, retrying transaction", "attempt", attempt)
				continue
			}
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	}
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Users returns the user repository.
func (s *Store) Users() *UserRepository { return &UserRepository{db: s.DB, rec: s.rec} }

// Organizations returns the organization repository.
func (s *Store) Organizations() *OrganizationRepository {
	return &OrganizationRepository{db: s.DB, rec: s.rec}
}

// APIKeys returns the API-key repository.
func (s *Store) APIKeys() *APIKeyRepository { return &APIKeyRepository{db: s.DB, rec: s.rec} }

// Instances returns the Redis instance repository.
func (s *Store) Instances() *InstanceRepository { return &InstanceRepository{db: s.DB, rec: s.rec} }

// Quotas returns the quota counter repository.
func (s *Store) Quotas() *QuotaRepository { return &QuotaRepository{db: s.DB, rec: s.rec} }

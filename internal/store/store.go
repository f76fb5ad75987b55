// Package store is the typed entity store for labgate. Every access pattern
// the compliance engine and reconciler need is a named function here; callers
// never build ad-hoc queries against the models.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lookup by key matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write would violate a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// Store wraps a gorm handle, optionally bound to an open transaction.
type Store struct {
	db *gorm.DB
}

// New creates a Store over db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying GORM DB for advanced queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn inside a database transaction. The transaction commits
// when fn returns nil and rolls back when fn returns an error or panics.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) with(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Create inserts a new row for any model.
func (s *Store) Create(ctx context.Context, value interface{}) error {
	return translate(s.with(ctx).Create(value).Error)
}

// Save updates every column of an existing row.
func (s *Store) Save(ctx context.Context, value interface{}) error {
	return translate(s.with(ctx).Save(value).Error)
}

// IsDuplicate reports whether err is a unique-constraint violation from any supported driver.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// translate maps driver errors onto the store sentinels, keeping the original in the chain.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case IsDuplicate(err) && !errors.Is(err, ErrDuplicate):
		return &duplicateError{cause: err}
	default:
		return err
	}
}

type duplicateError struct {
	cause error
}

func (e *duplicateError) Error() string { return "duplicate record: " + e.cause.Error() }

func (e *duplicateError) Is(target error) bool { return target == ErrDuplicate }

func (e *duplicateError) Unwrap() error { return e.cause }

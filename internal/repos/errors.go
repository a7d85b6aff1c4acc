package repos

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err came from a unique index. Covers
// gorm's translated error, a raw pgx error and SQLite's message text.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UniqueViolationOn narrows IsUniqueViolation to one index or column set.
func UniqueViolationOn(err error, index string, columns ...string) bool {
	if !IsUniqueViolation(err) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName == index
	}
	msg := err.Error()
	if strings.Contains(msg, index) {
		return true
	}
	// SQLite reports "UNIQUE constraint failed: table.col, table.col".
	for _, col := range columns {
		if !strings.Contains(msg, col) {
			return false
		}
	}
	return len(columns) > 0
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

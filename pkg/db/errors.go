package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel classifications of the pg error codes the repository reacts to.
var (
	// ErrLockUnavailable maps pg 55P03 (lock_not_available), raised by
	// SELECT ... FOR UPDATE NOWAIT under contention.
	ErrLockUnavailable = errors.New("row lock unavailable")

	// ErrUniqueViolation maps pg 23505 (unique_violation).
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrUndefinedTable maps pg 42P01 (undefined_table), used to detect a
	// repository schema that has not been created yet.
	ErrUndefinedTable = errors.New("undefined table")
)

const (
	codeLockNotAvailable = "55P03"
	codeUniqueViolation  = "23505"
	codeUndefinedTable   = "42P01"
	codeDuplicateSchema  = "42P06"
	codeDuplicateTable   = "42P07"
)

// Classify maps a pg error to one of the package sentinels, wrapping the
// original. Errors with no mapping are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable:
		return errors.Join(ErrLockUnavailable, err)
	case codeUniqueViolation:
		return errors.Join(ErrUniqueViolation, err)
	case codeUndefinedTable:
		return errors.Join(ErrUndefinedTable, err)
	}
	return err
}

// IsDuplicateObject reports whether err is a duplicate schema/table error
// from CREATE without IF NOT EXISTS.
func IsDuplicateObject(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeDuplicateSchema || pgErr.Code == codeDuplicateTable
}

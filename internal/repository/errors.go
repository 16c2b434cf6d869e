package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"cajapos/internal/apperror"
	"cajapos/internal/model"

	"gorm.io/gorm"
)

// storageError maps driver failures onto the ledger's error kinds. Coded
// errors pass through untouched so callbacks can fail a transaction with a
// domain error.
func storageError(err error, op string) error {
	if err == nil {
		return nil
	}
	if apperror.As(err) != nil {
		return err
	}
	if isTransient(err) {
		return apperror.Withf(model.ErrAlmacenamientoNoDisponible, "%s", op)
	}
	return apperror.Wrap(apperror.CodeInternal, err, op+": "+err.Error())
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"database is locked",
		"too many connections",
		"could not serialize access",
		"deadlock detected",
	} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

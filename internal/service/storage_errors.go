package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"

	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
)

const (
	pqUniqueViolation = "23505"
	pqQueryCanceled   = "57014"
	pqAdminShutdown   = "57P01"
	pqTooManyConns    = "53300"
)

// storageError maps driver and context failures onto the ledger's storage
// kinds. Anything it does not recognise becomes an internal error carrying
// the fallback message.
func storageError(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if isStorageTimeout(err) {
		return appErrors.Wrap(err, appErrors.ErrStorageTimeout.Code, appErrors.ErrStorageTimeout.Status, appErrors.ErrStorageTimeout.Message)
	}
	if isStorageUnavailable(err) {
		return appErrors.Wrap(err, appErrors.ErrStorageUnavailable.Code, appErrors.ErrStorageUnavailable.Status, appErrors.ErrStorageUnavailable.Message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fallback)
}

func isStorageTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqQueryCanceled {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isStorageUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return strings.HasPrefix(code, "08") || code == pqAdminShutdown || code == pqTooManyConns
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

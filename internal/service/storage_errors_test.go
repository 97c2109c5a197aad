package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
)

type timeoutNetErr struct{ timeout bool }

func (e timeoutNetErr) Error() string   { return "dial tcp: i/o" }
func (e timeoutNetErr) Timeout() bool   { return e.timeout }
func (e timeoutNetErr) Temporary() bool { return false }

func TestStorageErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want *appErrors.Error
	}{
		{"deadline", fmt.Errorf("count: %w", context.DeadlineExceeded), appErrors.ErrStorageTimeout},
		{"deadline at commit", fmt.Errorf("commit transaction: %w: %w", context.DeadlineExceeded, sql.ErrTxDone), appErrors.ErrStorageTimeout},
		{"statement timeout", &pq.Error{Code: "57014"}, appErrors.ErrStorageTimeout},
		{"net timeout", timeoutNetErr{timeout: true}, appErrors.ErrStorageTimeout},
		{"bad conn", driver.ErrBadConn, appErrors.ErrStorageUnavailable},
		{"connection exception", &pq.Error{Code: "08006"}, appErrors.ErrStorageUnavailable},
		{"refused", timeoutNetErr{}, appErrors.ErrStorageUnavailable},
		{"other", errors.New("syntax"), appErrors.ErrInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := appErrors.FromError(storageError(tc.err, "boom"))
			assert.Equal(t, tc.want.Code, got.Code)
			assert.Equal(t, tc.want.Status, got.Status)
		})
	}
}

func TestStorageErrorKeepsDomainErrors(t *testing.T) {
	err := storageError(appErrors.ErrScheduleFull, "boom")
	assert.ErrorIs(t, err, appErrors.ErrScheduleFull)
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(errors.New("nope")))
}

package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
)

func TestErrorEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{appErrors.ErrScheduleFull, http.StatusConflict, "SCHEDULE_FULL", ""},
		{appErrors.Wrap(errors.New("i/o timeout"), appErrors.ErrStorageTimeout.Code, appErrors.ErrStorageTimeout.Status, "slow"), http.StatusServiceUnavailable, "STORAGE_TIMEOUT", "1"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", ""},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		Error(c, tc.err)

		assert.Equal(t, tc.status, w.Code)
		assert.Equal(t, tc.retryAfter, w.Header().Get("Retry-After"))

		var body struct {
			Error appErrors.Error `json:"error"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tc.code, body.Error.Code)
		assert.Equal(t, tc.status, body.Error.Status)
	}
}

func TestAttachment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Attachment(c, "manifest-5-2024-03-01.csv", "text/csv", []byte("a,b\n"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="manifest-5-2024-03-01.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "a,b\n", w.Body.String())
}

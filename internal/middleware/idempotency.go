package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
	"github.com/noah-isme/hostelsync-api/pkg/response"
)

const (
	// IdempotencyHeader carries the client-chosen replay key.
	IdempotencyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from a stored result.
	ReplayedHeader = "X-Idempotency-Replayed"

	maxIdempotencyKeyLength = 128

	idempotencyProcessing = "processing"
	idempotencyDone       = "done"
)

// IdempotencyStore is the Redis surface the middleware needs.
type IdempotencyStore interface {
	GetRaw(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyConfig sets how long results and in-flight locks live.
type IdempotencyConfig struct {
	TTL     time.Duration
	LockTTL time.Duration
}

type idempotencyRecord struct {
	State       string `json:"state"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type capturingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// mutating requests. Keys are scoped to the caller and route. Server errors
// are not stored so the client may retry them. Redis failures fail open.
func Idempotency(store IdempotencyStore, cfg IdempotencyConfig, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}

	return func(c *gin.Context) {
		if store == nil || !mutating(c.Request.Method) {
			c.Next()
			return
		}
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "Idempotency-Key is too long"))
			c.Abort()
			return
		}

		var userID int64
		if principal := PrincipalFrom(c); principal != nil {
			userID = principal.UserID
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		storeKey := fmt.Sprintf("idempotency:%d:%s:%s:%s", userID, c.Request.Method, path, key)
		ctx := context.WithoutCancel(c.Request.Context())

		raw, err := store.GetRaw(ctx, storeKey)
		switch {
		case err == nil:
			var rec idempotencyRecord
			if jsonErr := json.Unmarshal(raw, &rec); jsonErr == nil {
				if rec.State == idempotencyDone {
					c.Header(ReplayedHeader, "true")
					c.Data(rec.Status, rec.ContentType, rec.Body)
					c.Abort()
					return
				}
				response.Error(c, appErrors.ErrInProgress)
				c.Abort()
				return
			}
			logger.Warn("discarding unreadable idempotency record", zap.String("key", storeKey))
			_ = store.Delete(ctx, storeKey)
		case errors.Is(err, appErrors.ErrCacheMiss):
		default:
			logger.Warn("idempotency lookup failed", zap.Error(err))
			c.Next()
			return
		}

		lock, _ := json.Marshal(idempotencyRecord{State: idempotencyProcessing})
		acquired, err := store.SetNX(ctx, storeKey, lock, cfg.LockTTL)
		if err != nil {
			logger.Warn("idempotency lock failed", zap.Error(err))
			c.Next()
			return
		}
		if !acquired {
			response.Error(c, appErrors.ErrInProgress)
			c.Abort()
			return
		}

		writer := &capturingWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()

		status := writer.Status()
		if status >= http.StatusInternalServerError {
			if err := store.Delete(ctx, storeKey); err != nil {
				logger.Warn("idempotency release failed", zap.Error(err))
			}
			return
		}
		rec := idempotencyRecord{
			State:       idempotencyDone,
			Status:      status,
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.body.Bytes(),
		}
		if err := store.Set(ctx, storeKey, rec, cfg.TTL); err != nil {
			logger.Warn("idempotency store failed", zap.Error(err))
		}
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostelsync-api/internal/models"
	"github.com/noah-isme/hostelsync-api/pkg/cache"
	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
)

type stubTokens map[string]*models.JWTClaims

func (s stubTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

type stubResolver struct{}

func (stubResolver) Principal(ctx context.Context, claims *models.JWTClaims) (*models.Principal, error) {
	p := &models.Principal{UserID: claims.UserID, Role: claims.Role}
	switch claims.Role {
	case models.RoleAdmin:
		p.Capabilities = []models.Capability{models.CapabilityAdministrator}
	case models.RoleStudent:
		p.Capabilities = []models.Capability{models.CapabilityRider}
	}
	return p, nil
}

var testTokens = stubTokens{
	"rider": {UserID: 7, Role: models.RoleStudent},
	"admin": {UserID: 1, Role: models.RoleAdmin},
}

func init() {
	gin.SetMode(gin.TestMode)
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func do(r http.Handler, method, path, token string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAndCapabilityGate(t *testing.T) {
	r := gin.New()
	r.Use(JWT(testTokens, stubResolver{}))
	r.GET("/admin", RequireCapability(models.CapabilityAdministrator), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": PrincipalFrom(c).UserID})
	})

	w := do(r, http.MethodGet, "/admin", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))

	w = do(r, http.MethodGet, "/admin", "", map[string]string{"Authorization": "Token admin"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/admin", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/admin", "rider", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, w))

	w = do(r, http.MethodGet, "/admin", "admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":1}`, w.Body.String())
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
	err     error
}

func (m *memoryAudit) Create(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *log)
	return m.err
}

func TestAuditRecordsSuccessfulMutations(t *testing.T) {
	audit := &memoryAudit{}
	r := gin.New()
	r.Use(JWT(testTokens, stubResolver{}))
	r.DELETE("/bookings/:id", Audit(audit, nil, models.AuditActionBookingCancel, "booking"), func(c *gin.Context) {
		if c.Param("id") == "404" {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusOK)
	})
	r.POST("/bookings", Audit(audit, nil, models.AuditActionBookingCreate, "booking"), func(c *gin.Context) {
		c.Set(ContextResourceIDKey, "55")
		c.Status(http.StatusCreated)
	})

	do(r, http.MethodDelete, "/bookings/9", "rider", nil)
	do(r, http.MethodDelete, "/bookings/404", "rider", nil)
	do(r, http.MethodPost, "/bookings", "rider", nil)

	require.Len(t, audit.entries, 2)
	first := audit.entries[0]
	assert.Equal(t, models.AuditActionBookingCancel, first.Action)
	require.NotNil(t, first.UserID)
	assert.Equal(t, int64(7), *first.UserID)
	require.NotNil(t, first.ResourceID)
	assert.Equal(t, "9", *first.ResourceID)
	assert.Equal(t, "55", *audit.entries[1].ResourceID)
}

func TestAuditFailureDoesNotChangeResponse(t *testing.T) {
	audit := &memoryAudit{err: errors.New("db down")}
	r := gin.New()
	r.POST("/x", Audit(audit, nil, "X", "x"), func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := do(r, http.MethodPost, "/x", "", nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, audit.entries, 1)
}

type memoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
	ttls   map[string]time.Duration
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) GetRaw(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.values[key]
	if !ok {
		return nil, appErrors.ErrCacheMiss
	}
	return v, nil
}

func (m *memoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = raw
	m.ttls[key] = ttl
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func idempotentRouter(store IdempotencyStore, calls *int, status int) *gin.Engine {
	r := gin.New()
	r.Use(JWT(testTokens, stubResolver{}))
	r.Use(Idempotency(store, IdempotencyConfig{TTL: time.Hour, LockTTL: time.Second}, nil))
	r.POST("/bookings", func(c *gin.Context) {
		*calls++
		c.JSON(status, gin.H{"id": *calls})
	})
	return r
}

func TestIdempotencyReplaysCompletedRequest(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	r := idempotentRouter(store, &calls, http.StatusCreated)
	key := map[string]string{IdempotencyHeader: "abc"}

	first := do(r, http.MethodPost, "/bookings", "rider", key)
	second := do(r, http.MethodPost, "/bookings", "rider", key)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.Empty(t, first.Header().Get(ReplayedHeader))
	assert.Equal(t, time.Hour, store.ttls["idempotency:7:POST:/bookings:abc"])

	// Another caller reusing the key is a different request.
	do(r, http.MethodPost, "/bookings", "admin", key)
	assert.Equal(t, 2, calls)

	// No key, no replay.
	do(r, http.MethodPost, "/bookings", "rider", nil)
	assert.Equal(t, 3, calls)
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	store := newMemoryStore()
	store.values["idempotency:7:POST:/bookings:abc"] = []byte(`{"state":"processing"}`)
	calls := 0
	r := idempotentRouter(store, &calls, http.StatusCreated)

	w := do(r, http.MethodPost, "/bookings", "rider", map[string]string{IdempotencyHeader: "abc"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "REQUEST_IN_PROGRESS", errorCode(t, w))
	assert.Zero(t, calls)
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store := newMemoryStore()
	calls := 0
	r := idempotentRouter(store, &calls, http.StatusServiceUnavailable)
	key := map[string]string{IdempotencyHeader: "abc"}

	do(r, http.MethodPost, "/bookings", "rider", key)
	do(r, http.MethodPost, "/bookings", "rider", key)
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.values)
}

func TestIdempotencyFailsOpenAndValidatesKey(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("redis down")
	calls := 0
	r := idempotentRouter(store, &calls, http.StatusCreated)

	w := do(r, http.MethodPost, "/bookings", "rider", map[string]string{IdempotencyHeader: "abc"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, calls)

	w = do(r, http.MethodPost, "/bookings", "rider", map[string]string{IdempotencyHeader: strings.Repeat("k", 129)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, calls)
}

type stubLimiter struct {
	mu     sync.Mutex
	tokens map[string]int
	keys   []string
	err    error
}

func (s *stubLimiter) Capacity() int { return 2 }

func (s *stubLimiter) Take(ctx context.Context, key string) (cache.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	if s.err != nil {
		return cache.Decision{}, s.err
	}
	left, ok := s.tokens[key]
	if !ok {
		left = 2
	}
	if left == 0 {
		return cache.Decision{RetryAfter: 1500 * time.Millisecond}, nil
	}
	s.tokens[key] = left - 1
	return cache.Decision{Allowed: true, Remaining: int64(left - 1)}, nil
}

func TestRateLimit(t *testing.T) {
	limiter := &stubLimiter{tokens: map[string]int{}}
	r := gin.New()
	r.Use(JWT(testTokens, stubResolver{}))
	r.POST("/bookings", RateLimit(limiter, "rl", nil), func(c *gin.Context) { c.Status(http.StatusCreated) })

	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/bookings", "rider", nil).Code)
	w := do(r, http.MethodPost, "/bookings", "rider", nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))

	w = do(r, http.MethodPost, "/bookings", "rider", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))

	// Buckets are per caller.
	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/bookings", "admin", nil).Code)
	assert.Equal(t, "rl:user:7:POST /bookings", limiter.keys[0])

	limiter.err = errors.New("redis down")
	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/bookings", "rider", nil).Code)
}

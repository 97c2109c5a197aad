package handler

import (
	"context"
	"encoding/json"
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
	"github.com/noah-isme/hostelsync-api/internal/service"
	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
)

type apiEnvelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) apiEnvelope {
	t.Helper()
	var env apiEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

type stubTokens map[string]*models.JWTClaims

func (s stubTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.ErrUnauthorized
}

type stubPrincipals struct{}

func (stubPrincipals) Principal(ctx context.Context, claims *models.JWTClaims) (*models.Principal, error) {
	p := &models.Principal{UserID: claims.UserID, Role: claims.Role}
	if claims.Role == models.RoleWarden {
		p.Capabilities = []models.Capability{models.CapabilityAdministrator}
	} else if claims.Role == models.RoleStudent {
		p.Capabilities = []models.Capability{models.CapabilityRider}
	}
	return p, nil
}

type stubLedger struct {
	mu           sync.Mutex
	createErr    error
	settleErr    error
	lastRider    int64
	lastDate     models.Date
	lastActor    *models.Principal
	availability *models.Availability
}

func (s *stubLedger) CreateBooking(ctx context.Context, riderID, scheduleID int64, date models.Date) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRider, s.lastDate = riderID, date
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &models.Booking{ID: 99, UserID: riderID, ScheduleID: scheduleID, BookingDate: date, Status: models.BookingConfirmed}, nil
}

func (s *stubLedger) CancelBooking(ctx context.Context, principal *models.Principal, bookingID int64) (*models.Booking, error) {
	s.lastActor = principal
	if s.settleErr != nil {
		return nil, s.settleErr
	}
	return &models.Booking{ID: bookingID, Status: models.BookingCancelled}, nil
}

func (s *stubLedger) CompleteBooking(ctx context.Context, principal *models.Principal, bookingID int64) (*models.Booking, error) {
	s.lastActor = principal
	return &models.Booking{ID: bookingID, Status: models.BookingCompleted}, nil
}

func (s *stubLedger) ListAvailability(ctx context.Context, scheduleID int64, date models.Date) (*models.Availability, error) {
	if s.availability == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
	}
	return s.availability, nil
}

func (s *stubLedger) ListRiderBookings(ctx context.Context, principal *models.Principal) ([]models.Booking, error) {
	return []models.Booking{{ID: 1, UserID: principal.UserID}}, nil
}

type stubCatalog struct {
	deactivated []int64
}

func (s *stubCatalog) ListRoutes(ctx context.Context) ([]models.Route, error) {
	return []models.Route{{ID: 1, Name: "Campus Loop", Schedules: []models.Schedule{}}}, nil
}

func (s *stubCatalog) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	return []models.Vehicle{}, nil
}

func (s *stubCatalog) Get(ctx context.Context, id int64) (*models.Schedule, error) {
	return &models.Schedule{ID: id}, nil
}

func (s *stubCatalog) Create(ctx context.Context, req models.CreateScheduleRequest) (*models.Schedule, error) {
	return &models.Schedule{ID: 10, RouteID: req.RouteID}, nil
}

func (s *stubCatalog) Update(ctx context.Context, id int64, req models.UpdateScheduleRequest) (*models.Schedule, error) {
	return nil, appErrors.Clone(appErrors.ErrConflict, "schedule has bookings")
}

func (s *stubCatalog) Deactivate(ctx context.Context, id int64) error {
	s.deactivated = append(s.deactivated, id)
	return nil
}

type stubManifests struct {
	format string
}

func (s *stubManifests) Render(ctx context.Context, scheduleID int64, date models.Date, format string) (*service.Manifest, error) {
	s.format = format
	return &service.Manifest{
		Filename:    "manifest-5-" + date.String() + ".csv",
		ContentType: "text/csv; charset=utf-8",
		Body:        []byte("#,Booking\n"),
	}, nil
}

type stubIssuer struct{}

func (stubIssuer) IssueToken(ctx context.Context, req models.IssueTokenRequest) (*models.TokenResponse, error) {
	if req.UserID != 7 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return &models.TokenResponse{AccessToken: "signed", ExpiresIn: 3600}, nil
}

type apiFixture struct {
	router    *gin.Engine
	ledger    *stubLedger
	catalog   *stubCatalog
	manifests *stubManifests
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fx := &apiFixture{
		router:    gin.New(),
		ledger:    &stubLedger{},
		catalog:   &stubCatalog{},
		manifests: &stubManifests{},
	}
	RegisterRoutes(fx.router, "/api/v1", Dependencies{
		Auth:      NewAuthHandler(stubIssuer{}),
		Bookings:  NewBookingHandler(fx.ledger, nil),
		Schedules: NewScheduleHandler(fx.catalog),
		Manifests: NewManifestHandler(fx.manifests),
		Metrics: NewMetricsHandler(service.NewMetricsService(), map[string]ReadinessCheck{
			"postgres": func(context.Context) error { return nil },
		}),
		Tokens: stubTokens{
			"ana":    {UserID: 7, Role: models.RoleStudent},
			"warden": {UserID: 2, Role: models.RoleWarden},
			"plumb":  {UserID: 8, Role: models.RolePlumber},
		},
		Principals: stubPrincipals{},
	})
	return fx
}

func (fx *apiFixture) call(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

func TestCreateBookingUsesCallerIdentity(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.call(http.MethodPost, "/api/v1/transport/bookings", "ana", `{"scheduleId":5,"bookingDate":"2024-03-01","userId":42}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, int64(7), fx.ledger.lastRider)
	assert.Equal(t, models.MustParseDate("2024-03-01"), fx.ledger.lastDate)

	var booking models.Booking
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &booking))
	assert.Equal(t, int64(99), booking.ID)
	assert.Equal(t, models.BookingConfirmed, booking.Status)
}

func TestCreateBookingRejectsBadPayloads(t *testing.T) {
	fx := newAPIFixture(t)

	for _, body := range []string{
		`{"scheduleId":5}`,
		`{"scheduleId":0,"bookingDate":"2024-03-01"}`,
		`{"scheduleId":5,"bookingDate":"01-03-2024"}`,
		`{"scheduleId":5,"bookingDate":"2024-02-30"}`,
		`not json`,
	} {
		w := fx.call(http.MethodPost, "/api/v1/transport/bookings", "ana", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "VALIDATION_ERROR", decode(t, w).Error.Code, body)
	}
	assert.Zero(t, fx.ledger.lastRider)
}

func TestLedgerErrorsMapToHTTP(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{appErrors.ErrScheduleFull, http.StatusConflict, "SCHEDULE_FULL"},
		{appErrors.ErrInvalidDate, http.StatusBadRequest, "INVALID_DATE"},
		{appErrors.ErrScheduleInactive, http.StatusConflict, "SCHEDULE_INACTIVE"},
		{appErrors.ErrDuplicateBooking, http.StatusConflict, "DUPLICATE_BOOKING"},
		{appErrors.Clone(appErrors.ErrNotFound, "schedule not found"), http.StatusNotFound, "NOT_FOUND"},
		{appErrors.ErrStorageTimeout, http.StatusServiceUnavailable, "STORAGE_TIMEOUT"},
		{appErrors.ErrStorageUnavailable, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
	}
	for _, tc := range cases {
		fx := newAPIFixture(t)
		fx.ledger.createErr = tc.err

		w := fx.call(http.MethodPost, "/api/v1/transport/bookings", "ana", `{"scheduleId":5,"bookingDate":"2024-03-01"}`)
		assert.Equal(t, tc.status, w.Code, tc.code)
		env := decode(t, w)
		require.NotNil(t, env.Error, tc.code)
		assert.Equal(t, tc.code, env.Error.Code)
		assert.Equal(t, tc.status, env.Error.Status)
	}
}

func TestBookingRoutesRequireCapabilities(t *testing.T) {
	fx := newAPIFixture(t)
	body := `{"scheduleId":5,"bookingDate":"2024-03-01"}`

	assert.Equal(t, http.StatusUnauthorized, fx.call(http.MethodPost, "/api/v1/transport/bookings", "", body).Code)
	assert.Equal(t, http.StatusForbidden, fx.call(http.MethodPost, "/api/v1/transport/bookings", "plumb", body).Code)
	// Administrators are not riders.
	assert.Equal(t, http.StatusForbidden, fx.call(http.MethodPost, "/api/v1/transport/bookings", "warden", body).Code)

	assert.Equal(t, http.StatusForbidden, fx.call(http.MethodPost, "/api/v1/transport/bookings/3/complete", "ana", "").Code)
	w := fx.call(http.MethodPost, "/api/v1/transport/bookings/3/complete", "warden", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), fx.ledger.lastActor.UserID)
}

func TestCancelBooking(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.call(http.MethodDelete, "/api/v1/transport/bookings/3", "ana", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7), fx.ledger.lastActor.UserID)

	fx.ledger.settleErr = appErrors.ErrAlreadyTerminal
	w = fx.call(http.MethodDelete, "/api/v1/transport/bookings/3", "ana", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_TERMINAL", decode(t, w).Error.Code)

	fx.ledger.settleErr = appErrors.ErrForbidden
	w = fx.call(http.MethodDelete, "/api/v1/transport/bookings/3", "ana", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = fx.call(http.MethodDelete, "/api/v1/transport/bookings/abc", "ana", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAvailability(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.call(http.MethodGet, "/api/v1/transport/schedules/5/availability", "ana", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = fx.call(http.MethodGet, "/api/v1/transport/schedules/5/availability?date=2024-03-01", "ana", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	fx.ledger.availability = &models.Availability{ScheduleID: 5, BookingDate: models.MustParseDate("2024-03-01"), MaxCapacity: 3, Booked: 1, Remaining: 2}
	w = fx.call(http.MethodGet, "/api/v1/transport/schedules/5/availability?date=2024-03-01", "plumb", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"scheduleId":5,"bookingDate":"2024-03-01","maxCapacity":3,"confirmedPendingCount":1,"remaining":2}`, string(decode(t, w).Data))
}

func TestMyBookings(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.call(http.MethodGet, "/api/v1/transport/bookings/me", "ana", "")
	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.Equal(t, float64(1), env.Meta["count"])
}

func TestScheduleAdministration(t *testing.T) {
	fx := newAPIFixture(t)

	assert.Equal(t, http.StatusOK, fx.call(http.MethodGet, "/api/v1/transport/routes", "ana", "").Code)
	assert.Equal(t, http.StatusForbidden, fx.call(http.MethodPost, "/api/v1/transport/admin/schedules", "ana", `{}`).Code)

	w := fx.call(http.MethodPost, "/api/v1/transport/admin/schedules", "warden", `{"routeId":1}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = fx.call(http.MethodPatch, "/api/v1/transport/admin/schedules/10", "warden", `{"day":"MONDAY"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = fx.call(http.MethodDelete, "/api/v1/transport/admin/schedules/10", "warden", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []int64{10}, fx.catalog.deactivated)
}

func TestManifestDownload(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.call(http.MethodGet, "/api/v1/transport/admin/schedules/5/manifest?date=2024-03-01&format=csv", "warden", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", fx.manifests.format)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "manifest-5-2024-03-01.csv")

	w = fx.call(http.MethodGet, "/api/v1/transport/admin/schedules/5/manifest", "warden", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDevTokenAndProbes(t *testing.T) {
	fx := newAPIFixture(t)

	w := fx.call(http.MethodPost, "/api/v1/auth/dev-token", "", `{"userId":7}`)
	assert.Equal(t, http.StatusOK, w.Code)
	w = fx.call(http.MethodPost, "/api/v1/auth/dev-token", "", `{"userId":8}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, http.StatusOK, fx.call(http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, fx.call(http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusOK, fx.call(http.MethodGet, "/metrics", "", "").Code)
	assert.Equal(t, http.StatusForbidden, fx.call(http.MethodGet, "/api/v1/transport/admin/metrics", "ana", "").Code)
	assert.Equal(t, http.StatusOK, fx.call(http.MethodGet, "/api/v1/transport/admin/metrics", "warden", "").Code)
}

func TestReadyReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"redis": func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			if !ok {
				return nil
			}
			return context.DeadlineExceeded
		},
	})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)

	start := time.Now()
	h.Ready(c)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

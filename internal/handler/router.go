package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/hostelsync-api/internal/middleware"
	"github.com/noah-isme/hostelsync-api/internal/models"
)

// Dependencies collects what RegisterRoutes mounts. Optional pieces left nil
// are skipped: Auth (dev tokens), Idempotency and Limiter.
type Dependencies struct {
	Auth      *AuthHandler
	Bookings  *BookingHandler
	Schedules *ScheduleHandler
	Manifests *ManifestHandler
	Metrics   *MetricsHandler

	Tokens     middleware.TokenValidator
	Principals middleware.PrincipalResolver
	Audit      middleware.AuditWriter

	Idempotency       middleware.IdempotencyStore
	IdempotencyConfig middleware.IdempotencyConfig
	Limiter           middleware.Limiter
	RateLimitPrefix   string

	Logger *zap.Logger
}

// RegisterRoutes mounts the transport API on r under prefix.
func RegisterRoutes(r *gin.Engine, prefix string, deps Dependencies) {
	r.GET("/health", deps.Metrics.Health)
	r.GET("/ready", deps.Metrics.Ready)
	r.GET("/metrics", deps.Metrics.Prometheus)

	api := r.Group(prefix)
	if deps.Auth != nil {
		api.POST("/auth/dev-token", deps.Auth.IssueToken)
	}

	rider := middleware.RequireCapability(models.CapabilityRider)
	admin := middleware.RequireCapability(models.CapabilityAdministrator)
	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(deps.Audit, deps.Logger, action, resource)
	}

	// Rate limiting runs before idempotency so replays still spend a token.
	var mutation []gin.HandlerFunc
	if deps.Limiter != nil {
		mutation = append(mutation, middleware.RateLimit(deps.Limiter, deps.RateLimitPrefix, deps.Logger))
	}
	if deps.Idempotency != nil {
		mutation = append(mutation, middleware.Idempotency(deps.Idempotency, deps.IdempotencyConfig, deps.Logger))
	}
	chain := func(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
		out := make([]gin.HandlerFunc, 0, len(mutation)+len(handlers))
		out = append(out, mutation...)
		return append(out, handlers...)
	}

	transport := api.Group("/transport", middleware.JWT(deps.Tokens, deps.Principals))
	{
		transport.GET("/routes", deps.Schedules.ListRoutes)
		transport.GET("/vehicles", deps.Schedules.ListVehicles)
		transport.GET("/schedules/:id", deps.Schedules.Get)
		transport.GET("/schedules/:id/availability", deps.Bookings.Availability)

		transport.GET("/bookings/me", deps.Bookings.Mine)
		transport.POST("/bookings", append([]gin.HandlerFunc{rider}, chain(audit(models.AuditActionBookingCreate, "booking"), deps.Bookings.Create)...)...)
		transport.DELETE("/bookings/:id", chain(audit(models.AuditActionBookingCancel, "booking"), deps.Bookings.Cancel)...)
		transport.POST("/bookings/:id/complete", append([]gin.HandlerFunc{admin}, chain(audit(models.AuditActionBookingComplete, "booking"), deps.Bookings.Complete)...)...)
	}

	adminGroup := transport.Group("/admin", admin)
	{
		adminGroup.POST("/schedules", audit(models.AuditActionScheduleCreate, "schedule"), deps.Schedules.Create)
		adminGroup.PATCH("/schedules/:id", audit(models.AuditActionScheduleUpdate, "schedule"), deps.Schedules.Update)
		adminGroup.DELETE("/schedules/:id", audit(models.AuditActionScheduleDisable, "schedule"), deps.Schedules.Deactivate)
		adminGroup.GET("/schedules/:id/manifest", audit(models.AuditActionManifestDownload, "schedule"), deps.Manifests.Download)
		adminGroup.GET("/metrics", deps.Metrics.Snapshot)
	}
}

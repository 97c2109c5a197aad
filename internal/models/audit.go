package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Audit actions recorded for transport mutations.
const (
	AuditActionBookingCreate    = "BOOKING_CREATE"
	AuditActionBookingCancel    = "BOOKING_CANCEL"
	AuditActionBookingComplete  = "BOOKING_COMPLETE"
	AuditActionScheduleCreate   = "SCHEDULE_CREATE"
	AuditActionScheduleUpdate   = "SCHEDULE_UPDATE"
	AuditActionScheduleDisable  = "SCHEDULE_DEACTIVATE"
	AuditActionManifestDownload = "MANIFEST_DOWNLOAD"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string         `db:"id" json:"id"`
	UserID     *int64         `db:"user_id" json:"userId,omitempty"`
	Action     string         `db:"action" json:"action"`
	Resource   string         `db:"resource" json:"resource"`
	ResourceID *string        `db:"resource_id" json:"resourceId,omitempty"`
	NewValues  types.JSONText `db:"new_values" json:"newValues,omitempty"`
	IPAddress  string         `db:"ip_address" json:"ipAddress"`
	UserAgent  string         `db:"user_agent" json:"userAgent"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/hostelsync-api/internal/models"
	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
	"github.com/noah-isme/hostelsync-api/pkg/export"
)

// Manifest formats.
const (
	ManifestFormatCSV = "csv"
	ManifestFormatPDF = "pdf"
)

type manifestRepository interface {
	ListManifest(ctx context.Context, slot models.SlotKey) ([]models.ManifestEntry, error)
}

type tableRenderer interface {
	Render(table export.Table) ([]byte, error)
	ContentType() string
}

// Manifest is a rendered passenger list ready to download.
type Manifest struct {
	Filename    string
	ContentType string
	Body        []byte
	Passengers  int
}

// ManifestService renders passenger manifests for one slot.
type ManifestService struct {
	schedules ledgerScheduleReader
	bookings  manifestRepository
	renderers map[string]tableRenderer
	location  *time.Location
	logger    *zap.Logger
}

// NewManifestService constructs the service. Nil renderers fall back to the
// default CSV and PDF exporters.
func NewManifestService(schedules ledgerScheduleReader, bookings manifestRepository, csv, pdf tableRenderer, location *time.Location, logger *zap.Logger) *ManifestService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManifestService{
		schedules: schedules,
		bookings:  bookings,
		renderers: map[string]tableRenderer{ManifestFormatCSV: csv, ManifestFormatPDF: pdf},
		location:  location,
		logger:    logger,
	}
}

// Render lists the seat-holding passengers of a slot in the requested format.
func (s *ManifestService) Render(ctx context.Context, scheduleID int64, date models.Date, format string) (*Manifest, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ManifestFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	if date.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date is required")
	}

	schedule, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, storageError(err, "failed to load schedule")
	}

	entries, err := s.bookings.ListManifest(ctx, models.SlotKey{ScheduleID: scheduleID, Date: date})
	if err != nil {
		return nil, storageError(err, "failed to list passengers")
	}

	table := export.Table{
		Title:    fmt.Sprintf("Passenger manifest: schedule %d", schedule.ID),
		Subtitle: fmt.Sprintf("%s %s, departs %s, %d/%d seats", schedule.Day, date, models.NormalizeClock(schedule.StartTime), len(entries), schedule.MaxCapacity),
		Headers:  []string{"#", "Booking", "Rider", "Name", "Email", "Status", "Booked At"},
		Rows:     make([][]string, 0, len(entries)),
	}
	for i, e := range entries {
		table.Rows = append(table.Rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(e.BookingID, 10),
			strconv.FormatInt(e.UserID, 10),
			e.Name,
			e.Email,
			string(e.Status),
			e.BookedAt.In(s.location).Format("2006-01-02 15:04"),
		})
	}

	body, err := renderer.Render(table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render manifest")
	}
	s.logger.Debug("manifest rendered", zap.Int64("schedule_id", scheduleID), zap.String("date", date.String()), zap.String("format", format), zap.Int("passengers", len(entries)))

	return &Manifest{
		Filename:    fmt.Sprintf("manifest-%d-%s.%s", scheduleID, date, format),
		ContentType: renderer.ContentType(),
		Body:        body,
		Passengers:  len(entries),
	}, nil
}

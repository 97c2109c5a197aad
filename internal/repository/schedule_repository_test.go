package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostelsync-api/internal/models"
)

var scheduleRowColumns = []string{"id", "route_id", "vehicle_id", "day", "start_time", "end_time", "start_date", "end_date", "max_capacity", "price", "is_active", "created_at", "updated_at"}

func TestScheduleRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	rows := sqlmock.NewRows(scheduleRowColumns).
		AddRow(int64(7), int64(1), int64(3), "MONDAY", "07:30:00", "08:15:00", "2025-01-06", "2025-06-30", 2, "15.50", true, time.Now(), time.Now())
	mock.ExpectQuery(`FROM schedules WHERE id = \$1`).WithArgs(int64(7)).WillReturnRows(rows)

	sched, err := repo.FindByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, models.Monday, sched.Day)
	assert.Equal(t, "07:30", sched.StartTime)
	assert.Equal(t, "08:15", sched.EndTime)
	assert.Equal(t, models.MustParseDate("2025-06-30"), sched.EndDate)
	assert.InDelta(t, 15.5, sched.Price, 0.001)
	assert.Equal(t, 2, sched.MaxCapacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectQuery(`FROM schedules WHERE id = \$1`).WithArgs(int64(99)).WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), 99)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestScheduleRepositoryListActiveByRoute(t *testing.T) {
	db, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectQuery(`FROM schedules WHERE 1=1 AND route_id = ANY\(\$1\) AND is_active = TRUE ORDER BY route_id`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(scheduleRowColumns))

	list, err := repo.List(context.Background(), models.ScheduleFilter{RouteIDs: []int64{1, 2}, ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryCreateAndDeactivate(t *testing.T) {
	db, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectQuery("INSERT INTO schedules").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	sched := &models.Schedule{RouteID: 1, VehicleID: 3, Day: models.Friday, StartTime: "17:00", EndTime: "17:40",
		StartDate: models.MustParseDate("2025-01-03"), EndDate: models.MustParseDate("2025-05-30"), MaxCapacity: 30, IsActive: true}
	require.NoError(t, repo.Create(context.Background(), sched))
	assert.Equal(t, int64(12), sched.ID)

	mock.ExpectExec("UPDATE schedules SET is_active = FALSE").
		WithArgs(int64(12), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Deactivate(context.Background(), 12))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryListOrdersByCalendarWeekday(t *testing.T) {
	db, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY route_id ASC, array_position(ARRAY['MONDAY','TUESDAY','WEDNESDAY','THURSDAY','FRIDAY','SATURDAY','SUNDAY']::text[], day) ASC, start_time ASC`)).
		WillReturnRows(sqlmock.NewRows(scheduleRowColumns).
			AddRow(int64(1), int64(1), int64(3), "MONDAY", "07:30:00", "08:15:00", "2025-01-06", "2025-06-30", 2, "1.00", true, time.Now(), time.Now()).
			AddRow(int64(2), int64(1), int64(3), "FRIDAY", "07:30:00", "08:15:00", "2025-01-03", "2025-06-27", 2, "1.00", true, time.Now(), time.Now()))

	list, err := repo.List(context.Background(), models.ScheduleFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.Monday, list[0].Day)
	assert.Equal(t, models.Friday, list[1].Day)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryLockingReads(t *testing.T) {
	db, mock, cleanup := newBookingRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)
	row := func() *sqlmock.Rows {
		return sqlmock.NewRows(scheduleRowColumns).
			AddRow(int64(7), int64(1), int64(3), "MONDAY", "07:30:00", "08:15:00", "2025-01-06", "2025-06-30", 2, "15.50", true, time.Now(), time.Now())
	}

	mock.ExpectQuery(`FROM schedules WHERE id = \$1 FOR UPDATE`).WithArgs(int64(7)).WillReturnRows(row())
	mock.ExpectQuery(`FROM schedules WHERE id = \$1 FOR SHARE`).WithArgs(int64(7)).WillReturnRows(row())

	sched, err := repo.FindByIDForUpdate(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), sched.ID)

	sched, err = repo.FindByIDForShare(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "07:30", sched.StartTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hostelsync-api/internal/models"
)

// RouteRepository reads transport routes.
type RouteRepository struct {
	db *sqlx.DB
}

// NewRouteRepository creates a route repository.
func NewRouteRepository(db *sqlx.DB) *RouteRepository {
	return &RouteRepository{db: db}
}

// List returns all routes ordered by name.
func (r *RouteRepository) List(ctx context.Context) ([]models.Route, error) {
	const query = `SELECT id, name, description, start_point, end_point, stops, created_at, updated_at FROM routes ORDER BY name ASC`
	var routes []models.Route
	if err := r.db.SelectContext(ctx, &routes, query); err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	return routes, nil
}

// Exists reports whether a route id is known.
func (r *RouteRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM routes WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("check route: %w", err)
	}
	return exists, nil
}

// VehicleRepository reads vehicles.
type VehicleRepository struct {
	db *sqlx.DB
}

// NewVehicleRepository creates a vehicle repository.
func NewVehicleRepository(db *sqlx.DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

// List returns all vehicles ordered by number.
func (r *VehicleRepository) List(ctx context.Context) ([]models.Vehicle, error) {
	const query = `SELECT id, type, number, capacity, status, driver_id, created_at, updated_at FROM vehicles ORDER BY number ASC`
	var vehicles []models.Vehicle
	if err := r.db.SelectContext(ctx, &vehicles, query); err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	return vehicles, nil
}

// FindByID loads a vehicle. Missing rows surface as sql.ErrNoRows.
func (r *VehicleRepository) FindByID(ctx context.Context, id int64) (*models.Vehicle, error) {
	const query = `SELECT id, type, number, capacity, status, driver_id, created_at, updated_at FROM vehicles WHERE id = $1`
	var vehicle models.Vehicle
	if err := r.db.GetContext(ctx, &vehicle, query, id); err != nil {
		return nil, err
	}
	return &vehicle, nil
}

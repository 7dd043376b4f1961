package bike

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound     = errors.New("bike not found")
	ErrNotAvailable = errors.New("bike not available")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetBikes(ctx context.Context) ([]Bike, error) {
	var bikes []Bike
	err := r.db.SelectContext(ctx, &bikes, getBikes)
	return bikes, err
}

const getBikes = `SELECT * FROM bikes`

// GetBike fetches a bike by the number printed on its frame.
func (r *Repository) GetBike(ctx context.Context, number string) (Bike, error) {
	var bike Bike

	err := r.db.GetContext(ctx, &bike, getBike, number)
	if errors.Is(err, sql.ErrNoRows) {
		return bike, ErrNotFound
	}

	return bike, err
}

const getBike = `SELECT * FROM bikes WHERE number = $1`

// GetBikeByID fetches a bike by its UUID.
func (r *Repository) GetBikeByID(ctx context.Context, id string) (Bike, error) {
	var bike Bike
	err := r.db.GetContext(ctx, &bike, getBikeByID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return bike, ErrNotFound
	}
	return bike, err
}

const getBikeByID = `SELECT * FROM bikes WHERE id = $1`

// GetBikesAtStation fetches all bikes currently docked at a station.
func (r *Repository) GetBikesAtStation(ctx context.Context, stationID string) ([]Bike, error) {
	var bikes []Bike
	err := r.db.SelectContext(ctx, &bikes, getBikesAtStation, stationID)
	return bikes, err
}

const getBikesAtStation = `SELECT * FROM bikes WHERE station_id = $1`

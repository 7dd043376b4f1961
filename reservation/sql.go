package reservation

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/citywheel/bikeshare-backend/bike"
)

var (
	ErrNotFound         = errors.New("reservation not found")
	ErrNotAuthorized    = errors.New("not authorized to modify this reservation")
	ErrNotActive        = errors.New("reservation is not active")
	ErrNotScheduled     = errors.New("reservation is not scheduled")
	ErrAlreadyFinished  = errors.New("reservation already completed or cancelled")
	ErrOpenReservation  = errors.New("customer already has an open reservation")
	ErrInvalidDuration  = errors.New("requested duration below minimum")
	ErrBikeNotAtStation = errors.New("bike is not at the specified station")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Save inserts a new reservation. Partial unique indexes on open rows back
// the one-open-reservation-per-customer and per-bike invariants, so two
// creates racing past the precondition reads cannot both land; the loser's
// violation comes back as the matching typed error.
func (r *Repository) Save(ctx context.Context, res *Reservation) error {
	err := r.db.GetContext(ctx, res, saveQuery,
		res.ID, res.BikeID, res.CustomerID, res.StartStationID,
		res.ReservationTime, res.StartTime, res.DurationMinutes,
		res.BaseRate, res.TimeCost, res.Discount, res.TotalCost,
		res.Status.String())

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == "reservations_open_bike_idx" {
			return bike.ErrNotAvailable
		}
		return ErrOpenReservation
	}
	return err
}

const saveQuery = `
INSERT INTO reservations
    (id, bike_id, customer_id, start_station_id, reservation_time, start_time,
     duration_minutes, base_rate, time_cost, discount, total_cost, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING *
`

// Update persists the mutable tail of a reservation: end data, cost breakdown
// and status. Identity and start data never change after Save.
func (r *Repository) Update(ctx context.Context, res *Reservation) error {
	return r.db.GetContext(ctx, res, updateQuery,
		res.ID, res.EndStationID, res.StartTime, res.EndTime, res.DurationMinutes,
		res.DistanceMeters, res.BaseRate, res.TimeCost, res.Discount,
		res.TotalCost, res.Status.String())
}

const updateQuery = `
UPDATE reservations
SET end_station_id = $2, start_time = $3, end_time = $4, duration_minutes = $5,
    distance_meters = $6, base_rate = $7, time_cost = $8, discount = $9,
    total_cost = $10, status = $11
WHERE id = $1
RETURNING *
`

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Reservation, error) {
	var res Reservation
	err := r.db.GetContext(ctx, &res, getByIDQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, ErrNotFound
	}
	return res, err
}

const getByIDQuery = `SELECT * FROM reservations WHERE id = $1`

// GetOpenForUser returns the customer's scheduled or active reservation, or
// nil when there is none. At most one can exist at a time.
func (r *Repository) GetOpenForUser(ctx context.Context, customerID uuid.UUID) (*Reservation, error) {
	var res Reservation
	err := r.db.GetContext(ctx, &res, getOpenForUserQuery, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

const getOpenForUserQuery = `
SELECT * FROM reservations
WHERE customer_id = $1 AND status IN ('scheduled', 'active')
LIMIT 1
`

// GetOpenForBike returns the reservation currently holding the bike, if any.
func (r *Repository) GetOpenForBike(ctx context.Context, bikeID uuid.UUID) (*Reservation, error) {
	var res Reservation
	err := r.db.GetContext(ctx, &res, getOpenForBikeQuery, bikeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

const getOpenForBikeQuery = `
SELECT * FROM reservations
WHERE bike_id = $1 AND status IN ('scheduled', 'active')
LIMIT 1
`

func (r *Repository) ActiveForUser(ctx context.Context, customerID uuid.UUID) ([]Reservation, error) {
	var reservations []Reservation
	err := r.db.SelectContext(ctx, &reservations, activeForUserQuery, customerID)
	return reservations, err
}

const activeForUserQuery = `
SELECT * FROM reservations
WHERE customer_id = $1 AND status IN ('scheduled', 'active')
ORDER BY reservation_time ASC
`

func (r *Repository) HistoryForUser(ctx context.Context, customerID uuid.UUID) ([]Reservation, error) {
	var reservations []Reservation
	err := r.db.SelectContext(ctx, &reservations, historyForUserQuery, customerID)
	return reservations, err
}

const historyForUserQuery = `
SELECT * FROM reservations
WHERE customer_id = $1 AND status IN ('completed', 'cancelled')
ORDER BY reservation_time DESC
`

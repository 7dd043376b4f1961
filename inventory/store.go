// Package inventory is the single writer of station bike counters and bike
// status/location. Every operation runs as one transaction: bike row and
// station row are locked FOR UPDATE (bike first, then station, so concurrent
// operations cannot deadlock), validated, and mutated together. Counter
// updates are guarded in SQL and rejected rather than clamped when an
// invariant would be violated.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/citywheel/bikeshare-backend/bike"
	"github.com/citywheel/bikeshare-backend/station"
)

var (
	ErrStationFull     = errors.New("station at full capacity")
	ErrStationInactive = errors.New("station inactive")

	// ErrConflict means a concurrent mutation won the race; the operation
	// performed no mutation and can be retried against fresh state.
	ErrConflict = errors.New("inventory update lost a concurrent race")

	// ErrInvariant means a counter and the bike records it projects disagree.
	// It is surfaced, never corrected in place; the audit reports the drift.
	ErrInvariant = errors.New("inventory invariant violated")
)

type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// ReserveBike transitions an available, docked bike to in_use and decrements
// its station's counter for the bike's type. The bike's station reference is
// cleared: the bike is in transit until released or restored.
func (s *Store) ReserveBike(ctx context.Context, bikeID uuid.UUID) (bike.Bike, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return bike.Bike{}, err
	}
	defer tx.Rollback()

	var b bike.Bike
	err = tx.GetContext(ctx, &b, lockBike, bikeID)
	if errors.Is(err, sql.ErrNoRows) {
		return bike.Bike{}, bike.ErrNotFound
	}
	if err != nil {
		return bike.Bike{}, asConflict(err)
	}

	if b.Status != bike.StatusAvailable || b.StationID == nil {
		return bike.Bike{}, bike.ErrNotAvailable
	}

	var st station.Station
	err = tx.GetContext(ctx, &st, lockStation, *b.StationID)
	if errors.Is(err, sql.ErrNoRows) {
		return bike.Bike{}, station.ErrNotFound
	}
	if err != nil {
		return bike.Bike{}, asConflict(err)
	}

	if err := decrementCounter(ctx, tx, st.ID, b.Type); err != nil {
		return bike.Bike{}, err
	}

	err = tx.GetContext(ctx, &b, markBikeInUse, bikeID)
	if err != nil {
		return bike.Bike{}, asConflict(err)
	}

	return b, tx.Commit()
}

// ReleaseBike docks an in-use bike at the destination station and increments
// the destination's counter. The origin counter is not touched here; it was
// decremented by the paired ReserveBike.
func (s *Store) ReleaseBike(ctx context.Context, bikeID, destStationID uuid.UUID) (bike.Bike, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return bike.Bike{}, err
	}
	defer tx.Rollback()

	var b bike.Bike
	err = tx.GetContext(ctx, &b, lockBike, bikeID)
	if errors.Is(err, sql.ErrNoRows) {
		return bike.Bike{}, bike.ErrNotFound
	}
	if err != nil {
		return bike.Bike{}, asConflict(err)
	}

	if b.Status != bike.StatusInUse {
		return bike.Bike{}, bike.ErrNotAvailable
	}

	if err := dockBike(ctx, tx, &b, destStationID); err != nil {
		return bike.Bike{}, err
	}

	return b, tx.Commit()
}

// RestoreBike puts a reserved bike back at its origin station after a
// cancellation, re-incrementing the counter that ReserveBike decremented.
func (s *Store) RestoreBike(ctx context.Context, bikeID, originStationID uuid.UUID) (bike.Bike, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return bike.Bike{}, err
	}
	defer tx.Rollback()

	var b bike.Bike
	err = tx.GetContext(ctx, &b, lockBike, bikeID)
	if errors.Is(err, sql.ErrNoRows) {
		return bike.Bike{}, bike.ErrNotFound
	}
	if err != nil {
		return bike.Bike{}, asConflict(err)
	}

	if b.Status != bike.StatusInUse {
		return bike.Bike{}, bike.ErrNotAvailable
	}

	if err := dockBike(ctx, tx, &b, originStationID); err != nil {
		return bike.Bike{}, err
	}

	return b, tx.Commit()
}

// AddBikeToStation attaches a bike to a station, creating the bike record on
// first sight. Electric bikes are provisioned with a full battery. If the
// bike was docked elsewhere, the old station's counter is released first.
func (s *Store) AddBikeToStation(ctx context.Context, number string, typ bike.Type, stationID uuid.UUID) (bike.Bike, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return bike.Bike{}, err
	}
	defer tx.Rollback()

	var b bike.Bike
	err = tx.GetContext(ctx, &b, lockBikeByNumber, number)
	if errors.Is(err, sql.ErrNoRows) {
		battery := sql.NullInt64{}
		if typ == bike.Electric {
			battery = sql.NullInt64{Int64: 100, Valid: true}
		}
		err = tx.GetContext(ctx, &b, insertBike, uuid.New(), number, typ.String(), battery)
	}
	if err != nil {
		return bike.Bike{}, asConflict(err)
	}

	// A bike mid-ride or out of service cannot be attached to a station.
	if b.Status != bike.StatusAvailable {
		return bike.Bike{}, bike.ErrNotAvailable
	}

	if b.StationID != nil {
		if *b.StationID == stationID {
			return b, tx.Commit()
		}
		// Moving a docked bike: free the slot it occupied.
		if _, err := tx.ExecContext(ctx, lockStationBare, *b.StationID); err != nil {
			return bike.Bike{}, asConflict(err)
		}
		if err := decrementCounter(ctx, tx, *b.StationID, b.Type); err != nil {
			return bike.Bike{}, err
		}
	}

	if err := dockBike(ctx, tx, &b, stationID); err != nil {
		return bike.Bike{}, err
	}

	return b, tx.Commit()
}

// dockBike places the locked bike at the station, with the station lock,
// active and capacity checks, bike update, and guarded counter increment.
func dockBike(ctx context.Context, tx *sqlx.Tx, b *bike.Bike, stationID uuid.UUID) error {
	var st station.Station
	err := tx.GetContext(ctx, &st, lockStation, stationID)
	if errors.Is(err, sql.ErrNoRows) {
		return station.ErrNotFound
	}
	if err != nil {
		return asConflict(err)
	}

	if !st.Active {
		return ErrStationInactive
	}
	if !st.HasSpareDock() {
		return ErrStationFull
	}

	err = tx.GetContext(ctx, b, dockBikeQuery, b.ID, stationID)
	if err != nil {
		return asConflict(err)
	}

	return incrementCounter(ctx, tx, stationID, b.Type)
}

func decrementCounter(ctx context.Context, tx *sqlx.Tx, stationID uuid.UUID, typ bike.Type) error {
	query := decrementStandard
	if typ == bike.Electric {
		query = decrementElectric
	}
	res, err := tx.ExecContext(ctx, query, stationID)
	if err != nil {
		return asConflict(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// We hold the station lock and just validated, so a guarded miss
		// means the counter no longer projects the bike records.
		return fmt.Errorf("%w: counter underflow for station %s", ErrInvariant, stationID)
	}
	return nil
}

func incrementCounter(ctx context.Context, tx *sqlx.Tx, stationID uuid.UUID, typ bike.Type) error {
	query := incrementStandard
	if typ == bike.Electric {
		query = incrementElectric
	}
	res, err := tx.ExecContext(ctx, query, stationID)
	if err != nil {
		return asConflict(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: counter overflow for station %s", ErrInvariant, stationID)
	}
	return nil
}

// asConflict maps Postgres serialization failures and deadlocks to
// ErrConflict so the engine can re-read and retry.
func asConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}

const lockBike = `SELECT * FROM bikes WHERE id = $1 FOR UPDATE`
const lockBikeByNumber = `SELECT * FROM bikes WHERE number = $1 FOR UPDATE`
const lockStation = `SELECT * FROM stations WHERE id = $1 FOR UPDATE`
const lockStationBare = `SELECT id FROM stations WHERE id = $1 FOR UPDATE`

const markBikeInUse = `UPDATE bikes SET status = 'in_use', station_id = NULL WHERE id = $1 RETURNING *`

const insertBike = `
INSERT INTO bikes (id, number, type, status, battery_level)
VALUES ($1, $2, $3, 'available', $4)
RETURNING *
`

const dockBikeQuery = `UPDATE bikes SET status = 'available', station_id = $2 WHERE id = $1 RETURNING *`

const decrementStandard = `
UPDATE stations SET available_standard_bikes = available_standard_bikes - 1
WHERE id = $1 AND available_standard_bikes > 0
`

const decrementElectric = `
UPDATE stations SET available_electric_bikes = available_electric_bikes - 1
WHERE id = $1 AND available_electric_bikes > 0
`

const incrementStandard = `
UPDATE stations SET available_standard_bikes = available_standard_bikes + 1
WHERE id = $1 AND available_standard_bikes + available_electric_bikes < capacity
`

const incrementElectric = `
UPDATE stations SET available_electric_bikes = available_electric_bikes + 1
WHERE id = $1 AND available_standard_bikes + available_electric_bikes < capacity
`

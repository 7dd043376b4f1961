package reservation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/citywheel/bikeshare-backend/bike"
	"github.com/citywheel/bikeshare-backend/customer"
	"github.com/citywheel/bikeshare-backend/geo"
	"github.com/citywheel/bikeshare-backend/inventory"
	"github.com/citywheel/bikeshare-backend/pricing"
	"github.com/citywheel/bikeshare-backend/station"
)

// MinimumDurationMinutes is the shortest rental a customer may request.
const MinimumDurationMinutes = 30

// conflictRetries bounds how often a lost inventory race is retried before it
// is surfaced. Each retry re-reads and re-validates inside the store.
const conflictRetries = 3

// Collaborator contracts. The sqlx repositories satisfy these; tests swap in
// fakes.

type BikeDirectory interface {
	GetBikeByID(ctx context.Context, id string) (bike.Bike, error)
}

type StationDirectory interface {
	GetStation(ctx context.Context, id string) (station.Station, error)
}

type Inventory interface {
	ReserveBike(ctx context.Context, bikeID uuid.UUID) (bike.Bike, error)
	ReleaseBike(ctx context.Context, bikeID, destStationID uuid.UUID) (bike.Bike, error)
	RestoreBike(ctx context.Context, bikeID, originStationID uuid.UUID) (bike.Bike, error)
}

type Store interface {
	Save(ctx context.Context, res *Reservation) error
	Update(ctx context.Context, res *Reservation) error
	GetByID(ctx context.Context, id uuid.UUID) (Reservation, error)
	GetOpenForUser(ctx context.Context, customerID uuid.UUID) (*Reservation, error)
	GetOpenForBike(ctx context.Context, bikeID uuid.UUID) (*Reservation, error)
	ActiveForUser(ctx context.Context, customerID uuid.UUID) ([]Reservation, error)
	HistoryForUser(ctx context.Context, customerID uuid.UUID) ([]Reservation, error)
}

// Engine drives the reservation state machine. All bike and station counter
// mutations go through the inventory; the engine never writes those records
// directly.
type Engine struct {
	bikes    BikeDirectory
	stations StationDirectory
	inv      Inventory
	store    Store
	logger   *slog.Logger

	now func() time.Time
}

func NewEngine(bikes BikeDirectory, stations StationDirectory, inv Inventory, store Store, logger *slog.Logger) *Engine {
	return &Engine{
		bikes:    bikes,
		stations: stations,
		inv:      inv,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateCommand carries the caller's input for a new rental.
type CreateCommand struct {
	BikeID          string
	StationID       string
	DurationMinutes int
	Customer        *customer.Customer
}

// Create starts a rental. Preconditions are checked in order: the bike exists
// and is available, it is docked at the named station, the customer has no
// open reservation, and the requested duration meets the minimum. On success
// the bike is reserved through the inventory and an active reservation with a
// provisional cost is persisted. Any precondition failure returns a typed
// error with no mutation.
func (e *Engine) Create(ctx context.Context, cmd CreateCommand) (Reservation, error) {
	b, err := e.bikes.GetBikeByID(ctx, cmd.BikeID)
	if err != nil {
		return Reservation{}, err
	}
	if b.Status != bike.StatusAvailable {
		return Reservation{}, bike.ErrNotAvailable
	}

	st, err := e.stations.GetStation(ctx, cmd.StationID)
	if err != nil {
		return Reservation{}, err
	}
	if !b.AtStation(st.ID) {
		return Reservation{}, ErrBikeNotAtStation
	}

	open, err := e.store.GetOpenForUser(ctx, cmd.Customer.ID)
	if err != nil {
		return Reservation{}, err
	}
	if open != nil {
		return Reservation{}, ErrOpenReservation
	}

	// A scheduled reservation holds the bike without marking it in_use, so
	// the status check above is not enough.
	openForBike, err := e.store.GetOpenForBike(ctx, b.ID)
	if err != nil {
		return Reservation{}, err
	}
	if openForBike != nil {
		return Reservation{}, bike.ErrNotAvailable
	}

	if cmd.DurationMinutes < MinimumDurationMinutes {
		return Reservation{}, ErrInvalidDuration
	}

	b, err = e.reserveBike(ctx, b.ID)
	if err != nil {
		return Reservation{}, err
	}

	cost := pricing.Compute(cmd.Customer.Plan, cmd.DurationMinutes)
	now := e.now()

	res := Reservation{
		ID:              uuid.New(),
		BikeID:          b.ID,
		CustomerID:      cmd.Customer.ID,
		StartStationID:  st.ID,
		ReservationTime: now,
		StartTime:       now,
		DurationMinutes: cmd.DurationMinutes,
		BaseRate:        cost.BaseRate,
		TimeCost:        cost.TimeCost,
		Discount:        cost.Discount,
		TotalCost:       cost.Total,
		Status:          StatusActive,
	}

	if err := e.store.Save(ctx, &res); err != nil {
		// The bike claim must not outlive the failed record write.
		if _, restoreErr := e.inv.RestoreBike(ctx, b.ID, st.ID); restoreErr != nil {
			e.logger.ErrorContext(ctx, "failed to restore bike after save failure",
				"bikeId", b.ID, "error", restoreErr)
		}
		return Reservation{}, err
	}

	return res, nil
}

// EndRental completes an active rental: the bike is released into the return
// station, and duration, distance and cost are recomputed from the actual
// ride. A full return station leaves the reservation active and the bike in
// use.
func (e *Engine) EndRental(ctx context.Context, reservationID uuid.UUID, returnStationID string, cust *customer.Customer) (Reservation, error) {
	res, err := e.store.GetByID(ctx, reservationID)
	if err != nil {
		return Reservation{}, err
	}
	if res.CustomerID != cust.ID {
		return Reservation{}, ErrNotAuthorized
	}
	if res.Status != StatusActive {
		return Reservation{}, ErrNotActive
	}

	ret, err := e.stations.GetStation(ctx, returnStationID)
	if err != nil {
		return Reservation{}, err
	}

	start, err := e.stations.GetStation(ctx, res.StartStationID.String())
	if err != nil {
		return Reservation{}, err
	}

	now := e.now()
	actualMinutes := int(now.Sub(res.StartTime).Minutes())
	if actualMinutes < 0 {
		actualMinutes = 0
	}

	if _, err := e.releaseBike(ctx, res.BikeID, ret.ID); err != nil {
		return Reservation{}, err
	}

	distance := geo.Distance(start.Latitude(), start.Longitude(), ret.Latitude(), ret.Longitude())
	cost := pricing.Compute(cust.Plan, actualMinutes)

	res.EndStationID = &ret.ID
	res.EndTime.Time = now
	res.EndTime.Valid = true
	res.DurationMinutes = actualMinutes
	res.DistanceMeters.Float64 = distance
	res.DistanceMeters.Valid = true
	res.BaseRate = cost.BaseRate
	res.TimeCost = cost.TimeCost
	res.Discount = cost.Discount
	res.TotalCost = cost.Total
	res.Status = StatusCompleted

	if err := e.store.Update(ctx, &res); err != nil {
		// The record still says active, so the bike cannot stay docked.
		if _, reserveErr := e.inv.ReserveBike(ctx, res.BikeID); reserveErr != nil {
			e.logger.ErrorContext(ctx, "failed to take bike back after update failure",
				"bikeId", res.BikeID, "error", reserveErr)
		}
		return Reservation{}, err
	}

	return res, nil
}

// Cancel aborts an open reservation. An active rental's bike goes back to its
// start station and the counter decremented at creation is restored; a
// scheduled reservation never claimed the bike, so only the record changes.
func (e *Engine) Cancel(ctx context.Context, reservationID uuid.UUID, cust *customer.Customer) (Reservation, error) {
	res, err := e.store.GetByID(ctx, reservationID)
	if err != nil {
		return Reservation{}, err
	}
	if res.CustomerID != cust.ID {
		return Reservation{}, ErrNotAuthorized
	}
	if !res.Status.Open() {
		return Reservation{}, ErrAlreadyFinished
	}

	if res.Status == StatusActive {
		if _, err := e.restoreBike(ctx, res.BikeID, res.StartStationID); err != nil {
			return Reservation{}, err
		}
	}

	res.Status = StatusCancelled
	if err := e.store.Update(ctx, &res); err != nil {
		return Reservation{}, err
	}

	return res, nil
}

// Activate turns a scheduled reservation into an active rental: the bike is
// claimed at this moment and the clock starts now.
func (e *Engine) Activate(ctx context.Context, reservationID uuid.UUID, cust *customer.Customer) (Reservation, error) {
	res, err := e.store.GetByID(ctx, reservationID)
	if err != nil {
		return Reservation{}, err
	}
	if res.CustomerID != cust.ID {
		return Reservation{}, ErrNotAuthorized
	}
	if res.Status != StatusScheduled {
		return Reservation{}, ErrNotScheduled
	}

	b, err := e.bikes.GetBikeByID(ctx, res.BikeID.String())
	if err != nil {
		return Reservation{}, err
	}
	if !b.AtStation(res.StartStationID) {
		return Reservation{}, ErrBikeNotAtStation
	}

	if _, err := e.reserveBike(ctx, res.BikeID); err != nil {
		return Reservation{}, err
	}

	res.StartTime = e.now()
	res.Status = StatusActive
	if err := e.store.Update(ctx, &res); err != nil {
		return Reservation{}, err
	}

	return res, nil
}

func (e *Engine) ActiveReservations(ctx context.Context, cust *customer.Customer) ([]Reservation, error) {
	return e.store.ActiveForUser(ctx, cust.ID)
}

func (e *Engine) History(ctx context.Context, cust *customer.Customer) ([]Reservation, error) {
	return e.store.HistoryForUser(ctx, cust.ID)
}

// Inventory calls retried on conflict. The store re-reads and re-validates
// inside each attempt, so a plain re-call observes fresh state.

func (e *Engine) reserveBike(ctx context.Context, bikeID uuid.UUID) (bike.Bike, error) {
	return e.retryConflict(ctx, func() (bike.Bike, error) {
		return e.inv.ReserveBike(ctx, bikeID)
	})
}

func (e *Engine) releaseBike(ctx context.Context, bikeID, stationID uuid.UUID) (bike.Bike, error) {
	return e.retryConflict(ctx, func() (bike.Bike, error) {
		return e.inv.ReleaseBike(ctx, bikeID, stationID)
	})
}

func (e *Engine) restoreBike(ctx context.Context, bikeID, stationID uuid.UUID) (bike.Bike, error) {
	return e.retryConflict(ctx, func() (bike.Bike, error) {
		return e.inv.RestoreBike(ctx, bikeID, stationID)
	})
}

func (e *Engine) retryConflict(ctx context.Context, fn func() (bike.Bike, error)) (bike.Bike, error) {
	var b bike.Bike
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		b, err = fn()
		if !errors.Is(err, inventory.ErrConflict) {
			return b, err
		}
		e.logger.WarnContext(ctx, "inventory conflict, retrying", "attempt", attempt+1)
	}
	return b, err
}

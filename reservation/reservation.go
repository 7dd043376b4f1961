package reservation

import (
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the reservation state machine:
// scheduled -> active -> completed, with scheduled/active -> cancelled.
// Completed and cancelled are terminal; records are never deleted.
type Status int

const (
	StatusScheduled Status = iota
	StatusActive
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	return [...]string{"scheduled", "active", "completed", "cancelled"}[s]
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) Scan(i any) error {
	switch v := i.(type) {
	case string:
		switch v {
		case "scheduled":
			*s = StatusScheduled
			return nil
		case "active":
			*s = StatusActive
			return nil
		case "completed":
			*s = StatusCompleted
			return nil
		case "cancelled":
			*s = StatusCancelled
			return nil
		}
	}
	panic("invalid scan type")
}

// Open reports whether the reservation still holds a bike claim.
func (s Status) Open() bool {
	return s == StatusScheduled || s == StatusActive
}

type Reservation struct {
	ID         uuid.UUID `db:"id"`
	BikeID     uuid.UUID `db:"bike_id"`
	CustomerID uuid.UUID `db:"customer_id"`

	StartStationID uuid.UUID  `db:"start_station_id"`
	EndStationID   *uuid.UUID `db:"end_station_id"`

	ReservationTime time.Time    `db:"reservation_time"`
	StartTime       time.Time    `db:"start_time"`
	EndTime         sql.NullTime `db:"end_time"`

	// DurationMinutes holds the requested duration until the rental ends,
	// then the actual ride time.
	DurationMinutes int             `db:"duration_minutes"`
	DistanceMeters  sql.NullFloat64 `db:"distance_meters"`

	BaseRate  decimal.Decimal `db:"base_rate"`
	TimeCost  decimal.Decimal `db:"time_cost"`
	Discount  decimal.Decimal `db:"discount"`
	TotalCost decimal.Decimal `db:"total_cost"`

	Status Status `db:"status"`
}

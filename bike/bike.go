// Package bike
package bike

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Type distinguishes the two fleet classes. Electric bikes carry a battery
// level; standard bikes do not.
type Type int

const (
	Standard Type = iota
	Electric
)

func (t Type) String() string {
	return [...]string{"standard", "electric"}[t]
}

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Type) Scan(i any) error {
	switch v := i.(type) {
	case string:
		switch v {
		case "standard":
			*t = Standard
			return nil
		case "electric":
			*t = Electric
			return nil
		}
	}
	panic("invalid scan type")
}

// Status is the bike lifecycle state. InUse is owned by the reservation
// engine: a bike is InUse exactly while one active reservation references it.
type Status int

const (
	StatusAvailable Status = iota
	StatusReserved
	StatusInUse
	StatusMaintenance
	StatusDamaged
)

func (s Status) String() string {
	return [...]string{"available", "reserved", "in_use", "maintenance", "damaged"}[s]
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) Scan(i any) error {
	switch v := i.(type) {
	case string:
		switch v {
		case "available":
			*s = StatusAvailable
			return nil
		case "reserved":
			*s = StatusReserved
			return nil
		case "in_use":
			*s = StatusInUse
			return nil
		case "maintenance":
			*s = StatusMaintenance
			return nil
		case "damaged":
			*s = StatusDamaged
			return nil
		}
	}
	panic("invalid scan type")
}

// Bike represents a rentable unit in the fleet.
type Bike struct {
	// ID is an internal identifier for a bike
	ID uuid.UUID
	// Number is the physical label on the frame (e.g. "CW-0042"). It should
	// be scannable in QR Code or Code-128 format.
	Number string

	Type   Type
	Status Status

	// BatteryLevel is a percentage, set for electric bikes only.
	BatteryLevel *int `db:"battery_level"`

	// StationID is nil while the bike is out on a ride.
	StationID *uuid.UUID `db:"station_id"`

	AverageRating float64 `db:"average_rating"`
	TotalRatings  int     `db:"total_ratings"`
}

// AtStation reports whether the bike is currently docked at the given station.
func (b Bike) AtStation(stationID uuid.UUID) bool {
	return b.StationID != nil && *b.StationID == stationID
}

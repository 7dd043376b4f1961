package station

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Station struct {
	ID       uuid.UUID
	Name     string
	Address  string
	Location pgtype.Point

	// Capacity is the number of physical docks. The availability counters
	// below are a cached projection of the bikes table and must satisfy
	// 0 <= standard, 0 <= electric, standard+electric <= capacity.
	Capacity               int
	AvailableStandardBikes int `db:"available_standard_bikes"`
	AvailableElectricBikes int `db:"available_electric_bikes"`

	Active bool
}

// AvailableBikes is the total number of docked, rentable bikes.
func (s Station) AvailableBikes() int {
	return s.AvailableStandardBikes + s.AvailableElectricBikes
}

// HasSpareDock reports whether one more bike can be returned here.
func (s Station) HasSpareDock() bool {
	return s.AvailableBikes() < s.Capacity
}

func (s Station) Latitude() float64 {
	return s.Location.P.X
}

func (s Station) Longitude() float64 {
	return s.Location.P.Y
}

package inventory

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/citywheel/bikeshare-backend/bike"
	"github.com/citywheel/bikeshare-backend/station"
)

// Memory is an in-process implementation of the inventory contract, used by
// unit tests and local development. It enforces the same invariants as the
// Postgres store: each operation holds a mutex keyed by the bike ID and then
// one keyed by the station ID for the whole read-validate-mutate sequence, so
// operations on the same bike or station serialize while disjoint ones run in
// parallel. Lock order is always bike before station; when a move touches two
// stations they are locked in ID order.
type Memory struct {
	mu       sync.Mutex
	bikes    map[uuid.UUID]bike.Bike
	byNumber map[string]uuid.UUID
	stations map[uuid.UUID]station.Station
	locks    map[uuid.UUID]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		bikes:    make(map[uuid.UUID]bike.Bike),
		byNumber: make(map[string]uuid.UUID),
		stations: make(map[uuid.UUID]station.Station),
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *Memory) entityLock(id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Memory) getBike(id uuid.UUID) (bike.Bike, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bikes[id]
	return b, ok
}

func (m *Memory) getStation(id uuid.UUID) (station.Station, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stations[id]
	return st, ok
}

// commit applies a bike and station update as one unit so readers never see
// a bike moved without its counter following.
func (m *Memory) commit(b *bike.Bike, sts ...*station.Station) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b != nil {
		m.bikes[b.ID] = *b
		m.byNumber[b.Number] = b.ID
	}
	for _, st := range sts {
		m.stations[st.ID] = *st
	}
}

func (m *Memory) ReserveBike(ctx context.Context, bikeID uuid.UUID) (bike.Bike, error) {
	bl := m.entityLock(bikeID)
	bl.Lock()
	defer bl.Unlock()

	b, ok := m.getBike(bikeID)
	if !ok {
		return bike.Bike{}, bike.ErrNotFound
	}
	if b.Status != bike.StatusAvailable || b.StationID == nil {
		return bike.Bike{}, bike.ErrNotAvailable
	}

	stationID := *b.StationID
	sl := m.entityLock(stationID)
	sl.Lock()
	defer sl.Unlock()

	st, ok := m.getStation(stationID)
	if !ok {
		return bike.Bike{}, station.ErrNotFound
	}

	if err := decrement(&st, b.Type); err != nil {
		return bike.Bike{}, err
	}

	b.Status = bike.StatusInUse
	b.StationID = nil
	m.commit(&b, &st)
	return b, nil
}

func (m *Memory) ReleaseBike(ctx context.Context, bikeID, destStationID uuid.UUID) (bike.Bike, error) {
	return m.dock(bikeID, destStationID)
}

func (m *Memory) RestoreBike(ctx context.Context, bikeID, originStationID uuid.UUID) (bike.Bike, error) {
	return m.dock(bikeID, originStationID)
}

func (m *Memory) dock(bikeID, stationID uuid.UUID) (bike.Bike, error) {
	bl := m.entityLock(bikeID)
	bl.Lock()
	defer bl.Unlock()

	b, ok := m.getBike(bikeID)
	if !ok {
		return bike.Bike{}, bike.ErrNotFound
	}
	if b.Status != bike.StatusInUse {
		return bike.Bike{}, bike.ErrNotAvailable
	}

	sl := m.entityLock(stationID)
	sl.Lock()
	defer sl.Unlock()

	st, ok := m.getStation(stationID)
	if !ok {
		return bike.Bike{}, station.ErrNotFound
	}
	if err := attach(&b, &st); err != nil {
		return bike.Bike{}, err
	}
	m.commit(&b, &st)
	return b, nil
}

// attach validates the destination and mutates the local copies only; nothing
// is visible until the caller commits, so a rejected attach mutates nothing.
func attach(b *bike.Bike, st *station.Station) error {
	if !st.Active {
		return ErrStationInactive
	}
	if !st.HasSpareDock() {
		return ErrStationFull
	}
	increment(st, b.Type)
	id := st.ID
	b.Status = bike.StatusAvailable
	b.StationID = &id
	return nil
}

func (m *Memory) AddBikeToStation(ctx context.Context, number string, typ bike.Type, stationID uuid.UUID) (bike.Bike, error) {
	m.mu.Lock()
	id, known := m.byNumber[number]
	m.mu.Unlock()

	if !known {
		b := bike.Bike{
			ID:     uuid.New(),
			Number: number,
			Type:   typ,
			Status: bike.StatusAvailable,
		}
		if typ == bike.Electric {
			battery := 100
			b.BatteryLevel = &battery
		}

		sl := m.entityLock(stationID)
		sl.Lock()
		defer sl.Unlock()

		st, ok := m.getStation(stationID)
		if !ok {
			return bike.Bike{}, station.ErrNotFound
		}
		// The record only exists once the destination checks pass, so a
		// rejected add leaves the number free for a retry.
		if err := attach(&b, &st); err != nil {
			return bike.Bike{}, err
		}
		m.commit(&b, &st)
		return b, nil
	}

	bl := m.entityLock(id)
	bl.Lock()
	defer bl.Unlock()

	b, ok := m.getBike(id)
	if !ok {
		return bike.Bike{}, bike.ErrNotFound
	}
	if b.Status != bike.StatusAvailable {
		return bike.Bike{}, bike.ErrNotAvailable
	}
	if b.StationID != nil && *b.StationID == stationID {
		return b, nil
	}

	if b.StationID == nil {
		sl := m.entityLock(stationID)
		sl.Lock()
		defer sl.Unlock()

		st, ok := m.getStation(stationID)
		if !ok {
			return bike.Bike{}, station.ErrNotFound
		}
		if err := attach(&b, &st); err != nil {
			return bike.Bike{}, err
		}
		m.commit(&b, &st)
		return b, nil
	}

	// Moving a docked bike: both station locks, lowest ID first so two
	// opposing moves cannot deadlock, and the destination checks land in the
	// same unit as the old counter release.
	old := *b.StationID
	first, second := old, stationID
	if bytes.Compare(second[:], first[:]) < 0 {
		first, second = second, first
	}
	fl := m.entityLock(first)
	fl.Lock()
	defer fl.Unlock()
	sl := m.entityLock(second)
	sl.Lock()
	defer sl.Unlock()

	dest, ok := m.getStation(stationID)
	if !ok {
		return bike.Bike{}, station.ErrNotFound
	}
	if err := attach(&b, &dest); err != nil {
		return bike.Bike{}, err
	}

	if oldSt, ok := m.getStation(old); ok {
		if err := decrement(&oldSt, b.Type); err != nil {
			return bike.Bike{}, err
		}
		m.commit(&b, &oldSt, &dest)
	} else {
		m.commit(&b, &dest)
	}
	return b, nil
}

func decrement(st *station.Station, typ bike.Type) error {
	switch typ {
	case bike.Electric:
		if st.AvailableElectricBikes <= 0 {
			return ErrInvariant
		}
		st.AvailableElectricBikes--
	default:
		if st.AvailableStandardBikes <= 0 {
			return ErrInvariant
		}
		st.AvailableStandardBikes--
	}
	return nil
}

func increment(st *station.Station, typ bike.Type) {
	if typ == bike.Electric {
		st.AvailableElectricBikes++
	} else {
		st.AvailableStandardBikes++
	}
}

// Audit recomputes availability from the bike records and reports stations
// whose counters have drifted, mirroring the Postgres store's audit.
func (m *Memory) Audit(ctx context.Context) ([]Drift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type counts struct{ standard, electric int }
	actual := make(map[uuid.UUID]counts)
	for _, b := range m.bikes {
		if b.Status != bike.StatusAvailable || b.StationID == nil {
			continue
		}
		c := actual[*b.StationID]
		if b.Type == bike.Electric {
			c.electric++
		} else {
			c.standard++
		}
		actual[*b.StationID] = c
	}

	var drift []Drift
	for id, st := range m.stations {
		c := actual[id]
		if c.standard != st.AvailableStandardBikes || c.electric != st.AvailableElectricBikes {
			drift = append(drift, Drift{
				StationID:        id,
				StationName:      st.Name,
				CountedStandard:  c.standard,
				CountedElectric:  c.electric,
				RecordedStandard: st.AvailableStandardBikes,
				RecordedElectric: st.AvailableElectricBikes,
			})
		}
	}
	return drift, nil
}

// Seeding and read helpers, for tests and the dev server.

func (m *Memory) PutStation(st station.Station) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stations[st.ID] = st
}

func (m *Memory) PutBike(b bike.Bike) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bikes[b.ID] = b
	m.byNumber[b.Number] = b.ID
}

func (m *Memory) GetBikeByID(ctx context.Context, id string) (bike.Bike, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return bike.Bike{}, bike.ErrNotFound
	}
	b, ok := m.getBike(parsed)
	if !ok {
		return bike.Bike{}, bike.ErrNotFound
	}
	return b, nil
}

func (m *Memory) GetStation(ctx context.Context, id string) (station.Station, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return station.Station{}, station.ErrNotFound
	}
	st, ok := m.getStation(parsed)
	if !ok {
		return station.Station{}, station.ErrNotFound
	}
	return st, nil
}

package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citywheel/bikeshare-backend/bike"
	"github.com/citywheel/bikeshare-backend/station"
)

func seedStation(m *Memory, capacity, standard, electric int) station.Station {
	st := station.Station{
		ID:                     uuid.New(),
		Name:                   "Test Station",
		Capacity:               capacity,
		AvailableStandardBikes: standard,
		AvailableElectricBikes: electric,
		Active:                 true,
	}
	m.PutStation(st)
	return st
}

func seedBike(m *Memory, typ bike.Type, status bike.Status, stationID *uuid.UUID) bike.Bike {
	b := bike.Bike{
		ID:        uuid.New(),
		Number:    "CW-" + uuid.NewString()[:8],
		Type:      typ,
		Status:    status,
		StationID: stationID,
	}
	m.PutBike(b)
	return b
}

func TestReserveBikeDecrementsCounter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	st := seedStation(m, 5, 2, 0)
	b := seedBike(m, bike.Standard, bike.StatusAvailable, &st.ID)

	got, err := m.ReserveBike(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bike.StatusInUse, got.Status)
	assert.Nil(t, got.StationID)

	after, err := m.GetStation(ctx, st.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, after.AvailableStandardBikes)
}

func TestReserveBikeNotAvailable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	st := seedStation(m, 5, 1, 0)
	b := seedBike(m, bike.Standard, bike.StatusMaintenance, &st.ID)

	_, err := m.ReserveBike(ctx, b.ID)
	assert.ErrorIs(t, err, bike.ErrNotAvailable)

	after, _ := m.GetStation(ctx, st.ID.String())
	assert.Equal(t, 1, after.AvailableStandardBikes, "failed reserve must not mutate")
}

func TestReserveBikeUnknown(t *testing.T) {
	m := NewMemory()
	_, err := m.ReserveBike(context.Background(), uuid.New())
	assert.ErrorIs(t, err, bike.ErrNotFound)
}

func TestReleaseBikeIntoFullStation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	full := seedStation(m, 2, 1, 1)
	b := seedBike(m, bike.Electric, bike.StatusInUse, nil)

	_, err := m.ReleaseBike(ctx, b.ID, full.ID)
	assert.ErrorIs(t, err, ErrStationFull)

	after, _ := m.GetBikeByID(ctx, b.ID.String())
	assert.Equal(t, bike.StatusInUse, after.Status, "failed release must not mutate")
}

func TestReleaseBikeIntoInactiveStation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	st := seedStation(m, 5, 0, 0)
	st.Active = false
	m.PutStation(st)
	b := seedBike(m, bike.Standard, bike.StatusInUse, nil)

	_, err := m.ReleaseBike(ctx, b.ID, st.ID)
	assert.ErrorIs(t, err, ErrStationInactive)
}

func TestRestoreBikeReincrementsOrigin(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	st := seedStation(m, 5, 1, 0)
	b := seedBike(m, bike.Standard, bike.StatusAvailable, &st.ID)

	_, err := m.ReserveBike(ctx, b.ID)
	require.NoError(t, err)

	_, err = m.RestoreBike(ctx, b.ID, st.ID)
	require.NoError(t, err)

	after, _ := m.GetStation(ctx, st.ID.String())
	assert.Equal(t, 1, after.AvailableStandardBikes)

	drift, err := m.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestAddBikeToStationCreatesElectricWithFullBattery(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	st := seedStation(m, 5, 0, 0)

	b, err := m.AddBikeToStation(ctx, "CW-0100", bike.Electric, st.ID)
	require.NoError(t, err)
	require.NotNil(t, b.BatteryLevel)
	assert.Equal(t, 100, *b.BatteryLevel)
	assert.Equal(t, bike.StatusAvailable, b.Status)

	after, _ := m.GetStation(ctx, st.ID.String())
	assert.Equal(t, 1, after.AvailableElectricBikes)
}

func TestAddBikeToStationMovesDockedBike(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	from := seedStation(m, 5, 0, 0)
	to := seedStation(m, 5, 0, 0)

	b, err := m.AddBikeToStation(ctx, "CW-0101", bike.Standard, from.ID)
	require.NoError(t, err)

	_, err = m.AddBikeToStation(ctx, "CW-0101", bike.Standard, to.ID)
	require.NoError(t, err)

	fromAfter, _ := m.GetStation(ctx, from.ID.String())
	toAfter, _ := m.GetStation(ctx, to.ID.String())
	assert.Equal(t, 0, fromAfter.AvailableStandardBikes)
	assert.Equal(t, 1, toAfter.AvailableStandardBikes)

	moved, _ := m.GetBikeByID(ctx, b.ID.String())
	assert.True(t, moved.AtStation(to.ID))
}

func TestAddBikeToStationFull(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	st := seedStation(m, 1, 1, 0)

	_, err := m.AddBikeToStation(ctx, "CW-0102", bike.Standard, st.ID)
	assert.ErrorIs(t, err, ErrStationFull)
}

func TestAddBikeToStationFullLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	full := seedStation(m, 1, 1, 0)
	seedBike(m, bike.Standard, bike.StatusAvailable, &full.ID)
	open := seedStation(m, 5, 0, 0)

	_, err := m.AddBikeToStation(ctx, "CW-0103", bike.Standard, full.ID)
	require.ErrorIs(t, err, ErrStationFull)

	// The rejected add must not have claimed the number.
	b, err := m.AddBikeToStation(ctx, "CW-0103", bike.Standard, open.ID)
	require.NoError(t, err)
	assert.Equal(t, bike.StatusAvailable, b.Status)
	assert.True(t, b.AtStation(open.ID))

	drift, err := m.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestAddBikeToStationMoveIntoFullStation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	from := seedStation(m, 5, 0, 0)
	full := seedStation(m, 1, 1, 0)
	seedBike(m, bike.Standard, bike.StatusAvailable, &full.ID)

	b, err := m.AddBikeToStation(ctx, "CW-0104", bike.Standard, from.ID)
	require.NoError(t, err)

	_, err = m.AddBikeToStation(ctx, "CW-0104", bike.Standard, full.ID)
	assert.ErrorIs(t, err, ErrStationFull)

	// A failed move leaves the bike docked where it was.
	after, _ := m.GetBikeByID(ctx, b.ID.String())
	assert.True(t, after.AtStation(from.ID))
	fromAfter, _ := m.GetStation(ctx, from.ID.String())
	assert.Equal(t, 1, fromAfter.AvailableStandardBikes)

	drift, err := m.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestConcurrentReserveSameBike(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	st := seedStation(m, 5, 1, 0)
	b := seedBike(m, bike.Standard, bike.StatusAvailable, &st.ID)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ReserveBike(ctx, b.ID)
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, bike.ErrNotAvailable) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	after, _ := m.GetStation(ctx, st.ID.String())
	assert.Equal(t, 0, after.AvailableStandardBikes)
}

func TestConcurrentReleaseIntoLastDock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	st := seedStation(m, 2, 1, 0) // one spare dock
	b1 := seedBike(m, bike.Standard, bike.StatusInUse, nil)
	b2 := seedBike(m, bike.Standard, bike.StatusInUse, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	for _, id := range []uuid.UUID{b1.ID, b2.ID} {
		wg.Add(1)
		go func(bikeID uuid.UUID) {
			defer wg.Done()
			_, err := m.ReleaseBike(ctx, bikeID, st.ID)
			errs <- err
		}(id)
	}

	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrStationFull) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	after, _ := m.GetStation(ctx, st.ID.String())
	assert.Equal(t, 2, after.AvailableBikes())
	assert.LessOrEqual(t, after.AvailableBikes(), after.Capacity)
}

func TestAuditDetectsDrift(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	st := seedStation(m, 5, 3, 0) // counter says 3, but no bikes are docked

	drift, err := m.Audit(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, st.ID, drift[0].StationID)
	assert.Equal(t, 0, drift[0].CountedStandard)
	assert.Equal(t, 3, drift[0].RecordedStandard)
}

// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package static

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/reconcile"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const (
	avlTrips  = "42,08:15:00,Oak Ave,Main St,7\n"
	avlStops  = "GN1,Main St\n"
	avlBlocks = "5,7\n"
)

func testSchedule() *schedules.Package {
	idx := schedules.NewIndex()
	idx.Insert(schedules.Tuple{Start: "Main St", End: "Oak Ave", EndTime: 29700, ServiceID: "WKDY"}, "T1")
	return &schedules.Package{
		Index:     idx,
		StopNames: schedules.StopNames{"main st": "S1"},
		Calendar:  schedules.LegacyCalendar(time.UTC),
	}
}

func newTestData() (*Data, *fakeClock) {
	clk := &fakeClock{now: time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)}
	return &Data{Clock: clk, Sink: miss.Discard}, clk
}

func supplyAVL(t *testing.T, d *Data) {
	t.Helper()
	require.NoError(t, d.SetAVLTrips([]byte(avlTrips)))
	require.NoError(t, d.SetAVLStops([]byte(avlStops)))
	require.NoError(t, d.SetAVLBlocks([]byte(avlBlocks)))
}

func TestDataInitiallyIncomplete(t *testing.T) {
	d, _ := newTestData()

	assert.False(t, d.IsReady())
	assert.True(t, d.IsStale())
	assert.Equal(t, Incomplete, d.State())
	assert.Nil(t, d.Maps())

	err := d.Check()
	assert.ErrorIs(t, err, ErrIncomplete)

	var notReady *NotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.Equal(t, []Input{Schedule, AVLTrips, AVLStops, AVLBlocks}, notReady.Missing)
}

func TestDataReadyAfterAllInputs(t *testing.T) {
	d, _ := newTestData()

	require.NoError(t, d.SetAVLBlocks([]byte(avlBlocks)))
	require.NoError(t, d.SetSchedule(testSchedule()))
	require.NoError(t, d.SetAVLStops([]byte(avlStops)))
	assert.False(t, d.IsReady())

	var notReady *NotReadyError
	require.ErrorAs(t, d.Check(), &notReady)
	assert.Equal(t, []Input{AVLTrips}, notReady.Missing)

	require.NoError(t, d.SetAVLTrips([]byte(avlTrips)))
	assert.True(t, d.IsReady())
	assert.False(t, d.IsStale())
	assert.Equal(t, Ready, d.State())
	assert.NoError(t, d.Check())

	m := d.Maps()
	require.NotNil(t, m)
	assert.Equal(t, []string{"T1"}, m.Trips["42"]["WKDY"])
	assert.Equal(t, []reconcile.BlockEntry{{TripID: "42", EndTime: 29700}}, m.WorkTrips["5"])
	assert.Equal(t, "S1", m.Stops["gn1"])
}

func TestDataScheduleLastTriggersRebuild(t *testing.T) {
	d, _ := newTestData()
	supplyAVL(t, d)
	assert.False(t, d.IsReady())

	require.NoError(t, d.SetSchedule(testSchedule()))
	assert.True(t, d.IsReady())
}

func TestDataBecomesStale(t *testing.T) {
	d, clk := newTestData()
	d.MaxAge = time.Hour
	require.NoError(t, d.SetSchedule(testSchedule()))
	supplyAVL(t, d)

	clk.Advance(59 * time.Minute)
	assert.Equal(t, Ready, d.State())

	clk.Advance(2 * time.Minute)
	assert.Equal(t, Stale, d.State())
	assert.True(t, d.IsReady())

	err := d.Check()
	assert.ErrorIs(t, err, ErrStale)
	var notReady *NotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.Equal(t, []Input{AVLTrips, AVLStops, AVLBlocks}, notReady.Missing)

	// A partial refresh does not advance the clock
	require.NoError(t, d.SetAVLStops([]byte(avlStops)))
	require.NoError(t, d.SetAVLTrips([]byte(avlTrips)))
	assert.Equal(t, Stale, d.State())

	require.NoError(t, d.SetAVLBlocks([]byte(avlBlocks)))
	assert.Equal(t, Ready, d.State())
	assert.WithinDuration(t, clk.Now(), d.AVLTimestamp(), 0)
}

func TestDataClearsRawInputsAfterRebuild(t *testing.T) {
	d, _ := newTestData()
	require.NoError(t, d.SetSchedule(testSchedule()))
	supplyAVL(t, d)
	first := d.Maps()
	assert.Empty(t, d.Status().Pending)

	require.NoError(t, d.SetAVLTrips([]byte(avlTrips)))
	assert.Same(t, first, d.Maps())
	assert.Equal(t, []Input{AVLTrips}, d.Status().Pending)

	// Replacing the schedule alone does not rebuild, as the AVL exports are gone
	require.NoError(t, d.SetSchedule(testSchedule()))
	assert.Same(t, first, d.Maps())
}

func TestDataRejectsEmptySchedule(t *testing.T) {
	d, _ := newTestData()
	assert.ErrorIs(t, d.SetSchedule(nil), reconcile.ErrNoSchedule)
	assert.ErrorIs(t, d.SetSchedule(&schedules.Package{}), reconcile.ErrNoSchedule)
	assert.Nil(t, d.Schedule())
}

func TestDataSerializesRebuilds(t *testing.T) {
	d, _ := newTestData()
	require.NoError(t, d.SetSchedule(testSchedule()))

	var mu sync.Mutex
	rebuilds := 0
	d.OnRebuild = func(m *reconcile.Maps, _ time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, err)
		assert.NotNil(t, m)
		rebuilds++
	}

	var wg sync.WaitGroup
	for _, set := range []func([]byte) error{d.SetAVLTrips, d.SetAVLStops, d.SetAVLBlocks} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, set(nil))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, rebuilds)
	assert.True(t, d.IsReady())
}

func TestDataStatus(t *testing.T) {
	d, clk := newTestData()
	require.NoError(t, d.SetSchedule(testSchedule()))
	supplyAVL(t, d)
	clk.Advance(90 * time.Second)

	s := d.Status()
	assert.Equal(t, Ready, s.State)
	assert.Equal(t, "1m30s", s.AVLAge)
	require.NotNil(t, s.Summary)
	assert.Equal(t, reconcile.Counts{Rows: 1, Matched: 1}, s.Summary.Trips)
}

func TestNotReadyErrorMessage(t *testing.T) {
	err := &NotReadyError{State: Incomplete, Missing: []Input{AVLTrips, AVLBlocks}}
	assert.Equal(t, "static data incomplete: supply avl-trips, avl-blocks", err.Error())
}

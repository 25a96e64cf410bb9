package availability

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapis/internal/models"
)

type fakeFetcher struct {
	days         map[string][]models.HostSlot
	err          error
	fetchCalls   int
	refreshCalls int
	refreshDates []string
}

func (f *fakeFetcher) FetchAvailability(_ context.Context, _, rangeStart, rangeEnd string) (map[string][]models.HostSlot, error) {
	f.fetchCalls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]models.HostSlot)
	for date, slots := range f.days {
		if date >= rangeStart && date <= rangeEnd {
			out[date] = slots
		}
	}
	return out, nil
}

func (f *fakeFetcher) RefreshAvailability(_ context.Context, _, date string) (map[string][]models.HostSlot, error) {
	f.refreshCalls++
	f.refreshDates = append(f.refreshDates, date)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]models.HostSlot)
	if slots, ok := f.days[date]; ok {
		out[date] = slots
	}
	return out, nil
}

func testController(f Fetcher, visitorTZ string) *Controller {
	logger := zerolog.Nop()
	return NewController(f, "host-1", "America/New_York", visitorTZ, &logger)
}

func TestLoadRangeTranslatesAndAutoSelects(t *testing.T) {
	fetcher := &fakeFetcher{days: map[string][]models.HostSlot{
		"2024-03-10": {{HostDate: "2024-03-10", HostTime: "09:00"}},
		"2024-03-12": {{HostDate: "2024-03-12", HostTime: "10:00"}},
	}}
	ctrl := testController(fetcher, "Europe/London")

	require.NoError(t, ctrl.LoadRange(context.Background(), "2024-03-09", "2024-03-13"))

	assert.Equal(t, "2024-03-10", ctrl.SelectedDate())
	slots := ctrl.SlotsForDate("2024-03-10")
	require.Len(t, slots, 1)
	assert.Equal(t, "1:00 PM", slots[0].DisplayTime)
}

func TestLoadRangeReplacesPerDate(t *testing.T) {
	fetcher := &fakeFetcher{days: map[string][]models.HostSlot{
		"2024-06-10": {{HostDate: "2024-06-10", HostTime: "09:00"}},
		"2024-06-11": {{HostDate: "2024-06-11", HostTime: "09:00"}},
	}}
	ctrl := testController(fetcher, "America/New_York")
	require.NoError(t, ctrl.LoadRange(context.Background(), "2024-06-10", "2024-06-11"))

	// The 10th fills up between loads; a reload of the same range must
	// drop its slots while keeping the 11th.
	delete(fetcher.days, "2024-06-10")
	require.NoError(t, ctrl.LoadRange(context.Background(), "2024-06-10", "2024-06-11"))

	assert.Empty(t, ctrl.SlotsForDate("2024-06-10"))
	assert.Len(t, ctrl.SlotsForDate("2024-06-11"), 1)
}

func TestLoadRangeFailureKeepsView(t *testing.T) {
	fetcher := &fakeFetcher{days: map[string][]models.HostSlot{
		"2024-06-10": {{HostDate: "2024-06-10", HostTime: "09:00"}},
	}}
	ctrl := testController(fetcher, "America/New_York")
	require.NoError(t, ctrl.LoadRange(context.Background(), "2024-06-10", "2024-06-10"))

	fetcher.err = errors.New("backend down")
	err := ctrl.LoadRange(context.Background(), "2024-06-10", "2024-06-10")

	require.Error(t, err)
	assert.Len(t, ctrl.SlotsForDate("2024-06-10"), 1, "stale view must survive a failed fetch")
	assert.Equal(t, "2024-06-10", ctrl.SelectedDate())
}

func TestSetVisitorTimezoneNeverFetches(t *testing.T) {
	fetcher := &fakeFetcher{days: map[string][]models.HostSlot{
		"2024-06-15": {{HostDate: "2024-06-15", HostTime: "22:00"}},
	}}
	ctrl := testController(fetcher, "America/New_York")
	require.NoError(t, ctrl.LoadRange(context.Background(), "2024-06-15", "2024-06-15"))
	assert.Equal(t, 1, fetcher.fetchCalls)

	ctrl.SetVisitorTimezone("Asia/Tokyo")

	assert.Equal(t, 1, fetcher.fetchCalls, "timezone change is a pure recomputation")
	assert.Equal(t, "Asia/Tokyo", ctrl.VisitorTimezone())
	// 22:00 EDT on the 15th is the morning of the 16th in Tokyo.
	assert.Empty(t, ctrl.SlotsForDate("2024-06-15"))
	require.Len(t, ctrl.SlotsForDate("2024-06-16"), 1)
	assert.Equal(t, "11:00 AM", ctrl.SlotsForDate("2024-06-16")[0].DisplayTime)
}

func TestSetVisitorTimezoneSameValueNoop(t *testing.T) {
	fetcher := &fakeFetcher{days: map[string][]models.HostSlot{
		"2024-06-15": {{HostDate: "2024-06-15", HostTime: "09:00"}},
	}}
	ctrl := testController(fetcher, "Europe/London")
	require.NoError(t, ctrl.LoadRange(context.Background(), "2024-06-15", "2024-06-15"))
	before := ctrl.Availability()

	ctrl.SetVisitorTimezone("Europe/London")

	assert.Equal(t, before, ctrl.Availability())
}

func TestManualSelectionSticksAcrossTimezoneChange(t *testing.T) {
	fetcher := &fakeFetcher{days: map[string][]models.HostSlot{
		"2024-06-10": {{HostDate: "2024-06-10", HostTime: "09:00"}},
		"2024-06-12": {{HostDate: "2024-06-12", HostTime: "09:00"}},
	}}
	ctrl := testController(fetcher, "America/New_York")
	require.NoError(t, ctrl.LoadRange(context.Background(), "2024-06-10", "2024-06-12"))
	require.Equal(t, "2024-06-10", ctrl.SelectedDate())

	ctrl.SelectDate("2024-06-12")
	ctrl.SetVisitorTimezone("Europe/London")

	assert.Equal(t, "2024-06-12", ctrl.SelectedDate(), "hand-picked date must not be yanked back")
}

func TestAutoSelectReArmsWhenManualDateEmpties(t *testing.T) {
	fetcher := &fakeFetcher{days: map[string][]models.HostSlot{
		"2024-06-10": {{HostDate: "2024-06-10", HostTime: "09:00"}},
		"2024-06-12": {{HostDate: "2024-06-12", HostTime: "09:00"}},
	}}
	ctrl := testController(fetcher, "America/New_York")
	require.NoError(t, ctrl.LoadRange(context.Background(), "2024-06-10", "2024-06-12"))
	ctrl.SelectDate("2024-06-12")

	delete(fetcher.days, "2024-06-12")
	require.NoError(t, ctrl.LoadRange(context.Background(), "2024-06-10", "2024-06-12"))

	assert.Equal(t, "2024-06-10", ctrl.SelectedDate())
}

func TestAutoSelectClearsWhenNothingAvailable(t *testing.T) {
	fetcher := &fakeFetcher{days: map[string][]models.HostSlot{
		"2024-06-10": {{HostDate: "2024-06-10", HostTime: "09:00"}},
	}}
	ctrl := testController(fetcher, "America/New_York")
	require.NoError(t, ctrl.LoadRange(context.Background(), "2024-06-10", "2024-06-10"))

	fetcher.days = map[string][]models.HostSlot{}
	require.NoError(t, ctrl.LoadRange(context.Background(), "2024-06-10", "2024-06-10"))

	assert.Equal(t, "", ctrl.SelectedDate())
	assert.Empty(t, ctrl.Availability())
}

func TestRefreshDateBypassesRange(t *testing.T) {
	fetcher := &fakeFetcher{days: map[string][]models.HostSlot{
		"2024-06-10": {
			{HostDate: "2024-06-10", HostTime: "09:00"},
			{HostDate: "2024-06-10", HostTime: "10:00"},
		},
	}}
	ctrl := testController(fetcher, "America/New_York")
	require.NoError(t, ctrl.LoadRange(context.Background(), "2024-06-10", "2024-06-10"))

	fetcher.days["2024-06-10"] = []models.HostSlot{{HostDate: "2024-06-10", HostTime: "10:00"}}
	require.NoError(t, ctrl.RefreshDate(context.Background(), "2024-06-10"))

	assert.Equal(t, 1, fetcher.refreshCalls)
	require.Len(t, ctrl.SlotsForDate("2024-06-10"), 1)
	assert.Equal(t, "10:00", ctrl.SlotsForDate("2024-06-10")[0].HostTime)
}

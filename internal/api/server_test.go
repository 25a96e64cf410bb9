package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapis/internal/audit"
	"zapis/internal/models"
	"zapis/internal/schedapi"
)

type fakeScheduler struct {
	days         map[string][]models.HostSlot
	host         *models.HostProfile
	booking      *models.ManagedBooking
	createErr    error
	refreshCalls int
}

func (f *fakeScheduler) FetchAvailability(_ context.Context, _, rangeStart, rangeEnd string) (map[string][]models.HostSlot, error) {
	out := make(map[string][]models.HostSlot)
	for date, slots := range f.days {
		if date >= rangeStart && date <= rangeEnd {
			out[date] = slots
		}
	}
	return out, nil
}

func (f *fakeScheduler) RefreshAvailability(_ context.Context, _, date string) (map[string][]models.HostSlot, error) {
	f.refreshCalls++
	out := make(map[string][]models.HostSlot)
	if slots, ok := f.days[date]; ok {
		out[date] = slots
	}
	return out, nil
}

func (f *fakeScheduler) LookupHost(_ context.Context, _ string) (*models.HostProfile, error) {
	if f.host == nil {
		return nil, errors.New("host not found")
	}
	return f.host, nil
}

func (f *fakeScheduler) CreateBooking(_ context.Context, _ string, draft models.BookingDraft) (*models.BookingResult, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.BookingResult{ID: "b-1", Token: "tok-1"}, nil
}

func (f *fakeScheduler) LookupBooking(_ context.Context, _ string) (*models.ManagedBooking, error) {
	if f.booking == nil {
		return nil, &schedapi.APIError{Status: http.StatusNotFound, Message: "unknown token"}
	}
	b := *f.booking
	return &b, nil
}

func (f *fakeScheduler) RescheduleBooking(_ context.Context, _ string, newStart time.Time, _ string) (*models.ManagedBooking, error) {
	b := *f.booking
	b.StartDateTime = newStart
	return &b, nil
}

func (f *fakeScheduler) CancelBooking(_ context.Context, _, _ string) error {
	return nil
}

func newTestServer(f *fakeScheduler) *Server {
	logger := zerolog.Nop()
	return NewServer(f, audit.NewJournal(), &logger, 90, "UTC")
}

func nyHost() *models.HostProfile {
	return &models.HostProfile{ID: "host-1", Name: "Dr. Smith", Timezone: "America/New_York"}
}

func TestHandleSlots(t *testing.T) {
	f := &fakeScheduler{
		host: nyHost(),
		days: map[string][]models.HostSlot{
			"2024-03-10": {{HostDate: "2024-03-10", HostTime: "09:00"}},
		},
	}
	srv := httptest.NewServer(newTestServer(f).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/booking/host-1/slots?start=2024-03-09&end=2024-03-11&timezone=Europe/London")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Days         map[string][]models.VisitorSlot `json:"days"`
		SelectedDate string                          `json:"selected_date"`
		Timezone     string                          `json:"timezone"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Europe/London", body.Timezone)
	assert.Equal(t, "2024-03-10", body.SelectedDate)
	require.Len(t, body.Days["2024-03-10"], 1)
	assert.Equal(t, "1:00 PM", body.Days["2024-03-10"][0].DisplayTime)
}

func TestHandleSlotsValidation(t *testing.T) {
	srv := httptest.NewServer(newTestServer(&fakeScheduler{host: nyHost()}).Handler())
	defer srv.Close()

	tests := []struct {
		name  string
		query string
	}{
		{"missing range", ""},
		{"bad start", "?start=March&end=2024-03-11"},
		{"end before start", "?start=2024-03-11&end=2024-03-09"},
		{"range too wide", "?start=2024-01-01&end=2025-01-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/api/v1/booking/host-1/slots" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestHandleCreateBooking(t *testing.T) {
	f := &fakeScheduler{
		host: nyHost(),
		days: map[string][]models.HostSlot{
			"2024-03-10": {{HostDate: "2024-03-10", HostTime: "09:00"}},
		},
	}
	srv := httptest.NewServer(newTestServer(f).Handler())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/booking/host-1", CreateBookingRequest{
		HostDate: "2024-03-10",
		HostTime: "09:00",
		Timezone: "Europe/London",
		Guest:    models.GuestInfo{Name: "Ada", Email: "ada@example.com"},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body struct {
		Booking models.BookingResult `json:"booking"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "b-1", body.Booking.ID)
	assert.Equal(t, "tok-1", body.Booking.Token)
}

func TestHandleCreateBookingConflict(t *testing.T) {
	f := &fakeScheduler{
		host: nyHost(),
		days: map[string][]models.HostSlot{
			"2024-03-10": {
				{HostDate: "2024-03-10", HostTime: "09:00"},
				{HostDate: "2024-03-10", HostTime: "10:00"},
			},
		},
		createErr: &schedapi.APIError{Status: http.StatusConflict, Message: "slot taken"},
	}
	srv := httptest.NewServer(newTestServer(f).Handler())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/booking/host-1", CreateBookingRequest{
		HostDate: "2024-03-10",
		HostTime: "09:00",
		Guest:    models.GuestInfo{Name: "Ada", Email: "ada@example.com"},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var body struct {
		Error          string               `json:"error"`
		RefreshedSlots []models.VisitorSlot `json:"refreshed_slots"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Error)
	assert.NotEmpty(t, body.RefreshedSlots, "conflict response carries fresh slots")
	assert.Equal(t, 1, f.refreshCalls, "exactly one forced re-fetch")
}

func TestHandleCreateBookingUnknownSlot(t *testing.T) {
	f := &fakeScheduler{host: nyHost(), days: map[string][]models.HostSlot{}}
	srv := httptest.NewServer(newTestServer(f).Handler())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/booking/host-1", CreateBookingRequest{
		HostDate: "2024-03-10",
		HostTime: "09:00",
		Guest:    models.GuestInfo{Name: "Ada", Email: "ada@example.com"},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandleManageView(t *testing.T) {
	f := &fakeScheduler{
		host: nyHost(),
		booking: &models.ManagedBooking{
			ID:            "b-1",
			Token:         "tok-1",
			HostID:        "host-1",
			StartDateTime: time.Now().Add(48 * time.Hour),
			HostTimezone:  "America/New_York",
			CanCancel:     true,
			CanReschedule: true,
			Status:        "confirmed",
		},
	}
	srv := httptest.NewServer(newTestServer(f).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/manage/tok-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Booking       models.ManagedBooking `json:"booking"`
		State         string                `json:"state"`
		CanCancel     bool                  `json:"can_cancel"`
		CanReschedule bool                  `json:"can_reschedule"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "b-1", body.Booking.ID)
	assert.Equal(t, "view", body.State)
	assert.True(t, body.CanCancel)
	assert.True(t, body.CanReschedule)
}

func TestHandleManageViewNotFound(t *testing.T) {
	srv := httptest.NewServer(newTestServer(&fakeScheduler{host: nyHost()}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/manage/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleCancelPastBooking(t *testing.T) {
	f := &fakeScheduler{
		host: nyHost(),
		booking: &models.ManagedBooking{
			ID:            "b-1",
			Token:         "tok-1",
			StartDateTime: time.Now().Add(-time.Hour),
			CanCancel:     true,
		},
	}
	srv := httptest.NewServer(newTestServer(f).Handler())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/manage/tok-1/cancel", map[string]string{"reason": "too late"})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandleReschedule(t *testing.T) {
	f := &fakeScheduler{
		host: nyHost(),
		days: map[string][]models.HostSlot{
			"2024-03-10": {{HostDate: "2024-03-10", HostTime: "09:00"}},
		},
		booking: &models.ManagedBooking{
			ID:            "b-1",
			Token:         "tok-1",
			HostID:        "host-1",
			StartDateTime: time.Now().Add(48 * time.Hour),
			HostTimezone:  "America/New_York",
			CanReschedule: true,
		},
	}
	srv := httptest.NewServer(newTestServer(f).Handler())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/manage/tok-1/reschedule", rescheduleRequest{
		HostDate: "2024-03-10",
		HostTime: "09:00",
		Timezone: "Europe/London",
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Booking models.ManagedBooking `json:"booking"`
		State   string                `json:"state"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "rescheduled", body.State)
	// 09:00 in New York on 2024-03-10 is 13:00 UTC (EDT starts that day).
	assert.Equal(t, time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC), body.Booking.StartDateTime.UTC())
}

func TestHandleExport(t *testing.T) {
	journal := audit.NewJournal()
	journal.Record(audit.Event{Kind: audit.EventConfirmed, Reference: "b-1"})
	logger := zerolog.Nop()
	server := NewServer(&fakeScheduler{host: nyHost()}, journal, &logger, 90, "UTC")
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/export")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "booking-journal.xlsx")
}

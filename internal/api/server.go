// Package api is the HTTP surface consumed by the booking page UI.
// Handlers construct and drive the state machines; flow semantics live
// in the booking and availability packages, not here.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"zapis/internal/audit"
	"zapis/internal/availability"
	"zapis/internal/booking"
	"zapis/internal/metrics"
	"zapis/internal/models"
	"zapis/internal/schedapi"
)

// SchedulerClient is everything the handlers need from the scheduling
// backend: the controller's fetch slice, both machines' slices, and the
// host profile lookup.
type SchedulerClient interface {
	availability.Fetcher
	booking.Client
	booking.ManageClient
	LookupHost(ctx context.Context, hostID string) (*models.HostProfile, error)
}

var _ SchedulerClient = (*schedapi.Client)(nil)

// Server serves the public booking page API.
type Server struct {
	client          SchedulerClient
	journal         *audit.Journal
	log             *zerolog.Logger
	maxRangeDays    int
	defaultTimezone string
}

func NewServer(client SchedulerClient, journal *audit.Journal, logger *zerolog.Logger, maxRangeDays int, defaultTimezone string) *Server {
	if maxRangeDays <= 0 {
		maxRangeDays = 90
	}
	if defaultTimezone == "" {
		defaultTimezone = "UTC"
	}
	return &Server{
		client:          client,
		journal:         journal,
		log:             logger,
		maxRangeDays:    maxRangeDays,
		defaultTimezone: defaultTimezone,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/booking/{hostID}/slots", s.handleSlots)
	mux.HandleFunc("POST /api/v1/booking/{hostID}", s.handleCreateBooking)
	mux.HandleFunc("GET /api/v1/manage/{token}", s.handleManageView)
	mux.HandleFunc("POST /api/v1/manage/{token}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/v1/manage/{token}/reschedule", s.handleReschedule)
	mux.HandleFunc("GET /api/v1/export", s.handleExport)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAPIError maps backend and state-machine failures onto the
// response. Conflicts keep their 409 so the UI can branch on it.
func writeAPIError(w http.ResponseWriter, err error) {
	if schedapi.IsConflict(err) {
		writeError(w, http.StatusConflict, "slot no longer available")
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

func (s *Server) validateRange(start, end string) error {
	if start == "" || end == "" {
		return fmt.Errorf("start and end are required")
	}
	startDate, err := time.Parse(models.DateLayout, start)
	if err != nil {
		return fmt.Errorf("invalid start format; expected YYYY-MM-DD")
	}
	endDate, err := time.Parse(models.DateLayout, end)
	if err != nil {
		return fmt.Errorf("invalid end format; expected YYYY-MM-DD")
	}
	if startDate.After(endDate) {
		return fmt.Errorf("start must be before or equal to end")
	}
	if int(endDate.Sub(startDate).Hours()/24) > s.maxRangeDays {
		return fmt.Errorf("date range exceeds maximum of %d days", s.maxRangeDays)
	}
	return nil
}

func (s *Server) timezoneOrDefault(tz string) string {
	if tz == "" {
		return s.defaultTimezone
	}
	return tz
}

// newController builds a range-loaded controller for a host page visit.
func (s *Server) newController(ctx context.Context, hostID, visitorTZ, rangeStart, rangeEnd string) (*availability.Controller, error) {
	host, err := s.client.LookupHost(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("lookup host: %w", err)
	}
	ctrl := availability.NewController(s.client, hostID, host.Timezone, visitorTZ, s.log)
	if err := ctrl.LoadRange(ctx, rangeStart, rangeEnd); err != nil {
		return nil, err
	}
	return ctrl, nil
}

type slotsResponse struct {
	Days         models.AvailabilityMap `json:"days"`
	SelectedDate string                 `json:"selected_date,omitempty"`
	Timezone     string                 `json:"timezone"`
}

// handleSlots returns the translated availability for a calendar range.
// GET /api/v1/booking/{hostID}/slots?start=&end=&timezone=
func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("slots")

	hostID := r.PathValue("hostID")
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")
	tz := s.timezoneOrDefault(r.URL.Query().Get("timezone"))

	if err := s.validateRange(start, end); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctrl, err := s.newController(r.Context(), hostID, tz, start, end)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, slotsResponse{
		Days:         ctrl.Availability(),
		SelectedDate: ctrl.SelectedDate(),
		Timezone:     tz,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export")

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="booking-journal.xlsx"`)
	if err := s.journal.ExportExcel(w); err != nil {
		s.log.Error().Err(err).Msg("journal export failed")
	}
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"zapis/internal/availability"
	"zapis/internal/booking"
	"zapis/internal/metrics"
	"zapis/internal/models"
)

type manageViewResponse struct {
	Booking       *models.ManagedBooking `json:"booking"`
	State         booking.ManageState    `json:"state"`
	CanCancel     bool                   `json:"can_cancel"`
	CanReschedule bool                   `json:"can_reschedule"`
}

// handleManageView returns an existing booking with its action gates
// evaluated server-side.
// GET /api/v1/manage/{token}
func (s *Server) handleManageView(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("manage_view")

	machine := booking.NewManageMachine(s.client, r.PathValue("token"), s.journal, s.log)
	if err := machine.Load(r.Context()); err != nil {
		writeError(w, http.StatusNotFound, "booking not found")
		return
	}

	b := machine.Booking()
	now := time.Now()
	writeJSON(w, http.StatusOK, manageViewResponse{
		Booking:       b,
		State:         machine.State(),
		CanCancel:     machine.State() == booking.ManageView && b.CancelAllowed(now),
		CanReschedule: machine.State() == booking.ManageView && b.RescheduleAllowed(now),
	})
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// handleCancel cancels a booking with an optional reason.
// POST /api/v1/manage/{token}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("manage_cancel")

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	machine := booking.NewManageMachine(s.client, r.PathValue("token"), s.journal, s.log)
	if err := machine.Load(r.Context()); err != nil {
		writeError(w, http.StatusNotFound, "booking not found")
		return
	}

	if err := machine.BeginCancel(); err != nil {
		writeManageError(w, err)
		return
	}
	if err := machine.Cancel(r.Context(), req.Reason); err != nil {
		writeManageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"state": machine.State()})
}

type rescheduleRequest struct {
	HostDate string `json:"host_date"` // YYYY-MM-DD, host-local
	HostTime string `json:"host_time"` // HH:MM, host-local
	Timezone string `json:"timezone"`  // visitor IANA timezone
}

type rescheduleResponse struct {
	Booking *models.ManagedBooking `json:"booking,omitempty"`
	State   booking.ManageState    `json:"state"`
	Error   string                 `json:"error,omitempty"`
}

// handleReschedule moves a booking to a new slot. Selecting a time
// submits immediately; there is no form step because guest contact
// details are already on file.
// POST /api/v1/manage/{token}/reschedule
func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("manage_reschedule")

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.HostDate == "" || req.HostTime == "" {
		writeError(w, http.StatusBadRequest, "host_date and host_time are required")
		return
	}

	machine := booking.NewManageMachine(s.client, r.PathValue("token"), s.journal, s.log)
	if err := machine.Load(r.Context()); err != nil {
		writeError(w, http.StatusNotFound, "booking not found")
		return
	}
	b := machine.Booking()

	tz := s.timezoneOrDefault(req.Timezone)
	start, end, err := surroundingRange(req.HostDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid host_date format; expected YYYY-MM-DD")
		return
	}

	ctrl := availability.NewController(s.client, b.HostID, b.HostTimezone, tz, s.log)
	if err := ctrl.LoadRange(r.Context(), start, end); err != nil {
		writeAPIError(w, err)
		return
	}
	machine.UseCalendar(ctrl)

	if err := machine.BeginReschedule(); err != nil {
		writeManageError(w, err)
		return
	}

	visitorDate, ok := findVisitorDate(ctrl.Availability(), req.HostDate, req.HostTime)
	if !ok {
		writeJSON(w, http.StatusConflict, rescheduleResponse{
			State: machine.State(),
			Error: "slot no longer available",
		})
		return
	}
	if _, err := machine.SelectRescheduleDate(visitorDate); err != nil {
		writeManageError(w, err)
		return
	}
	if err := machine.SelectRescheduleTime(r.Context(), req.HostTime); err != nil {
		writeManageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rescheduleResponse{
		Booking: machine.Booking(),
		State:   machine.State(),
	})
}

// writeManageError maps manage-flow failures onto HTTP statuses.
func writeManageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrBookingPast),
		errors.Is(err, booking.ErrActionNotAllowed):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, booking.ErrReasonTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrBusy):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeAPIError(w, err)
	}
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"zapis/internal/booking"
	"zapis/internal/metrics"
	"zapis/internal/models"
	"zapis/internal/schedapi"
)

// CreateBookingRequest is the booking form submission.
type CreateBookingRequest struct {
	HostDate string           `json:"host_date"` // YYYY-MM-DD, host-local
	HostTime string           `json:"host_time"` // HH:MM, host-local
	Timezone string           `json:"timezone"`  // visitor IANA timezone
	Guest    models.GuestInfo `json:"guest"`
}

type createBookingResponse struct {
	Booking *models.BookingResult `json:"booking,omitempty"`
	// On a conflict, the refreshed slots for the requested date so the
	// visitor can immediately pick again.
	RefreshedSlots []models.VisitorSlot `json:"refreshed_slots,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// handleCreateBooking drives the booking machine through the full flow
// for one submission: select the slot's date and time, then submit.
// POST /api/v1/booking/{hostID}
func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_booking")

	hostID := r.PathValue("hostID")

	var req CreateBookingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.HostDate == "" || req.HostTime == "" {
		writeError(w, http.StatusBadRequest, "host_date and host_time are required")
		return
	}
	tz := s.timezoneOrDefault(req.Timezone)

	// The slot's visitor-local bucket can sit on the neighbouring
	// calendar day, so load one day of slack on either side.
	start, end, err := surroundingRange(req.HostDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid host_date format; expected YYYY-MM-DD")
		return
	}

	ctrl, err := s.newController(r.Context(), hostID, tz, start, end)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	visitorDate, ok := findVisitorDate(ctrl.Availability(), req.HostDate, req.HostTime)
	if !ok {
		writeJSON(w, http.StatusConflict, createBookingResponse{
			Error:          "slot no longer available",
			RefreshedSlots: ctrl.SlotsForDate(req.HostDate),
		})
		return
	}

	machine := booking.NewMachine(ctrl, s.client, hostID, s.journal, s.log)
	if _, err := machine.SelectDate(visitorDate); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := machine.SelectTime(req.HostTime); err != nil {
		writeError(w, http.StatusConflict, "slot no longer available")
		return
	}

	if err := machine.Submit(r.Context(), req.Guest); err != nil {
		switch {
		case schedapi.IsConflict(err):
			// The machine already awaited the forced re-fetch.
			writeJSON(w, http.StatusConflict, createBookingResponse{
				Error:          machine.LastError(),
				RefreshedSlots: ctrl.SlotsForDate(visitorDate),
			})
		case errors.Is(err, booking.ErrBusy):
			writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			var ae *schedapi.APIError
			if errors.As(err, &ae) && ae.Status >= 400 && ae.Status < 500 {
				writeError(w, ae.Status, ae.Message)
				return
			}
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, createBookingResponse{Booking: machine.Result()})
}

// surroundingRange returns [date-1d, date+1d] in YYYY-MM-DD.
func surroundingRange(date string) (string, string, error) {
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return "", "", err
	}
	return d.AddDate(0, 0, -1).Format(models.DateLayout),
		d.AddDate(0, 0, 1).Format(models.DateLayout), nil
}

// findVisitorDate locates the visitor-local bucket holding a host slot.
func findVisitorDate(avail models.AvailabilityMap, hostDate, hostTime string) (string, bool) {
	for date, slots := range avail {
		for _, slot := range slots {
			if slot.HostDate == hostDate && slot.HostTime == hostTime {
				return date, true
			}
		}
	}
	return "", false
}

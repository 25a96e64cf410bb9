// Package booking drives the visitor through the public booking flow:
// date/time selection, the guest form, submission with conflict
// recovery, and the cancel/reschedule flow for existing bookings.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"zapis/internal/audit"
	"zapis/internal/availability"
	"zapis/internal/metrics"
	"zapis/internal/models"
	"zapis/internal/schedapi"
)

// State represents the current step of the booking flow.
type State string

const (
	StateCalendar  State = "calendar"
	StateForm      State = "form"
	StateConfirmed State = "confirmed"
)

var (
	// ErrBusy is returned when a mutation is attempted while another
	// network call for the same machine is in flight.
	ErrBusy = errors.New("another request is in flight")
	// ErrNoDateSelected is returned by SelectTime before SelectDate.
	ErrNoDateSelected = errors.New("no date selected")
	// ErrSlotNotFound is returned when the picked time is not in the
	// selected date's bucket.
	ErrSlotNotFound = errors.New("slot not found for selected date")
)

// Client is the slice of the scheduling backend the machine needs.
type Client interface {
	CreateBooking(ctx context.Context, hostID string, draft models.BookingDraft) (*models.BookingResult, error)
}

// Draft is the in-progress selection, published for form rendering.
type Draft struct {
	VisitorDate string // selected visitor-local date
	HostDate    string // host-local date of the picked slot
	HostTime    string // host-local start time of the picked slot
	DisplayTime string // visitor-facing label of the picked slot
	Guest       models.GuestInfo
}

// Machine owns the calendar → form → confirmed flow for one page visit.
// Confirmed is terminal; a 409 on submit recovers back to calendar.
type Machine struct {
	mu sync.Mutex

	fsm     map[State][]State
	state   State
	draft   Draft
	result  *models.BookingResult
	lastErr string
	busy    bool

	avail   *availability.Controller
	client  Client
	hostID  string
	journal *audit.Journal
	logger  *zerolog.Logger
}

// NewMachine creates a booking machine in the calendar state.
func NewMachine(avail *availability.Controller, client Client, hostID string, journal *audit.Journal, logger *zerolog.Logger) *Machine {
	return &Machine{
		fsm: map[State][]State{
			StateCalendar: {StateForm},
			StateForm:     {StateConfirmed, StateCalendar},
		},
		state:   StateCalendar,
		avail:   avail,
		client:  client,
		hostID:  hostID,
		journal: journal,
		logger:  logger,
	}
}

// State returns the current flow step.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Draft returns the current selection and guest input.
func (m *Machine) Draft() Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draft
}

// Result returns the confirmed booking, or nil before confirmation.
func (m *Machine) Result() *models.BookingResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// LastError returns the last surfaced error message, cleared on the
// next successful transition.
func (m *Machine) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Machine) canTransition(to State) bool {
	for _, s := range m.fsm[m.state] {
		if s == to {
			return true
		}
	}
	return false
}

// SelectDate records the visitor's date choice and returns the slots
// for that date. Clears any previously picked time.
func (m *Machine) SelectDate(date string) ([]models.VisitorSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCalendar {
		return nil, fmt.Errorf("select date: not in calendar state (%s)", m.state)
	}
	m.avail.SelectDate(date)
	m.draft.VisitorDate = date
	m.draft.HostDate = ""
	m.draft.HostTime = ""
	m.draft.DisplayTime = ""
	return m.avail.SlotsForDate(date), nil
}

// SelectTime picks a start time from the selected date's bucket and
// moves the flow to the guest form.
func (m *Machine) SelectTime(hostTime string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canTransition(StateForm) {
		return fmt.Errorf("select time: not in calendar state (%s)", m.state)
	}
	if m.draft.VisitorDate == "" {
		return ErrNoDateSelected
	}

	var picked *models.VisitorSlot
	for _, slot := range m.avail.SlotsForDate(m.draft.VisitorDate) {
		if slot.HostTime == hostTime {
			s := slot
			picked = &s
			break
		}
	}
	if picked == nil {
		return ErrSlotNotFound
	}

	m.draft.HostDate = picked.HostDate
	m.draft.HostTime = picked.HostTime
	m.draft.DisplayTime = picked.DisplayTime
	m.state = StateForm
	m.lastErr = ""
	return nil
}

// Back returns from the guest form to the calendar. The picked time is
// cleared; the selected date is preserved.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canTransition(StateCalendar) {
		return fmt.Errorf("back: not in form state (%s)", m.state)
	}
	m.state = StateCalendar
	m.draft.HostDate = ""
	m.draft.HostTime = ""
	m.draft.DisplayTime = ""
	m.lastErr = ""
	return nil
}

// Submit creates the booking. On success the flow is confirmed and
// terminal. On a slot conflict the flow returns to the calendar, the
// picked time is cleared, and the conflicting date is re-fetched before
// the calendar becomes interactive again. On any other failure the
// form state and all visitor input are preserved.
func (m *Machine) Submit(ctx context.Context, guest models.GuestInfo) error {
	m.mu.Lock()
	if !m.canTransition(StateConfirmed) {
		m.mu.Unlock()
		return fmt.Errorf("submit: not in form state (%s)", m.state)
	}
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	if err := guest.Validate(); err != nil {
		m.draft.Guest = guest
		m.lastErr = err.Error()
		m.mu.Unlock()
		return err
	}
	m.busy = true
	m.draft.Guest = guest
	draft := models.BookingDraft{
		HostDate:        m.draft.HostDate,
		HostTime:        m.draft.HostTime,
		VisitorTimezone: m.avail.VisitorTimezone(),
		Guest:           guest,
	}
	m.mu.Unlock()

	result, err := m.client.CreateBooking(ctx, m.hostID, draft)

	m.mu.Lock()
	m.busy = false
	switch {
	case err == nil:
		m.state = StateConfirmed
		m.result = result
		m.lastErr = ""
		m.mu.Unlock()
		metrics.IncBookingCreated("ok")
		m.journal.Record(audit.Event{
			Kind:      audit.EventConfirmed,
			Reference: result.ID,
			HostID:    m.hostID,
			HostDate:  draft.HostDate,
			HostTime:  draft.HostTime,
			Timezone:  draft.VisitorTimezone,
		})
		m.logger.Info().
			Str("booking_id", result.ID).
			Str("host_date", draft.HostDate).
			Str("host_time", draft.HostTime).
			Msg("booking confirmed")
		return nil

	case schedapi.IsConflict(err):
		staleDate := m.draft.HostDate
		m.state = StateCalendar
		m.draft.HostDate = ""
		m.draft.HostTime = ""
		m.draft.DisplayTime = ""
		m.lastErr = "That time was just taken. Please pick another slot."
		m.mu.Unlock()
		metrics.IncBookingCreated("conflict")
		metrics.IncSlotConflict()
		m.journal.Record(audit.Event{
			Kind:     audit.EventConflict,
			HostID:   m.hostID,
			HostDate: draft.HostDate,
			HostTime: draft.HostTime,
			Timezone: draft.VisitorTimezone,
		})
		m.logger.Info().
			Str("host_date", draft.HostDate).
			Str("host_time", draft.HostTime).
			Msg("slot taken, refreshing availability")
		// The store is known stale for this date; re-fetch before the
		// calendar becomes interactive again. Stale cache is bypassed.
		if refreshErr := m.avail.RefreshDate(ctx, staleDate); refreshErr != nil {
			m.logger.Warn().Err(refreshErr).Str("date", staleDate).Msg("post-conflict refresh failed")
		}
		return err

	default:
		// Transient failure: stay on the form, keep the visitor's input.
		m.lastErr = err.Error()
		m.mu.Unlock()
		metrics.IncBookingCreated("error")
		m.logger.Warn().Err(err).Msg("booking submission failed")
		return err
	}
}

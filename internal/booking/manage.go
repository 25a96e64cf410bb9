package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"zapis/internal/audit"
	"zapis/internal/availability"
	"zapis/internal/metrics"
	"zapis/internal/models"
)

// ManageState represents the step of the cancel/reschedule flow.
type ManageState string

const (
	ManageView        ManageState = "view"
	ManageCancel      ManageState = "cancel"
	ManageReschedule  ManageState = "reschedule"
	ManageCancelled   ManageState = "cancelled"
	ManageRescheduled ManageState = "rescheduled"
	// ManageLocked is the read-only state for bookings whose start time
	// has already elapsed. It short-circuits every transition.
	ManageLocked ManageState = "locked"
)

const maxCancelReasonLen = 500

var (
	// ErrBookingPast is returned when any action is attempted on a
	// booking that has already started.
	ErrBookingPast = errors.New("booking is in the past")
	// ErrActionNotAllowed is returned when cancel/reschedule is gated
	// off by the booking's flags or its cancellation deadline.
	ErrActionNotAllowed = errors.New("action not allowed for this booking")
	// ErrReasonTooLong is returned for cancel reasons over 500 chars.
	ErrReasonTooLong = errors.New("cancellation reason too long")
	// ErrNotLoaded is returned when an action runs before Load.
	ErrNotLoaded = errors.New("booking not loaded")
)

// ManageClient is the slice of the scheduling backend the manage flow needs.
type ManageClient interface {
	LookupBooking(ctx context.Context, token string) (*models.ManagedBooking, error)
	RescheduleBooking(ctx context.Context, token string, newStart time.Time, visitorTimezone string) (*models.ManagedBooking, error)
	CancelBooking(ctx context.Context, token, reason string) error
}

// ManageMachine owns the view → cancel/reschedule flow for one existing
// booking. Cancelled and rescheduled are terminal; so is locked, which
// any transition falls into once the booking's start time has elapsed.
type ManageMachine struct {
	mu sync.Mutex

	state   ManageState
	booking *models.ManagedBooking
	token   string

	rescheduleDate string // selected visitor date within the reschedule calendar
	cancelReason   string
	lastErr        string
	busy           bool

	avail   *availability.Controller
	client  ManageClient
	journal *audit.Journal
	logger  *zerolog.Logger
	now     func() time.Time
}

// NewManageMachine creates a manage machine for the given token. Call
// Load before anything else, and UseCalendar before the reschedule
// sub-flow.
func NewManageMachine(client ManageClient, token string, journal *audit.Journal, logger *zerolog.Logger) *ManageMachine {
	return &ManageMachine{
		state:   ManageView,
		token:   token,
		client:  client,
		journal: journal,
		logger:  logger,
		now:     time.Now,
	}
}

// UseCalendar attaches the availability controller backing the
// reschedule calendar. The controller's host timezone comes from the
// looked-up booking, so this happens after Load.
func (m *ManageMachine) UseCalendar(avail *availability.Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avail = avail
}

// Load fetches the booking and settles the initial state.
func (m *ManageMachine) Load(ctx context.Context) error {
	booking, err := m.client.LookupBooking(ctx, m.token)
	if err != nil {
		return fmt.Errorf("lookup booking: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.booking = booking
	if booking.IsPast(m.now()) {
		m.state = ManageLocked
	}
	return nil
}

// State returns the current flow step.
func (m *ManageMachine) State() ManageState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Booking returns the managed booking as last seen from the backend.
func (m *ManageMachine) Booking() *models.ManagedBooking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.booking
}

// LastError returns the last surfaced error message.
func (m *ManageMachine) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// CancelReason returns the visitor's in-progress reason text.
func (m *ManageMachine) CancelReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelReason
}

// RescheduleDate returns the date selected in the reschedule calendar.
func (m *ManageMachine) RescheduleDate() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rescheduleDate
}

// lockIfPast flips to the locked state when the booking has started.
// Callers hold m.mu. Returns true when the machine is now locked.
func (m *ManageMachine) lockIfPast() bool {
	if m.state == ManageLocked {
		return true
	}
	if m.booking != nil && m.booking.IsPast(m.now()) {
		m.state = ManageLocked
		return true
	}
	return false
}

// BeginCancel enters the cancel sub-flow. Gated by the booking's
// can_cancel flag and its cancellation deadline.
func (m *ManageMachine) BeginCancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.booking == nil {
		return ErrNotLoaded
	}
	if m.lockIfPast() {
		return ErrBookingPast
	}
	if m.state != ManageView {
		return fmt.Errorf("begin cancel: not in view state (%s)", m.state)
	}
	if !m.booking.CancelAllowed(m.now()) {
		return ErrActionNotAllowed
	}
	m.state = ManageCancel
	m.lastErr = ""
	return nil
}

// Cancel submits the cancellation with an optional reason. On failure
// the flow stays in cancel and the reason text is preserved.
func (m *ManageMachine) Cancel(ctx context.Context, reason string) error {
	m.mu.Lock()
	if m.lockIfPast() {
		m.mu.Unlock()
		return ErrBookingPast
	}
	if m.state != ManageCancel {
		m.mu.Unlock()
		return fmt.Errorf("cancel: not in cancel state (%s)", m.state)
	}
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	if len([]rune(reason)) > maxCancelReasonLen {
		m.cancelReason = reason
		m.lastErr = ErrReasonTooLong.Error()
		m.mu.Unlock()
		return ErrReasonTooLong
	}
	m.busy = true
	m.cancelReason = reason
	m.mu.Unlock()

	err := m.client.CancelBooking(ctx, m.token, reason)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	if err != nil {
		// Reason text stays for the retry.
		m.lastErr = err.Error()
		m.logger.Warn().Err(err).Str("token", m.token).Msg("cancel failed")
		return err
	}
	m.state = ManageCancelled
	m.booking.Status = "cancelled"
	m.lastErr = ""
	metrics.IncBookingCancelled()
	m.journal.Record(audit.Event{
		Kind:      audit.EventCancelled,
		Reference: m.token,
		HostID:    m.booking.HostID,
		Detail:    reason,
	})
	m.logger.Info().Str("token", m.token).Msg("booking cancelled")
	return nil
}

// BeginReschedule enters the reschedule sub-flow. The caller is
// expected to drive the availability controller (LoadRange) exactly as
// in the initial booking calendar.
func (m *ManageMachine) BeginReschedule() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.booking == nil {
		return ErrNotLoaded
	}
	if m.lockIfPast() {
		return ErrBookingPast
	}
	if m.state != ManageView {
		return fmt.Errorf("begin reschedule: not in view state (%s)", m.state)
	}
	if !m.booking.RescheduleAllowed(m.now()) {
		return ErrActionNotAllowed
	}
	if m.avail == nil {
		return errors.New("reschedule calendar not attached")
	}
	m.state = ManageReschedule
	m.lastErr = ""
	return nil
}

// BackToView leaves the cancel or reschedule sub-flow.
func (m *ManageMachine) BackToView() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockIfPast() {
		return ErrBookingPast
	}
	if m.state != ManageCancel && m.state != ManageReschedule {
		return fmt.Errorf("back: not in a sub-flow (%s)", m.state)
	}
	m.state = ManageView
	m.rescheduleDate = ""
	m.lastErr = ""
	return nil
}

// SelectRescheduleDate records the date choice within the reschedule
// calendar and returns that date's slots.
func (m *ManageMachine) SelectRescheduleDate(date string) ([]models.VisitorSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockIfPast() {
		return nil, ErrBookingPast
	}
	if m.state != ManageReschedule {
		return nil, fmt.Errorf("select date: not in reschedule state (%s)", m.state)
	}
	m.avail.SelectDate(date)
	m.rescheduleDate = date
	return m.avail.SlotsForDate(date), nil
}

// SelectRescheduleTime submits the reschedule immediately: guest
// contact details are already on file, so there is no form step. On
// failure the selected date is kept and only the time choice is
// discarded, so the visitor can pick another slot on the same date.
func (m *ManageMachine) SelectRescheduleTime(ctx context.Context, hostTime string) error {
	m.mu.Lock()
	if m.lockIfPast() {
		m.mu.Unlock()
		return ErrBookingPast
	}
	if m.state != ManageReschedule {
		m.mu.Unlock()
		return fmt.Errorf("select time: not in reschedule state (%s)", m.state)
	}
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.rescheduleDate == "" {
		m.mu.Unlock()
		return ErrNoDateSelected
	}

	var picked *models.VisitorSlot
	for _, slot := range m.avail.SlotsForDate(m.rescheduleDate) {
		if slot.HostTime == hostTime {
			s := slot
			picked = &s
			break
		}
	}
	if picked == nil {
		m.mu.Unlock()
		return ErrSlotNotFound
	}
	m.busy = true
	visitorTZ := m.avail.VisitorTimezone()
	m.mu.Unlock()

	updated, err := m.client.RescheduleBooking(ctx, m.token, picked.Instant, visitorTZ)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	if err != nil {
		// Keep the date so the visitor can try another time on it.
		m.lastErr = err.Error()
		m.logger.Warn().Err(err).
			Str("token", m.token).
			Str("host_date", picked.HostDate).
			Str("host_time", picked.HostTime).
			Msg("reschedule failed")
		return err
	}
	m.state = ManageRescheduled
	m.booking = updated
	m.lastErr = ""
	metrics.IncBookingRescheduled()
	m.journal.Record(audit.Event{
		Kind:      audit.EventRescheduled,
		Reference: m.token,
		HostID:    updated.HostID,
		HostDate:  picked.HostDate,
		HostTime:  picked.HostTime,
		Timezone:  visitorTZ,
	})
	m.logger.Info().
		Str("token", m.token).
		Time("new_start", updated.StartDateTime).
		Msg("booking rescheduled")
	return nil
}

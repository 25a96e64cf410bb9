// Package models contains the data types shared by the booking page core.
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// DateLayout is the wire format for calendar dates (host- or visitor-local).
	DateLayout = "2006-01-02"
	// TimeLayout is the wire format for host-local wall-clock times.
	TimeLayout = "15:04"
	// DisplayTimeLayout is the 12-hour format shown to visitors.
	DisplayTimeLayout = "3:04 PM"
)

// HostSlot is one bookable start time in the host's timezone.
// Produced only by the availability API; never mutated locally.
type HostSlot struct {
	HostDate string `json:"host_date"` // YYYY-MM-DD
	HostTime string `json:"host_time"` // HH:MM, 24h
}

// Key returns the identity of the slot within one host's schedule.
func (s HostSlot) Key() string {
	return s.HostDate + "T" + s.HostTime
}

// VisitorSlot is a HostSlot translated into the visitor's timezone.
// Derived data; recomputed whenever the visitor timezone or the
// underlying host slots change.
type VisitorSlot struct {
	HostDate    string    `json:"host_date"`
	HostTime    string    `json:"host_time"`
	Instant     time.Time `json:"instant"`
	VisitorDate string    `json:"visitor_date"` // YYYY-MM-DD in the visitor's timezone
	DisplayTime string    `json:"display_time"` // e.g. "1:00 PM"
}

// AvailabilityMap buckets visitor slots by visitor-local date.
// Within a bucket slots are ordered ascending by Instant, and every
// (HostDate, HostTime) pair appears in exactly one bucket.
type AvailabilityMap map[string][]VisitorSlot

// Dates returns the bucket keys in ascending order.
func (m AvailabilityMap) Dates() []string {
	dates := make([]string, 0, len(m))
	for d := range m {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// SlotCount returns the total number of slots across all buckets.
func (m AvailabilityMap) SlotCount() int {
	n := 0
	for _, slots := range m {
		n += len(slots)
	}
	return n
}

// GuestInfo is the contact form filled in before submitting a booking.
type GuestInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// Validate checks the required guest fields.
func (g GuestInfo) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("guest name is required")
	}
	email := strings.TrimSpace(g.Email)
	if email == "" {
		return fmt.Errorf("guest email is required")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || !strings.Contains(email[at+1:], ".") {
		return fmt.Errorf("invalid guest email: %s", email)
	}
	return nil
}

// BookingDraft is what gets sent to the scheduling backend when the
// visitor submits. Times are host-local because the booking is created
// in host-local terms; the visitor timezone rides along for storage.
type BookingDraft struct {
	HostDate        string    `json:"host_date"`
	HostTime        string    `json:"host_time"`
	VisitorTimezone string    `json:"visitor_timezone"`
	Guest           GuestInfo `json:"guest"`
}

// BookingResult is the server-confirmed booking record. Opaque to the
// core; rendered by the confirmation page.
type BookingResult struct {
	ID            string    `json:"id"`
	Token         string    `json:"token"`
	MeetingLink   string    `json:"meeting_link,omitempty"`
	StartDateTime time.Time `json:"start_datetime"`
	HostTimezone  string    `json:"host_timezone"`
}

// HostProfile describes the host whose page the visitor is looking at.
type HostProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"` // IANA name
}

// ManagedBooking is an existing booking fetched by its manage token.
type ManagedBooking struct {
	ID                   string    `json:"id"`
	Token                string    `json:"token"`
	HostID               string    `json:"host_id"`
	StartDateTime        time.Time `json:"start_datetime"`
	HostTimezone         string    `json:"host_timezone"`
	GuestName            string    `json:"guest_name"`
	GuestEmail           string    `json:"guest_email"`
	CanCancel            bool      `json:"can_cancel"`
	CanReschedule        bool      `json:"can_reschedule"`
	CancellationDeadline time.Time `json:"cancellation_deadline"`
	Status               string    `json:"status"`
}

// IsPast reports whether the booked start time has already elapsed.
func (b *ManagedBooking) IsPast(now time.Time) bool {
	return !b.StartDateTime.After(now)
}

// DeadlinePassed reports whether the cancellation deadline has elapsed.
// A zero deadline means no deadline was set.
func (b *ManagedBooking) DeadlinePassed(now time.Time) bool {
	return !b.CancellationDeadline.IsZero() && now.After(b.CancellationDeadline)
}

// CancelAllowed reports whether the cancel action may be offered.
func (b *ManagedBooking) CancelAllowed(now time.Time) bool {
	return b.CanCancel && !b.IsPast(now) && !b.DeadlinePassed(now)
}

// RescheduleAllowed reports whether the reschedule action may be offered.
func (b *ManagedBooking) RescheduleAllowed(now time.Time) bool {
	return b.CanReschedule && !b.IsPast(now) && !b.DeadlinePassed(now)
}

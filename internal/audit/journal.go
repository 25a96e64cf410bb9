// Package audit keeps a journal of booking lifecycle events and exports
// it as an Excel workbook for back-office review.
package audit

import (
	"sync"
	"time"
)

// EventKind classifies a journal entry.
type EventKind string

const (
	EventConfirmed   EventKind = "confirmed"
	EventConflict    EventKind = "conflict"
	EventCancelled   EventKind = "cancelled"
	EventRescheduled EventKind = "rescheduled"
)

// Event is one booking lifecycle occurrence.
type Event struct {
	Kind      EventKind
	Reference string // booking ID or manage token
	HostID    string
	HostDate  string
	HostTime  string
	Timezone  string // visitor timezone at the time of the event
	Detail    string
	At        time.Time
}

// Journal is an append-only in-memory event log.
type Journal struct {
	mu     sync.Mutex
	events []Event
}

func NewJournal() *Journal {
	return &Journal{}
}

// Record appends an event, stamping it if the caller did not.
func (j *Journal) Record(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

// Events returns a copy of the recorded events in order.
func (j *Journal) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Event(nil), j.events...)
}

// Len returns the number of recorded events.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

// Package availability maintains the host-local slot store for the
// visible calendar range and its translation into the visitor's timezone.
package availability

import (
	"sort"

	"zapis/internal/models"
)

// Store holds raw host-local availability keyed by host-local date, as
// returned per calendar range fetch.
type Store struct {
	byDate map[string][]models.HostSlot
}

func NewStore() *Store {
	return &Store{byDate: make(map[string][]models.HostSlot)}
}

// ReplaceRange replaces the stored slots for every date in
// [rangeStart, rangeEnd] with the fetched per-date lists. A date inside
// the range that is absent from the response is cleared, so a slot that
// became unavailable disappears. Dates outside the range are untouched.
func (s *Store) ReplaceRange(rangeStart, rangeEnd string, fetched map[string][]models.HostSlot) {
	for date := range s.byDate {
		if date >= rangeStart && date <= rangeEnd {
			delete(s.byDate, date)
		}
	}
	for date, slots := range fetched {
		if len(slots) == 0 {
			continue
		}
		s.byDate[date] = append([]models.HostSlot(nil), slots...)
	}
}

// All returns every stored slot, ordered by host date then host time.
func (s *Store) All() []models.HostSlot {
	dates := make([]string, 0, len(s.byDate))
	for date := range s.byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	var all []models.HostSlot
	for _, date := range dates {
		slots := append([]models.HostSlot(nil), s.byDate[date]...)
		sort.Slice(slots, func(i, j int) bool { return slots[i].HostTime < slots[j].HostTime })
		all = append(all, slots...)
	}
	return all
}

// Len returns the total number of stored slots.
func (s *Store) Len() int {
	n := 0
	for _, slots := range s.byDate {
		n += len(slots)
	}
	return n
}

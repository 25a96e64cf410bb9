package availability

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"zapis/internal/models"
)

// Fetcher is the slice of the scheduling backend the controller needs.
type Fetcher interface {
	// FetchAvailability returns host-local slots keyed by host date for
	// [rangeStart, rangeEnd]. May serve a cached view.
	FetchAvailability(ctx context.Context, hostID, rangeStart, rangeEnd string) (map[string][]models.HostSlot, error)
	// RefreshAvailability fetches one date bypassing any cache.
	RefreshAvailability(ctx context.Context, hostID, date string) (map[string][]models.HostSlot, error)
}

// Controller keeps the raw slot store for the visible calendar range
// and the translated visitor view consistent. One controller serves one
// booking page visit.
type Controller struct {
	mu sync.Mutex

	fetcher      Fetcher
	hostID       string
	hostTimezone string
	logger       *zerolog.Logger

	visitorTimezone string
	store           *Store
	translated      models.AvailabilityMap

	selectedDate    string
	manualSelection bool
}

func NewController(fetcher Fetcher, hostID, hostTimezone, visitorTimezone string, logger *zerolog.Logger) *Controller {
	return &Controller{
		fetcher:         fetcher,
		hostID:          hostID,
		hostTimezone:    hostTimezone,
		visitorTimezone: visitorTimezone,
		logger:          logger,
		store:           NewStore(),
		translated:      make(models.AvailabilityMap),
	}
}

// LoadRange fetches availability for [rangeStart, rangeEnd] and merges
// it into the store, replacing per date. On fetch failure the existing
// store is left untouched: stale availability is preferable to none.
func (c *Controller) LoadRange(ctx context.Context, rangeStart, rangeEnd string) error {
	fetched, err := c.fetcher.FetchAvailability(ctx, c.hostID, rangeStart, rangeEnd)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("host_id", c.hostID).
			Str("start", rangeStart).
			Str("end", rangeEnd).
			Msg("availability fetch failed, keeping current view")
		return fmt.Errorf("fetch availability: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.ReplaceRange(rangeStart, rangeEnd, fetched)
	c.retranslate()
	return nil
}

// RefreshDate re-fetches a single date bypassing any cache. Called
// after a slot conflict, when the store is known stale for that date.
func (c *Controller) RefreshDate(ctx context.Context, date string) error {
	fetched, err := c.fetcher.RefreshAvailability(ctx, c.hostID, date)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("host_id", c.hostID).
			Str("date", date).
			Msg("availability refresh failed")
		return fmt.Errorf("refresh availability: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.ReplaceRange(date, date, fetched)
	c.retranslate()
	return nil
}

// SetVisitorTimezone re-buckets the existing store into the new
// timezone. Pure recomputation, never a network round-trip.
func (c *Controller) SetVisitorTimezone(tz string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tz == c.visitorTimezone {
		return
	}
	c.visitorTimezone = tz
	c.retranslate()
}

// SelectDate records the visitor's manual date choice. Once a date has
// been picked by hand, auto-select stops moving it.
func (c *Controller) SelectDate(date string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectedDate = date
	c.manualSelection = true
}

// SelectedDate returns the currently selected visitor-local date.
func (c *Controller) SelectedDate() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedDate
}

// SlotsForDate returns the bucket for a visitor-local date, or nil.
func (c *Controller) SlotsForDate(date string) []models.VisitorSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.VisitorSlot(nil), c.translated[date]...)
}

// Availability returns the translated view for rendering.
func (c *Controller) Availability() models.AvailabilityMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(models.AvailabilityMap, len(c.translated))
	for date, slots := range c.translated {
		out[date] = append([]models.VisitorSlot(nil), slots...)
	}
	return out
}

// VisitorTimezone returns the timezone the view is translated into.
func (c *Controller) VisitorTimezone() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visitorTimezone
}

// retranslate recomputes the visitor view and re-runs the auto-select
// policy. Callers hold c.mu.
func (c *Controller) retranslate() {
	c.translated = Translate(c.store.All(), c.hostTimezone, c.visitorTimezone)
	c.autoSelect()
}

// autoSelect picks the earliest visitor date with open slots. A manual
// selection sticks until its date loses all slots, at which point
// auto-select re-arms. Timezone switches therefore no longer yank a
// hand-picked date back to the earliest available one.
func (c *Controller) autoSelect() {
	if c.manualSelection {
		if len(c.translated[c.selectedDate]) > 0 {
			return
		}
		c.manualSelection = false
	}

	dates := c.translated.Dates()
	if len(dates) == 0 {
		c.selectedDate = ""
		return
	}
	if c.selectedDate != dates[0] {
		c.logger.Debug().Str("date", dates[0]).Msg("auto-selected earliest available date")
	}
	c.selectedDate = dates[0]
}

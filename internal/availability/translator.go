package availability

import (
	"fmt"
	"sort"
	"time"

	"zapis/internal/metrics"
	"zapis/internal/models"
)

// Translate converts host-local slots into an AvailabilityMap bucketed
// by visitor-local date. No slot is ever lost or duplicated: a slot
// that cannot be translated (malformed date/time, unknown timezone) is
// bucketed under its original host date with its raw time as the
// display time, so availability never silently disappears.
func Translate(slots []models.HostSlot, hostTimezone, visitorTimezone string) models.AvailabilityMap {
	out := make(models.AvailabilityMap)
	if len(slots) == 0 {
		return out
	}

	sameZone := hostTimezone == visitorTimezone

	hostLoc, hostErr := time.LoadLocation(hostTimezone)
	var visitorLoc *time.Location
	var visitorErr error
	if !sameZone {
		visitorLoc, visitorErr = time.LoadLocation(visitorTimezone)
	}

	for _, slot := range slots {
		vs, err := translateOne(slot, hostLoc, hostErr, visitorLoc, visitorErr, sameZone)
		if err != nil {
			metrics.IncTranslationFallback()
			vs = fallbackSlot(slot)
		}
		out[vs.VisitorDate] = append(out[vs.VisitorDate], vs)
	}

	for _, bucket := range out {
		sort.Slice(bucket, func(i, j int) bool {
			if !bucket[i].Instant.Equal(bucket[j].Instant) {
				return bucket[i].Instant.Before(bucket[j].Instant)
			}
			return bucket[i].HostTime < bucket[j].HostTime
		})
	}
	return out
}

func translateOne(
	slot models.HostSlot,
	hostLoc *time.Location, hostErr error,
	visitorLoc *time.Location, visitorErr error,
	sameZone bool,
) (models.VisitorSlot, error) {
	if hostErr != nil {
		return models.VisitorSlot{}, hostErr
	}

	// Direct civil-time-to-instant conversion in the host zone. During
	// a DST fall-back the duplicated wall time resolves to whichever
	// offset the time package picks; the backend is not expected to
	// emit slots inside such windows.
	instant, err := time.ParseInLocation(
		models.DateLayout+" "+models.TimeLayout,
		slot.HostDate+" "+slot.HostTime,
		hostLoc,
	)
	if err != nil {
		return models.VisitorSlot{}, err
	}
	if instant.Format(models.DateLayout) != slot.HostDate {
		return models.VisitorSlot{}, fmt.Errorf("date %s did not round-trip", slot.HostDate)
	}

	if sameZone {
		// Identity case: no conversion, bucket under the host date.
		display, err := formatDisplayTime(slot.HostTime)
		if err != nil {
			return models.VisitorSlot{}, err
		}
		return models.VisitorSlot{
			HostDate:    slot.HostDate,
			HostTime:    slot.HostTime,
			Instant:     instant,
			VisitorDate: slot.HostDate,
			DisplayTime: display,
		}, nil
	}

	if visitorErr != nil {
		return models.VisitorSlot{}, visitorErr
	}

	local := instant.In(visitorLoc)
	return models.VisitorSlot{
		HostDate:    slot.HostDate,
		HostTime:    slot.HostTime,
		Instant:     instant,
		VisitorDate: local.Format(models.DateLayout),
		DisplayTime: local.Format(models.DisplayTimeLayout),
	}, nil
}

// fallbackSlot degrades to an untranslated slot under the host date.
// The best-effort instant is parsed as UTC rather than the host zone,
// so within a bucket that mixes fallback and translated slots the
// fallback's position is approximate. A zero instant sorts first.
func fallbackSlot(slot models.HostSlot) models.VisitorSlot {
	vs := models.VisitorSlot{
		HostDate:    slot.HostDate,
		HostTime:    slot.HostTime,
		VisitorDate: slot.HostDate,
		DisplayTime: slot.HostTime,
	}
	if t, err := time.Parse(models.DateLayout+" "+models.TimeLayout, slot.HostDate+" "+slot.HostTime); err == nil {
		vs.Instant = t
	}
	return vs
}

func formatDisplayTime(hostTime string) (string, error) {
	t, err := time.Parse(models.TimeLayout, hostTime)
	if err != nil {
		return "", err
	}
	return t.Format(models.DisplayTimeLayout), nil
}

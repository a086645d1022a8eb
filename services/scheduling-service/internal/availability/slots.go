package availability

import (
	"sort"
	"time"

	"github.com/caredesk/clinicsched/services/scheduling-service/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Slot is a bookable candidate window. Slots are computed on demand from the
// current templates and bookings; they are never persisted.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect. An interval ending exactly when another starts does
// not overlap it.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Expand walks the template's window on the given calendar day in steps of the
// template's slot duration and returns every candidate slot, occupied or not.
// Candidates that would run past the window's end are dropped.
//
// The template is assumed well-formed (validated at write time); a zero or
// negative step yields no slots rather than looping forever.
func Expand(tpl model.AvailabilityTemplate, day time.Time) []Slot {
	step := time.Duration(tpl.SlotDurationMins) * time.Minute
	if step <= 0 || tpl.StartMinute >= tpl.EndMinute {
		return nil
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	windowStart := dayStart.Add(time.Duration(tpl.StartMinute) * time.Minute)
	windowEnd := dayStart.Add(time.Duration(tpl.EndMinute) * time.Minute)

	var slots []Slot
	for t := windowStart; !t.Add(step).After(windowEnd); t = t.Add(step) {
		slots = append(slots, Slot{Start: t, End: t.Add(step)})
	}
	return slots
}

// GenerateSlots produces the ordered bookable slots for one practitioner on one
// day. Each template is walked independently: overlapping templates may emit
// overlapping slots, which models extra concurrent capacity rather than being
// deduplicated. A candidate is dropped when it overlaps a busy interval or when
// its start is not strictly after now.
//
// now is injected so callers stay deterministic in tests.
func GenerateSlots(templates []model.AvailabilityTemplate, busy []Interval, day, now time.Time) []Slot {
	var out []Slot
	weekday := int(day.Weekday())
	for _, tpl := range templates {
		if !tpl.Active || tpl.Weekday != weekday {
			continue
		}
		for _, s := range Expand(tpl, day) {
			if !s.Start.After(now) {
				continue
			}
			if overlapsAny(s.Start, s.End, busy) {
				continue
			}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}

// Package recur expands recurrence roots into concrete occurrences.
//
// Stepping is always computed from the root's start (the rrule DTSTART),
// never from the query window, so occurrence dates are identical no matter
// how a time range is split into queries.
package recur

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	appLog "lifecal/internal/log"
	"lifecal/internal/model"
)

const (
	defaultMaxOccurrences = 5000
	instanceTimeLayout    = "20060102T150405Z"
)

// Config controls how recurrence expansion is performed.
type Config struct {
	// Location is the zone in which the rule steps (wall-clock stable
	// across DST). If nil, the root's own location is used.
	Location *time.Location

	// MaxOccurrences is a safety cap per root. If zero,
	// defaultMaxOccurrences is used.
	MaxOccurrences int
}

// Result wraps the expanded occurrences of one root.
type Result struct {
	Events []model.CalendarEvent
	// Truncated is set when MaxOccurrences was hit.
	Truncated bool
}

// Expand produces the occurrences of root that overlap [windowStart,
// windowEnd] (inclusive boundaries).
//
// overrides are the persisted detached instances of the root. An override
// whose OriginalStartDateTime matches a computed occurrence replaces the
// virtual instance; a cancelled override (tombstone) removes it. An
// override moved into the window from an occurrence outside it is emitted
// too.
func Expand(root model.CalendarEvent, overrides []model.CalendarEvent, windowStart, windowEnd time.Time, cfg Config) (Result, error) {
	var result Result

	if windowStart.After(windowEnd) {
		return result, fmt.Errorf("%w: start %s is after end %s", model.ErrMalformedWindow,
			windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	series, err := NewSeries(root, cfg.Location)
	if err != nil {
		return result, err
	}

	byOriginal := indexOverrides(root.ID, overrides)
	used := make(map[int64]bool, len(byOriginal))

	if series.Spans(windowStart, windowEnd) {
		starts := series.Between(windowStart.Add(-series.lookback()), windowEnd)
		if len(starts) > cfg.MaxOccurrences {
			starts = starts[:cfg.MaxOccurrences]
			result.Truncated = true
			appLog.Error("expand: truncated occurrences due to cap",
				errors.New("max occurrences reached"),
				"root", root.ID,
				"cap", cfg.MaxOccurrences,
			)
		}

		for _, start := range starts {
			end := series.End(start)
			key := start.UnixNano()

			if ov, ok := byOriginal[key]; ok {
				used[key] = true
				if !ov.IsCancelled && ov.Overlaps(windowStart, windowEnd) {
					result.Events = append(result.Events, ov)
				}
				continue
			}
			if !model.Overlaps(start, end, windowStart, windowEnd) {
				continue
			}
			result.Events = append(result.Events, Virtual(root, start, end))
		}
	}

	// Overrides moved into the window from a slot outside it.
	for key, ov := range byOriginal {
		if used[key] || ov.IsCancelled || !ov.Overlaps(windowStart, windowEnd) {
			continue
		}
		if !series.Occurs(ov.OriginalStartDateTime.In(series.loc)) {
			appLog.Debug("expand: ignoring override for non-occurrence",
				"root", root.ID, "override", ov.ID,
				"original_start", ov.OriginalStartDateTime.Format(time.RFC3339))
			continue
		}
		result.Events = append(result.Events, ov)
	}

	SortEvents(result.Events)
	return result, nil
}

// Virtual builds the computed instance of root starting at start.
func Virtual(root model.CalendarEvent, start, end time.Time) model.CalendarEvent {
	inst := root
	inst.ID = InstanceID(root.ID, start)
	inst.StartDateTime = start
	inst.EndDateTime = end
	inst.RecurrenceRule = nil
	inst.RecurrenceEndDate = nil
	inst.ParentEventID = model.Ptr(root.ID)
	inst.IsRecurringInstance = true
	inst.IsCancelled = false
	orig := start
	inst.OriginalStartDateTime = &orig
	return inst
}

// InstanceID is the stable id of the virtual occurrence of rootID at start.
func InstanceID(rootID string, start time.Time) string {
	return rootID + "_" + start.UTC().Format(instanceTimeLayout)
}

// ParseInstanceID splits an id produced by InstanceID.
func ParseInstanceID(id string) (string, time.Time, bool) {
	i := strings.LastIndex(id, "_")
	if i <= 0 || i == len(id)-1 {
		return "", time.Time{}, false
	}
	start, err := time.Parse(instanceTimeLayout, id[i+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return id[:i], start, true
}

// SortEvents orders events by start time, then by id.
func SortEvents(events []model.CalendarEvent) {
	slices.SortStableFunc(events, func(a, b model.CalendarEvent) int {
		if c := a.StartDateTime.Compare(b.StartDateTime); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func indexOverrides(rootID string, overrides []model.CalendarEvent) map[int64]model.CalendarEvent {
	out := make(map[int64]model.CalendarEvent, len(overrides))
	for _, ov := range overrides {
		if !ov.IsRecurringInstance || ov.OriginalStartDateTime == nil {
			continue
		}
		if ov.ParentEventID == nil || *ov.ParentEventID != rootID {
			continue
		}
		out[ov.OriginalStartDateTime.UnixNano()] = ov
	}
	return out
}

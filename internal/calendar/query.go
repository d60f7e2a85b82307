package calendar

import (
	"context"
	"fmt"
	"time"

	appLog "lifecal/internal/log"
	"lifecal/internal/model"
	"lifecal/internal/recur"
)

// EventsOverlapping returns events from visible sources that touch
// [start, end]: a.start <= end && start <= a.end. Recurrence roots are
// expanded into their occurrences. Results are ordered by start, then id.
func (s *Service) EventsOverlapping(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	if start.After(end) {
		return nil, fmt.Errorf("%w: start %s is after end %s", model.ErrMalformedWindow,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	c, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	visible, err := s.registry.VisibleIDs(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.CalendarEvent, 0)
	for _, ev := range c.events {
		switch {
		case ev.IsRecurringInstance:
			// Emitted through its root. Orphans whose root is gone or
			// no longer recurs behave like plain events unless cancelled.
			if root, ok := c.byID[model.Deref(ev.ParentEventID)]; (ok && root.IsRecurrenceRoot()) || ev.IsCancelled {
				continue
			}
			if visible[ev.CalendarSourceID] && ev.Overlaps(start, end) {
				out = append(out, ev)
			}

		case ev.IsRecurrenceRoot():
			if !visible[ev.CalendarSourceID] {
				continue
			}
			res, err := recur.Expand(ev, c.overrides[ev.ID], start, end, recur.Config{
				Location:       s.loc,
				MaxOccurrences: s.max,
			})
			if err != nil {
				appLog.Error("expand failed", err, "root", ev.ID)
				return nil, fmt.Errorf("expand %s: %w", ev.ID, err)
			}
			for _, occ := range res.Events {
				if visible[occ.CalendarSourceID] {
					out = append(out, occ)
				}
			}

		default:
			if visible[ev.CalendarSourceID] && ev.Overlaps(start, end) {
				out = append(out, ev)
			}
		}
	}

	recur.SortEvents(out)
	return out, nil
}

// EventsForDay returns events overlapping the calendar day of date in the
// service location, from 00:00 to the last nanosecond of the day.
func (s *Service) EventsForDay(ctx context.Context, date time.Time) ([]model.CalendarEvent, error) {
	start, end := s.DayBounds(date)
	return s.EventsOverlapping(ctx, start, end)
}

// DayBounds returns the first and last instant of date's calendar day.
func (s *Service) DayBounds(date time.Time) (time.Time, time.Time) {
	start := model.DateOnly(date, s.loc)
	return start, start.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// AllEvents returns the stored events of visible sources, without
// expansion and without tombstones.
func (s *Service) AllEvents(ctx context.Context) ([]model.CalendarEvent, error) {
	c, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	visible, err := s.registry.VisibleIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.CalendarEvent, 0, len(c.events))
	for _, ev := range c.events {
		if ev.IsCancelled || !visible[ev.CalendarSourceID] {
			continue
		}
		out = append(out, ev)
	}
	recur.SortEvents(out)
	return out, nil
}

// StoredEvents returns every stored event of the given sources, including
// tombstones. Used for export.
func (s *Service) StoredEvents(ctx context.Context, sourceIDs map[string]bool) ([]model.CalendarEvent, error) {
	c, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.CalendarEvent, 0)
	for _, ev := range c.events {
		if sourceIDs[ev.CalendarSourceID] {
			out = append(out, ev)
		}
	}
	recur.SortEvents(out)
	return out, nil
}

// TaskLinkedEvents returns every stored event that mirrors a task,
// regardless of source visibility.
func (s *Service) TaskLinkedEvents(ctx context.Context) ([]model.CalendarEvent, error) {
	c, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.CalendarEvent
	for _, ev := range c.events {
		if ev.TaskID != nil && !ev.IsCancelled {
			out = append(out, ev)
		}
	}
	recur.SortEvents(out)
	return out, nil
}

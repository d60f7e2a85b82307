package calendar

import (
	"context"
	"fmt"
	"time"

	appLog "lifecal/internal/log"
	"lifecal/internal/model"
	"lifecal/internal/recur"
)

// ReplaceResult summarizes a ReplaceExternal run.
type ReplaceResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
}

// ReplaceExternal makes the imported events of sourceID match incoming.
// Events are matched by ExternalUID (and OriginalStartDateTime for
// detached instances) so ids stay stable across refreshes. Stored imported
// events missing from incoming are deleted. Events created by hand in the
// same source are left alone.
//
// incoming instances reference their root through ParentEventID using the
// ids assigned in incoming.
func (s *Service) ReplaceExternal(ctx context.Context, sourceID string, incoming []model.CalendarEvent) (ReplaceResult, error) {
	var res ReplaceResult
	if _, err := s.registry.Source(ctx, sourceID); err != nil {
		return res, err
	}

	stored, err := s.store.FindEventsBySource(ctx, sourceID)
	if err != nil {
		return res, err
	}
	existing := make(map[string]model.CalendarEvent)
	for _, ev := range stored {
		if ev.ExternalUID != nil {
			existing[externalKey(ev)] = ev
		}
	}

	now := s.now()
	idMap := make(map[string]string, len(incoming))
	keep := make(map[string]bool, len(incoming))
	writes := make([]model.CalendarEvent, 0, len(incoming))

	// Roots first so instances can be remapped onto stored root ids.
	ordered := make([]model.CalendarEvent, 0, len(incoming))
	for _, ev := range incoming {
		if !ev.IsRecurringInstance {
			ordered = append(ordered, ev)
		}
	}
	for _, ev := range incoming {
		if ev.IsRecurringInstance {
			ordered = append(ordered, ev)
		}
	}

	for _, ev := range ordered {
		ev.CalendarSourceID = sourceID
		if ev.ExternalUID == nil {
			res.Skipped++
			continue
		}
		if ev.IsRecurringInstance {
			parent, ok := idMap[model.Deref(ev.ParentEventID)]
			if !ok {
				res.Skipped++
				continue
			}
			ev.ParentEventID = model.Ptr(parent)
		}
		if err := ev.Validate(); err != nil {
			appLog.Warn("skipping imported event", "uid", model.Deref(ev.ExternalUID), "reason", err.Error())
			res.Skipped++
			continue
		}
		if ev.RecurrenceRule != nil {
			if err := recur.ValidateRule(*ev.RecurrenceRule); err != nil {
				appLog.Warn("skipping imported event", "uid", model.Deref(ev.ExternalUID), "reason", err.Error())
				res.Skipped++
				continue
			}
		}

		incomingID := ev.ID
		key := externalKey(ev)
		if prev, ok := existing[key]; ok {
			ev.ID = prev.ID
			ev.CreatedAt = prev.CreatedAt
			ev.UpdatedAt = prev.UpdatedAt
			if sameContent(prev, ev) {
				res.Unchanged++
			} else {
				writes = append(writes, ev.Touch(now))
				res.Updated++
			}
		} else {
			ev.ID = ""
			ev = model.NewCalendarEvent(ev, now)
			writes = append(writes, ev)
			res.Created++
		}
		idMap[incomingID] = ev.ID
		keep[key] = true
	}

	err = s.write(func() error {
		for _, ev := range writes {
			if err := s.store.SaveEvent(ctx, ev); err != nil {
				return err
			}
		}
		// Instances before roots, so no instance outlives its root.
		for _, pass := range []bool{true, false} {
			for key, ev := range existing {
				if keep[key] || ev.IsRecurringInstance != pass {
					continue
				}
				if err := s.store.DeleteEvent(ctx, ev.ID); err != nil {
					return err
				}
				res.Deleted++
			}
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("replace external events of %s: %w", sourceID, err)
	}

	appLog.Info("external events replaced", "source", sourceID,
		"created", res.Created, "updated", res.Updated, "unchanged", res.Unchanged,
		"deleted", res.Deleted, "skipped", res.Skipped)
	return res, nil
}

func externalKey(ev model.CalendarEvent) string {
	key := model.Deref(ev.ExternalUID)
	if ev.IsRecurringInstance && ev.OriginalStartDateTime != nil {
		key += "|" + ev.OriginalStartDateTime.UTC().Format(time.RFC3339Nano)
	}
	return key
}

// sameContent compares the fields an import can change.
func sameContent(a, b model.CalendarEvent) bool {
	return a.Title == b.Title &&
		model.Deref(a.Description) == model.Deref(b.Description) &&
		model.Deref(a.Location) == model.Deref(b.Location) &&
		a.StartDateTime.Equal(b.StartDateTime) &&
		a.EndDateTime.Equal(b.EndDateTime) &&
		a.IsAllDay == b.IsAllDay &&
		model.Deref(a.RecurrenceRule) == model.Deref(b.RecurrenceRule) &&
		equalTimePtr(a.RecurrenceEndDate, b.RecurrenceEndDate) &&
		a.IsCancelled == b.IsCancelled &&
		model.Deref(a.ParentEventID) == model.Deref(b.ParentEventID)
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

package ics

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"lifecal/internal/model"
)

const untitled = "(untitled)"

// ToEvents turns decoded components into calendar event drafts ready for
// calendar.Service.ReplaceExternal.
//
// Components sharing a UID form one series: the component without a
// RECURRENCE-ID is the root, overrides become detached instances, and
// EXDATEs and cancelled overrides become tombstones. Instances point at
// their root through the draft ids assigned here. An override without a
// series is imported as a standalone event.
func ToEvents(items []VEvent) []model.CalendarEvent {
	byUID := make(map[string][]VEvent)
	var uids []string
	for _, it := range items {
		if _, seen := byUID[it.UID]; !seen {
			uids = append(uids, it.UID)
		}
		byUID[it.UID] = append(byUID[it.UID], it)
	}

	out := make([]model.CalendarEvent, 0, len(items))
	for _, uid := range uids {
		group := byUID[uid]
		master, overrides := splitSeries(group)

		if master == nil {
			for _, ov := range overrides {
				if ov.Cancelled {
					continue
				}
				standalone := draft(ov)
				standalone.ExternalUID = model.Ptr(uid + "#" + ov.RecurrenceID.UTC().Format(stampLayout))
				out = append(out, standalone)
			}
			continue
		}
		if master.Cancelled {
			continue
		}

		root := draft(*master)
		root.ID = "ics:" + uid
		if master.RawRRule != "" {
			root.RecurrenceRule = model.Ptr(master.RawRRule)
		}
		out = append(out, root)

		if root.RecurrenceRule == nil {
			continue
		}
		span := master.End.Sub(master.Start)
		detached := make(map[int64]bool, len(overrides))
		for _, ov := range overrides {
			orig := *ov.RecurrenceID
			detached[orig.UnixNano()] = true
			inst := draft(ov)
			if ov.Cancelled {
				inst = tombstone(root, orig, span)
			}
			out = append(out, asInstance(inst, root, orig))
		}
		for _, ex := range master.ExDates {
			if detached[ex.UnixNano()] {
				continue
			}
			detached[ex.UnixNano()] = true
			out = append(out, asInstance(tombstone(root, ex, span), root, ex))
		}
	}
	return out
}

// splitSeries picks the root component (highest SEQUENCE wins among
// duplicates) and the latest override per RECURRENCE-ID.
func splitSeries(group []VEvent) (*VEvent, []VEvent) {
	var master *VEvent
	latest := make(map[int64]VEvent)
	for i := range group {
		it := group[i]
		if it.RecurrenceID == nil {
			if master == nil || it.Seq > master.Seq {
				master = &group[i]
			}
			continue
		}
		key := it.RecurrenceID.UnixNano()
		if prev, ok := latest[key]; !ok || it.Seq >= prev.Seq {
			latest[key] = it
		}
	}
	overrides := make([]VEvent, 0, len(latest))
	for _, ov := range latest {
		overrides = append(overrides, ov)
	}
	slices.SortFunc(overrides, func(a, b VEvent) int {
		return cmp.Compare(a.RecurrenceID.UnixNano(), b.RecurrenceID.UnixNano())
	})
	return master, overrides
}

func draft(it VEvent) model.CalendarEvent {
	title := strings.TrimSpace(it.Summary)
	if title == "" {
		title = untitled
	}
	ev := model.CalendarEvent{
		Title:         title,
		StartDateTime: it.Start,
		EndDateTime:   it.End,
		IsAllDay:      it.AllDay,
		ExternalUID:   model.Ptr(it.UID),
	}
	if d := strings.TrimSpace(it.Description); d != "" {
		ev.Description = model.Ptr(d)
	}
	if l := strings.TrimSpace(it.Location); l != "" {
		ev.Location = model.Ptr(l)
	}
	return ev
}

func tombstone(root model.CalendarEvent, orig time.Time, span time.Duration) model.CalendarEvent {
	return model.CalendarEvent{
		Title:         root.Title,
		StartDateTime: orig,
		EndDateTime:   orig.Add(span),
		IsAllDay:      root.IsAllDay,
		IsCancelled:   true,
	}
}

func asInstance(ev, root model.CalendarEvent, orig time.Time) model.CalendarEvent {
	ev.ID = root.ID + "@" + orig.UTC().Format(stampLayout)
	ev.ExternalUID = root.ExternalUID
	ev.ParentEventID = model.Ptr(root.ID)
	ev.IsRecurringInstance = true
	ev.OriginalStartDateTime = model.Ptr(orig)
	ev.RecurrenceRule = nil
	return ev
}

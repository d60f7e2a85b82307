package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "lifecal/internal/log"
	"lifecal/internal/model"
	"lifecal/internal/recur"
)

const stampLayout = "20060102T150405Z"

// ExportOptions controls Encode.
type ExportOptions struct {
	// Name is written as X-WR-CALNAME.
	Name string
	// Location decides the calendar date of all-day events.
	Location *time.Location
	// Sources labels each event with its source name and default color.
	Sources map[string]model.CalendarSource
}

// Encode serializes stored events as a VCALENDAR. Recurrence roots keep
// their rule, tombstones become EXDATEs on the root and detached
// instances are written as RECURRENCE-ID overrides. Instances whose root
// is not part of events are dropped.
func Encode(events []model.CalendarEvent, opts ExportOptions) string {
	if opts.Location == nil {
		opts.Location = time.Local
	}

	cal := ical.NewCalendar()
	cal.SetProductId("-//lifecal//lifecal//EN")
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	cal.SetXWRTimezone(opts.Location.String())

	roots := make(map[string]model.CalendarEvent)
	children := make(map[string][]model.CalendarEvent)
	for _, ev := range events {
		if ev.IsRecurringInstance {
			children[model.Deref(ev.ParentEventID)] = append(children[model.Deref(ev.ParentEventID)], ev)
			continue
		}
		roots[ev.ID] = ev
	}

	written := 0
	for _, ev := range events {
		if ev.IsRecurringInstance {
			continue
		}
		uid := uidFor(ev)
		ve := cal.AddEvent(uid)
		writeCommon(ve, ev, opts)

		if ev.IsRecurrenceRoot() {
			rule, err := recur.CanonicalRule(ev)
			if err != nil {
				appLog.Warn("ics export: dropping invalid rule", "event", ev.ID, "reason", err.Error())
			} else {
				ve.AddProperty(ical.ComponentPropertyRrule, rule)
			}
			for _, child := range children[ev.ID] {
				if child.IsCancelled && child.OriginalStartDateTime != nil {
					value, params := timeValue(*child.OriginalStartDateTime, ev.IsAllDay, opts.Location)
					ve.AddProperty(ical.ComponentPropertyExdate, value, params...)
				}
			}
		}
		written++

		for _, child := range children[ev.ID] {
			if child.IsCancelled || child.OriginalStartDateTime == nil {
				continue
			}
			ov := cal.AddEvent(uid)
			writeCommon(ov, child, opts)
			value, params := timeValue(*child.OriginalStartDateTime, ev.IsAllDay, opts.Location)
			ov.SetProperty(recurrenceID, value, params...)
			written++
		}
	}

	for parent := range children {
		if _, ok := roots[parent]; !ok {
			appLog.Debug("ics export: skipping instances without root", "root", parent, "count", len(children[parent]))
		}
	}
	appLog.Info("ics export completed", "vevents", written)
	return cal.Serialize()
}

func writeCommon(ve *ical.VEvent, ev model.CalendarEvent, opts ExportOptions) {
	ve.SetDtStampTime(ev.UpdatedAt)
	if !ev.CreatedAt.IsZero() {
		ve.SetCreatedTime(ev.CreatedAt)
	}
	if !ev.UpdatedAt.IsZero() {
		ve.SetModifiedAt(ev.UpdatedAt)
	}
	if ev.IsAllDay {
		ve.SetAllDayStartAt(ev.StartDateTime.In(opts.Location))
		ve.SetAllDayEndAt(ev.EndDateTime.In(opts.Location))
	} else {
		ve.SetStartAt(ev.StartDateTime)
		ve.SetEndAt(ev.EndDateTime)
	}
	ve.SetSummary(ev.Title)
	if d := model.Deref(ev.Description); d != "" {
		ve.SetDescription(d)
	}
	if l := model.Deref(ev.Location); l != "" {
		ve.SetLocation(l)
	}

	color := model.Deref(ev.Color)
	if src, ok := opts.Sources[ev.CalendarSourceID]; ok {
		ve.SetProperty(ical.ComponentPropertyCategories, src.Name)
		if color == "" {
			color = src.Color
		}
	}
	if color != "" {
		ve.SetProperty(ical.ComponentPropertyColor, color)
	}
}

// timeValue formats an occurrence start the way DTSTART of the series is
// written: a DATE for all-day series, a UTC DATE-TIME otherwise.
func timeValue(t time.Time, allDay bool, loc *time.Location) (string, []ical.PropertyParameter) {
	if allDay {
		return t.In(loc).Format("20060102"), []ical.PropertyParameter{ical.WithValue(string(ical.ValueDataTypeDate))}
	}
	return t.UTC().Format(stampLayout), nil
}

func uidFor(ev model.CalendarEvent) string {
	if uid := model.Deref(ev.ExternalUID); uid != "" {
		return uid
	}
	return ev.ID + "@lifecal"
}

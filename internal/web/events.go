package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"lifecal/internal/model"
	"lifecal/internal/recur"
)

type eventsResponse struct {
	Events          []model.CalendarEvent `json:"events"`
	RangeStart      time.Time             `json:"range_start"`
	RangeEnd        time.Time             `json:"range_end"`
	DisplayTimeZone string                `json:"display_time_zone"`
}

// eventBody carries the editable event fields. Absent fields keep their
// current value; an empty string clears an optional text field.
type eventBody struct {
	CalendarSourceID *string    `json:"calendar_source_id"`
	OperationID      *string    `json:"operation_id"`
	Title            *string    `json:"title"`
	Description      *string    `json:"description"`
	Location         *string    `json:"location"`
	Start            *time.Time `json:"start"`
	End              *time.Time `json:"end"`
	AllDay           *bool      `json:"all_day"`
	Color            *string    `json:"color"`
	RecurrenceRule   *string    `json:"recurrence_rule"`
	RecurrenceEnd    *time.Time `json:"recurrence_end"`
	Region           *string    `json:"region"`
	WikiID           *string    `json:"wiki_id"`
}

func (b eventBody) apply(ev model.CalendarEvent) model.CalendarEvent {
	if b.CalendarSourceID != nil {
		ev.CalendarSourceID = strings.TrimSpace(*b.CalendarSourceID)
	}
	if b.Title != nil {
		ev.Title = *b.Title
	}
	if b.Start != nil {
		ev.StartDateTime = *b.Start
	}
	if b.End != nil {
		ev.EndDateTime = *b.End
	}
	if b.AllDay != nil {
		ev.IsAllDay = *b.AllDay
	}
	if b.RecurrenceEnd != nil {
		ev.RecurrenceEndDate = b.RecurrenceEnd
	}
	setOptional(&ev.OperationID, b.OperationID)
	setOptional(&ev.Description, b.Description)
	setOptional(&ev.Location, b.Location)
	setOptional(&ev.Color, b.Color)
	setOptional(&ev.RecurrenceRule, b.RecurrenceRule)
	setOptional(&ev.Region, b.Region)
	setOptional(&ev.WikiID, b.WikiID)
	return ev
}

func setOptional(dst **string, v *string) {
	if v == nil {
		return
	}
	if strings.TrimSpace(*v) == "" {
		*dst = nil
		return
	}
	s := *v
	*dst = &s
}

// handleEvents serves ?date=YYYY-MM-DD or ?start=&end= (RFC 3339 or dates).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	loc := s.app.Location()
	q := r.URL.Query()

	var (
		start, end time.Time
		err        error
	)
	switch {
	case q.Get("date") != "":
		day, perr := parseDay(q.Get("date"), loc)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		start, end = s.app.Calendar().DayBounds(day)
	case q.Get("start") != "" && q.Get("end") != "":
		if start, err = parseInstant(q.Get("start"), loc); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if end, err = parseInstant(q.Get("end"), loc); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		start, end = s.app.Calendar().DayBounds(time.Now())
	}

	events, err := s.app.EventsBetween(r.Context(), start, end)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:          events,
		RangeStart:      start,
		RangeEnd:        end,
		DisplayTimeZone: loc.String(),
	})
}

func (s *Server) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.app.AllEvents(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.app.Event(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var body eventBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, err := s.app.CreateEvent(r.Context(), body.apply(model.CalendarEvent{}))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// handleEditEvent edits a stored event. An occurrence id detaches that
// occurrence from its series.
func (s *Server) handleEditEvent(w http.ResponseWriter, r *http.Request) {
	var body eventBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	current, err := s.app.Event(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	ev, err := s.app.EditEvent(r.Context(), body.apply(current))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.app.DeleteEvent(r.Context(), r.PathValue("id"), confirmed(r))
	if err != nil && deleted.ID == "" {
		writeAppError(w, err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "warning": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *Server) handleEditOccurrence(w http.ResponseWriter, r *http.Request) {
	rootID := r.PathValue("id")
	start, err := time.Parse(time.RFC3339, r.PathValue("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid occurrence start %q", r.PathValue("start")))
		return
	}
	var body eventBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	current, err := s.app.Event(r.Context(), recur.InstanceID(rootID, start))
	if err != nil {
		writeAppError(w, err)
		return
	}
	ev, err := s.app.EditOccurrence(r.Context(), rootID, start, body.apply(current))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteOccurrence(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(time.RFC3339, r.PathValue("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid occurrence start %q", r.PathValue("start")))
		return
	}
	tomb, err := s.app.DeleteOccurrence(r.Context(), r.PathValue("id"), start, confirmed(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": tomb})
}

// parseDay reads a calendar date in loc. RFC 3339 timestamps are accepted
// and reduced to their day in loc.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return model.DateOnly(t, loc), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
}

func parseInstant(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected RFC 3339 or YYYY-MM-DD", s)
}

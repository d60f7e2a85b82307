package model

import (
	"strings"
	"time"
)

// CalendarEvent is a stored event, a recurrence root, a detached instance
// of a root, or a virtual instance produced by recurrence expansion.
type CalendarEvent struct {
	ID               string  `gorm:"primaryKey" json:"id"`
	CalendarSourceID string  `gorm:"index;not null" json:"calendar_source_id"`
	OperationID      *string `gorm:"index" json:"operation_id,omitempty"`
	TaskID           *string `gorm:"index" json:"task_id,omitempty"`

	Title       string  `gorm:"not null" json:"title"`
	Description *string `json:"description,omitempty"`
	Location    *string `json:"location,omitempty"`

	StartDateTime time.Time `gorm:"index" json:"start"`
	EndDateTime   time.Time `json:"end"`
	IsAllDay      bool      `json:"all_day"`
	Color         *string   `json:"color,omitempty"`

	RecurrenceRule    *string    `json:"recurrence_rule,omitempty"`
	RecurrenceEndDate *time.Time `json:"recurrence_end,omitempty"`

	ParentEventID         *string    `gorm:"index" json:"parent_event_id,omitempty"`
	IsRecurringInstance   bool       `json:"is_recurring_instance"`
	OriginalStartDateTime *time.Time `json:"original_start,omitempty"`
	// IsCancelled marks a tombstone: the occurrence at OriginalStartDateTime
	// is removed from the series for good.
	IsCancelled bool `json:"is_cancelled,omitempty"`

	// ExternalUID is the iCalendar UID for events imported from a feed.
	ExternalUID *string `gorm:"index" json:"external_uid,omitempty"`

	Region *string `json:"region,omitempty"`
	WikiID *string `json:"wiki_id,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// NewCalendarEvent stamps a draft event with an id and creation time.
func NewCalendarEvent(draft CalendarEvent, now time.Time) CalendarEvent {
	e := draft.normalized()
	if e.ID == "" {
		e.ID = NewID()
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	return e
}

// Touch returns a copy with UpdatedAt set to now.
func (e CalendarEvent) Touch(now time.Time) CalendarEvent {
	e = e.normalized()
	e.UpdatedAt = now
	return e
}

func (e CalendarEvent) normalized() CalendarEvent {
	if e.RecurrenceRule != nil && strings.TrimSpace(*e.RecurrenceRule) == "" {
		e.RecurrenceRule = nil
	}
	return e
}

// IsRecurrenceRoot reports whether e generates a series.
func (e CalendarEvent) IsRecurrenceRoot() bool {
	return !e.IsRecurringInstance && !blankPtr(e.RecurrenceRule)
}

func (e CalendarEvent) Duration() time.Duration {
	return e.EndDateTime.Sub(e.StartDateTime)
}

// Overlaps reports whether e touches [start, end]. Boundaries count.
func (e CalendarEvent) Overlaps(start, end time.Time) bool {
	return Overlaps(e.StartDateTime, e.EndDateTime, start, end)
}

// Overlaps is the inclusive interval test s1 <= e2 && s2 <= e1.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return !s1.After(e2) && !s2.After(e1)
}

// Validate checks field-level invariants that need no other entity.
func (e CalendarEvent) Validate() error {
	if blank(e.Title) && !e.IsCancelled {
		return invalid("title", "must not be blank")
	}
	if e.CalendarSourceID == "" {
		return invalid("calendar_source_id", "must be set")
	}
	if e.StartDateTime.IsZero() || e.EndDateTime.IsZero() {
		return invalid("start", "start and end must be set")
	}
	if e.EndDateTime.Before(e.StartDateTime) {
		return invalid("end", "must not be before start")
	}
	if e.IsRecurringInstance {
		if blankPtr(e.ParentEventID) {
			return invalid("parent_event_id", "required for a recurring instance")
		}
		if e.OriginalStartDateTime == nil {
			return invalid("original_start", "required for a recurring instance")
		}
		if e.RecurrenceRule != nil && !blank(*e.RecurrenceRule) {
			return invalid("recurrence_rule", "a recurring instance cannot carry its own rule")
		}
	}
	if e.IsCancelled && !e.IsRecurringInstance {
		return invalid("is_cancelled", "only recurring instances can be cancelled")
	}
	if e.RecurrenceEndDate != nil && e.RecurrenceEndDate.Before(e.StartDateTime) {
		return invalid("recurrence_end", "must not be before start")
	}
	return nil
}

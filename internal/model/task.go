package model

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusDone       TaskStatus = "DONE"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Rank orders statuses along the workflow: TODO, IN_PROGRESS, DONE.
func (s TaskStatus) Rank() int {
	switch s {
	case StatusTodo:
		return 0
	case StatusInProgress:
		return 1
	case StatusDone:
		return 2
	}
	return 3
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Weight is larger for more important priorities.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// ParseStatus accepts any casing and "-" or " " in place of "_".
func ParseStatus(s string) (TaskStatus, bool) {
	st := TaskStatus(normalizeEnum(s))
	return st, st.Valid()
}

func ParsePriority(s string) (Priority, bool) {
	p := Priority(normalizeEnum(s))
	return p, p.Valid()
}

func normalizeEnum(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// Task is a unit of work with an optional due date. A task with a due
// date is mirrored by at most one linked CalendarEvent.
type Task struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	OperationID *string    `gorm:"index" json:"operation_id,omitempty"`
	Title       string     `gorm:"not null" json:"title"`
	Description *string    `json:"description,omitempty"`
	Status      TaskStatus `gorm:"index;not null" json:"status"`
	Priority    Priority   `gorm:"not null" json:"priority"`
	// DueDate is a calendar date; only its year, month and day matter.
	DueDate   *time.Time `json:"due_date,omitempty"`
	Assignee  *string    `gorm:"index" json:"assignee,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// NewTask stamps a draft task with an id, creation time and the default
// status and priority when they are unset.
func NewTask(draft Task, now time.Time) Task {
	t := draft
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	return t
}

func (t Task) Touch(now time.Time) Task {
	t.UpdatedAt = now
	return t
}

func (t Task) Validate() error {
	if blank(t.Title) {
		return invalid("title", "must not be blank")
	}
	if !t.Status.Valid() {
		return invalid("status", "unknown status "+string(t.Status))
	}
	if !t.Priority.Valid() {
		return invalid("priority", "unknown priority "+string(t.Priority))
	}
	return nil
}

// DateOnly truncates t to midnight of its calendar day in loc.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

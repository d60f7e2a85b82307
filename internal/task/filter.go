// Package task filters, sorts and stores tasks.
package task

import (
	"slices"
	"strings"
	"time"

	"lifecal/internal/model"
)

// DueDateFilter is a named relative-time bucket for due dates.
type DueDateFilter string

const (
	DueAny        DueDateFilter = "ANY"
	DueOverdue    DueDateFilter = "OVERDUE"
	DueToday      DueDateFilter = "TODAY"
	DueTomorrow   DueDateFilter = "TOMORROW"
	DueThisWeek   DueDateFilter = "THIS_WEEK"
	DueThisMonth  DueDateFilter = "THIS_MONTH"
	DueNoDueDate  DueDateFilter = "NO_DUE_DATE"
	DueHasDueDate DueDateFilter = "HAS_DUE_DATE"
)

func (d DueDateFilter) Valid() bool {
	switch d {
	case DueAny, DueOverdue, DueToday, DueTomorrow, DueThisWeek, DueThisMonth, DueNoDueDate, DueHasDueDate:
		return true
	}
	return false
}

type SortBy string

const (
	SortCreatedAt SortBy = "CREATED_AT"
	SortUpdatedAt SortBy = "UPDATED_AT"
	SortDueDate   SortBy = "DUE_DATE"
	SortPriority  SortBy = "PRIORITY"
	SortTitle     SortBy = "TITLE"
	SortStatus    SortBy = "STATUS"
	SortOperation SortBy = "OPERATION"
)

func (s SortBy) Valid() bool {
	switch s {
	case SortCreatedAt, SortUpdatedAt, SortDueDate, SortPriority, SortTitle, SortStatus, SortOperation:
		return true
	}
	return false
}

type SortOrder string

const (
	Asc  SortOrder = "ASC"
	Desc SortOrder = "DESC"
)

// Filter is a task query. Empty sets put no restriction on their
// dimension. Use DefaultFilter for the all-inclusive starting point; the
// zero value hides completed tasks.
type Filter struct {
	OperationIDs  []string
	Statuses      []model.TaskStatus
	Priorities    []model.Priority
	Assignees     []string
	DueDate       DueDateFilter
	SearchQuery   string
	SortBy        SortBy
	SortOrder     SortOrder
	ShowCompleted bool
}

// DefaultFilter matches every task, newest first.
func DefaultFilter() Filter {
	return Filter{
		DueDate:       DueAny,
		SortBy:        SortCreatedAt,
		SortOrder:     Desc,
		ShowCompleted: true,
	}
}

// IsActive reports whether any restricting field deviates from
// DefaultFilter. Sort key and order do not restrict and are ignored.
func (f Filter) IsActive() bool {
	return len(f.OperationIDs) > 0 ||
		len(f.Statuses) > 0 ||
		len(f.Priorities) > 0 ||
		len(f.Assignees) > 0 ||
		(f.DueDate != "" && f.DueDate != DueAny) ||
		strings.TrimSpace(f.SearchQuery) != "" ||
		!f.ShowCompleted
}

// Engine evaluates filters against a clock.
type Engine struct {
	// Now is read once per Apply. Defaults to time.Now.
	Now func() time.Time
	// Location defines calendar days. Defaults to time.Local.
	Location *time.Location
	// WeekStart begins the THIS_WEEK bucket. The zero value is Sunday.
	WeekStart time.Weekday
}

// Apply returns the tasks matching f, ordered by f's sort key with ties
// broken by id ascending. The input slice is left untouched.
func (e Engine) Apply(f Filter, tasks []model.Task) []model.Task {
	today := e.today()
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if e.matches(f, t, today) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, comparator(f.SortBy, f.SortOrder))
	return out
}

// Matches reports whether t passes f at the engine's current time.
func (e Engine) Matches(f Filter, t model.Task) bool {
	return e.matches(f, t, e.today())
}

func (e Engine) today() time.Time {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return model.DateOnly(now(), e.loc())
}

func (e Engine) loc() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.Local
}

func (e Engine) matches(f Filter, t model.Task, today time.Time) bool {
	if !f.ShowCompleted && t.Status == model.StatusDone {
		return false
	}
	if len(f.OperationIDs) > 0 && (t.OperationID == nil || !slices.Contains(f.OperationIDs, *t.OperationID)) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, t.Priority) {
		return false
	}
	if len(f.Assignees) > 0 && (t.Assignee == nil || !slices.Contains(f.Assignees, *t.Assignee)) {
		return false
	}
	if !e.inBucket(f.DueDate, t, today) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.SearchQuery)); q != "" {
		if !strings.Contains(strings.ToLower(t.Title), q) &&
			!strings.Contains(strings.ToLower(model.Deref(t.Description)), q) {
			return false
		}
	}
	return true
}

func (e Engine) inBucket(bucket DueDateFilter, t model.Task, today time.Time) bool {
	switch bucket {
	case "", DueAny:
		return true
	case DueNoDueDate:
		return t.DueDate == nil
	case DueHasDueDate:
		return t.DueDate != nil
	}
	if t.DueDate == nil {
		return false
	}
	due := model.DateOnly(*t.DueDate, e.loc())

	switch bucket {
	case DueOverdue:
		return due.Before(today) && t.Status != model.StatusDone
	case DueToday:
		return due.Equal(today)
	case DueTomorrow:
		return due.Equal(today.AddDate(0, 0, 1))
	case DueThisWeek:
		offset := (int(today.Weekday()) - int(e.WeekStart) + 7) % 7
		start := today.AddDate(0, 0, -offset)
		return !due.Before(start) && due.Before(start.AddDate(0, 0, 7))
	case DueThisMonth:
		return due.Year() == today.Year() && due.Month() == today.Month()
	}
	return true
}

package task

import (
	"slices"
	"testing"
	"time"

	"lifecal/internal/model"
)

var now = time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC) // Wednesday

func engine() Engine {
	return Engine{Now: func() time.Time { return now }, Location: time.UTC, WeekStart: time.Monday}
}

func day(m time.Month, d int) *time.Time {
	return model.Ptr(time.Date(2024, m, d, 0, 0, 0, 0, time.UTC))
}

func ids(tasks []model.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func fixtureTasks() []model.Task {
	created := now.Add(-48 * time.Hour)
	mk := func(id, title string, status model.TaskStatus, due *time.Time) model.Task {
		created = created.Add(time.Minute)
		return model.Task{ID: id, Title: title, Status: status, Priority: model.PriorityMedium, DueDate: due, CreatedAt: created, UpdatedAt: created}
	}
	return []model.Task{
		mk("a", "Pay rent", model.StatusTodo, day(3, 13)),
		mk("b", "Call plumber", model.StatusTodo, day(3, 12)),
		mk("c", "File taxes", model.StatusDone, day(3, 12)),
		mk("d", "Dentist", model.StatusInProgress, day(3, 14)),
		mk("e", "Read book", model.StatusTodo, nil),
		mk("f", "Sunday prep", model.StatusTodo, day(3, 17)),
		mk("g", "Month close", model.StatusTodo, day(3, 31)),
	}
}

func TestDueDateBuckets(t *testing.T) {
	cases := []struct {
		bucket DueDateFilter
		want   []string
	}{
		{DueAny, []string{"a", "b", "c", "d", "e", "f", "g"}},
		{DueOverdue, []string{"b"}},
		{DueToday, []string{"a"}},
		{DueTomorrow, []string{"d"}},
		{DueThisWeek, []string{"a", "b", "c", "d", "f"}},
		{DueThisMonth, []string{"a", "b", "c", "d", "f", "g"}},
		{DueNoDueDate, []string{"e"}},
		{DueHasDueDate, []string{"a", "b", "c", "d", "f", "g"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.bucket), func(t *testing.T) {
			f := DefaultFilter()
			f.DueDate = tc.bucket
			f.SortOrder = Asc
			got := ids(engine().Apply(f, fixtureTasks()))
			if !slices.Equal(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDueTodayIsNotOverdue(t *testing.T) {
	task := model.Task{ID: "x", Title: "x", Status: model.StatusTodo, DueDate: day(3, 13)}
	f := DefaultFilter()

	f.DueDate = DueOverdue
	if engine().Matches(f, task) {
		t.Fatal("task due today must not be overdue")
	}
	f.DueDate = DueToday
	if !engine().Matches(f, task) {
		t.Fatal("task due today must match TODAY")
	}
}

func TestThisWeekFollowsWeekStart(t *testing.T) {
	e := engine()
	e.WeekStart = time.Sunday
	f := DefaultFilter()
	f.DueDate = DueThisWeek
	f.SortOrder = Asc

	got := ids(e.Apply(f, fixtureTasks()))
	if slices.Contains(got, "f") {
		t.Fatalf("Sunday Mar 17 starts the next week, got %v", got)
	}
}

func TestDueDateUsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// 2024-03-13 16:00 UTC is already Mar 14 in Tokyo.
	e := Engine{Now: func() time.Time { return time.Date(2024, 3, 13, 16, 0, 0, 0, time.UTC) }, Location: tokyo}
	task := model.Task{ID: "x", Title: "x", Status: model.StatusTodo, DueDate: model.Ptr(time.Date(2024, 3, 14, 0, 0, 0, 0, tokyo))}
	f := DefaultFilter()
	f.DueDate = DueToday
	if !e.Matches(f, task) {
		t.Fatal("due date should be compared on the Tokyo calendar")
	}
}

func TestConjunctiveFilters(t *testing.T) {
	tasks := fixtureTasks()
	tasks[0].Priority = model.PriorityHigh
	tasks[0].Assignee = model.Ptr("ana")
	tasks[1].Priority = model.PriorityHigh
	tasks[3].Assignee = model.Ptr("ana")
	tasks[3].OperationID = model.Ptr("op-1")
	tasks[4].Description = model.Ptr("The RENT contract chapter")

	cases := []struct {
		name string
		edit func(f *Filter)
		want []string
	}{
		{"status or", func(f *Filter) { f.Statuses = []model.TaskStatus{model.StatusDone, model.StatusInProgress} }, []string{"c", "d"}},
		{"priority", func(f *Filter) { f.Priorities = []model.Priority{model.PriorityHigh} }, []string{"a", "b"}},
		{"priority and assignee", func(f *Filter) {
			f.Priorities = []model.Priority{model.PriorityHigh}
			f.Assignees = []string{"ana"}
		}, []string{"a"}},
		{"operation", func(f *Filter) { f.OperationIDs = []string{"op-1", "op-2"} }, []string{"d"}},
		{"search title and description", func(f *Filter) { f.SearchQuery = "  rent " }, []string{"a", "e"}},
		{"hide completed", func(f *Filter) { f.ShowCompleted = false }, []string{"a", "b", "d", "e", "f", "g"}},
		{"hide completed beats status", func(f *Filter) {
			f.ShowCompleted = false
			f.Statuses = []model.TaskStatus{model.StatusDone}
		}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := DefaultFilter()
			f.SortOrder = Asc
			tc.edit(&f)
			got := ids(engine().Apply(f, tasks))
			if !slices.Equal(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSortOrders(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []model.Task{
		{ID: "t3", Title: "banana", Status: model.StatusDone, Priority: model.PriorityLow, DueDate: day(3, 20), CreatedAt: base.Add(3 * time.Hour), OperationID: model.Ptr("op-b")},
		{ID: "t1", Title: "Apple", Status: model.StatusTodo, Priority: model.PriorityHigh, CreatedAt: base.Add(1 * time.Hour)},
		{ID: "t2", Title: "cherry", Status: model.StatusInProgress, Priority: model.PriorityMedium, DueDate: day(3, 10), CreatedAt: base.Add(2 * time.Hour), OperationID: model.Ptr("op-a")},
	}
	cases := []struct {
		by    SortBy
		order SortOrder
		want  []string
	}{
		{SortCreatedAt, Asc, []string{"t1", "t2", "t3"}},
		{SortCreatedAt, Desc, []string{"t3", "t2", "t1"}},
		{SortPriority, Asc, []string{"t1", "t2", "t3"}},
		{SortPriority, Desc, []string{"t3", "t2", "t1"}},
		{SortTitle, Asc, []string{"t1", "t3", "t2"}},
		{SortStatus, Asc, []string{"t1", "t2", "t3"}},
		{SortDueDate, Asc, []string{"t2", "t3", "t1"}},
		{SortDueDate, Desc, []string{"t3", "t2", "t1"}},
		{SortOperation, Asc, []string{"t2", "t3", "t1"}},
		{SortOperation, Desc, []string{"t3", "t2", "t1"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.by)+"_"+string(tc.order), func(t *testing.T) {
			f := DefaultFilter()
			f.SortBy, f.SortOrder = tc.by, tc.order
			got := ids(engine().Apply(f, tasks))
			if !slices.Equal(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTiesFallBackToIDAscending(t *testing.T) {
	mk := func(id string) model.Task {
		return model.Task{ID: id, Title: "same", Status: model.StatusTodo, Priority: model.PriorityHigh}
	}
	forward := []model.Task{mk("b"), mk("c"), mk("a")}
	reversed := []model.Task{mk("a"), mk("c"), mk("b")}

	for _, order := range []SortOrder{Asc, Desc} {
		f := DefaultFilter()
		f.SortBy, f.SortOrder = SortPriority, order
		x := ids(engine().Apply(f, forward))
		y := ids(engine().Apply(f, reversed))
		if !slices.Equal(x, []string{"a", "b", "c"}) || !slices.Equal(x, y) {
			t.Fatalf("%s: got %v and %v", order, x, y)
		}
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	f := DefaultFilter()
	f.SortBy = SortDueDate
	f.DueDate = DueThisMonth

	input := fixtureTasks()
	snapshot := slices.Clone(input)
	once := engine().Apply(f, input)
	twice := engine().Apply(f, once)
	if !slices.Equal(ids(once), ids(twice)) {
		t.Fatalf("once %v, twice %v", ids(once), ids(twice))
	}
	if !slices.Equal(ids(input), ids(snapshot)) {
		t.Fatal("Apply reordered its input")
	}
}

func TestIsActive(t *testing.T) {
	if DefaultFilter().IsActive() {
		t.Fatal("default filter must be inactive")
	}

	cases := map[string]func(f *Filter){
		"status":         func(f *Filter) { f.Statuses = []model.TaskStatus{model.StatusTodo} },
		"priority":       func(f *Filter) { f.Priorities = []model.Priority{model.PriorityLow} },
		"search":         func(f *Filter) { f.SearchQuery = "rent" },
		"assignee":       func(f *Filter) { f.Assignees = []string{"ana"} },
		"operation":      func(f *Filter) { f.OperationIDs = []string{"op"} },
		"due bucket":     func(f *Filter) { f.DueDate = DueOverdue },
		"hide completed": func(f *Filter) { f.ShowCompleted = false },
	}
	for name, edit := range cases {
		f := DefaultFilter()
		edit(&f)
		if !f.IsActive() {
			t.Errorf("%s: filter should be active", name)
		}
	}

	f := DefaultFilter()
	f.SearchQuery = "   "
	f.SortBy, f.SortOrder = SortTitle, Asc
	if f.IsActive() {
		t.Fatal("blank search and sort changes do not restrict")
	}
}

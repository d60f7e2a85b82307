package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"lifecal/internal/model"
)

// collaborator is the surface shared by Store and Memory.
type collaborator interface {
	SaveSource(ctx context.Context, s model.CalendarSource) error
	ListSources(ctx context.Context) ([]model.CalendarSource, error)
	SaveEvent(ctx context.Context, ev model.CalendarEvent) error
	FindEvent(ctx context.Context, id string) (model.CalendarEvent, error)
	FindEventsByParent(ctx context.Context, parentID string) ([]model.CalendarEvent, error)
	FindEventByTask(ctx context.Context, taskID string) (model.CalendarEvent, error)
	DeleteEvent(ctx context.Context, id string) error
	SaveTask(ctx context.Context, t model.Task) error
	FindTask(ctx context.Context, id string) (model.Task, error)
	FindTasksByOperation(ctx context.Context, operationID string) ([]model.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "data", "lifecal.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store := NewStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func implementations(t *testing.T) map[string]collaborator {
	return map[string]collaborator{
		"sqlite": openTestStore(t),
		"memory": NewMemory(),
	}
}

var now = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func TestEventRoundTrip(t *testing.T) {
	for name, store := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			orig := now.Add(24 * time.Hour)
			root := model.NewCalendarEvent(model.CalendarEvent{
				CalendarSourceID: "src",
				Title:            "Standup",
				StartDateTime:    now,
				EndDateTime:      now.Add(30 * time.Minute),
				RecurrenceRule:   model.Ptr("FREQ=DAILY"),
			}, now)
			inst := model.NewCalendarEvent(model.CalendarEvent{
				CalendarSourceID:      "src",
				Title:                 "Standup (late)",
				StartDateTime:         orig.Add(time.Hour),
				EndDateTime:           orig.Add(90 * time.Minute),
				ParentEventID:         model.Ptr(root.ID),
				IsRecurringInstance:   true,
				OriginalStartDateTime: &orig,
				TaskID:                model.Ptr("task-1"),
			}, now)

			for _, ev := range []model.CalendarEvent{root, inst} {
				if err := store.SaveEvent(ctx, ev); err != nil {
					t.Fatalf("save: %v", err)
				}
			}

			got, err := store.FindEvent(ctx, root.ID)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if got.Title != "Standup" || model.Deref(got.RecurrenceRule) != "FREQ=DAILY" || !got.CreatedAt.Equal(now) {
				t.Fatalf("round trip mismatch: %+v", got)
			}

			children, err := store.FindEventsByParent(ctx, root.ID)
			if err != nil || len(children) != 1 || children[0].ID != inst.ID {
				t.Fatalf("children = %v, %v", children, err)
			}
			if !children[0].OriginalStartDateTime.Equal(orig) {
				t.Fatalf("original start = %v", children[0].OriginalStartDateTime)
			}

			linked, err := store.FindEventByTask(ctx, "task-1")
			if err != nil || linked.ID != inst.ID {
				t.Fatalf("linked = %v, %v", linked.ID, err)
			}

			got.Title = "Renamed"
			if err := store.SaveEvent(ctx, got); err != nil {
				t.Fatalf("update: %v", err)
			}
			again, _ := store.FindEvent(ctx, root.ID)
			if again.Title != "Renamed" {
				t.Fatalf("update not persisted: %q", again.Title)
			}

			if err := store.DeleteEvent(ctx, root.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := store.FindEvent(ctx, root.ID); !errors.Is(err, model.ErrNotFound) {
				t.Fatalf("want ErrNotFound after delete, got %v", err)
			}
			if err := store.DeleteEvent(ctx, root.ID); !errors.Is(err, model.ErrNotFound) {
				t.Fatalf("second delete should be ErrNotFound, got %v", err)
			}
		})
	}
}

func TestTaskQueries(t *testing.T) {
	for name, store := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := model.NewTask(model.Task{Title: "a", OperationID: model.Ptr("op-1")}, now)
			b := model.NewTask(model.Task{Title: "b", OperationID: model.Ptr("op-2")}, now.Add(time.Minute))
			for _, task := range []model.Task{a, b} {
				if err := store.SaveTask(ctx, task); err != nil {
					t.Fatalf("save: %v", err)
				}
			}

			byOp, err := store.FindTasksByOperation(ctx, "op-1")
			if err != nil || len(byOp) != 1 || byOp[0].ID != a.ID {
				t.Fatalf("by operation = %v, %v", byOp, err)
			}

			if _, err := store.FindTask(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
				t.Fatalf("want ErrNotFound, got %v", err)
			}
			if err := store.DeleteTask(ctx, a.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
		})
	}
}

func TestSourceNamesAreUnique(t *testing.T) {
	for name, store := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := model.NewCalendarSource(model.CalendarSource{Name: "Work", Type: model.SourceTypeWork, IsVisible: true}, now)
			dup := model.NewCalendarSource(model.CalendarSource{Name: "Work", Type: model.SourceTypeWork}, now)

			if err := store.SaveSource(ctx, first); err != nil {
				t.Fatalf("save: %v", err)
			}
			if err := store.SaveSource(ctx, dup); !errors.Is(err, model.ErrStorage) {
				t.Fatalf("want storage error on duplicate name, got %v", err)
			}
			sources, _ := store.ListSources(ctx)
			if len(sources) != 1 {
				t.Fatalf("sources = %d", len(sources))
			}
		})
	}
}

func TestMemoryFailWrites(t *testing.T) {
	m := NewMemory()
	cause := errors.New("disk gone")
	m.FailWrites(cause)

	err := m.SaveTask(context.Background(), model.NewTask(model.Task{Title: "x"}, now))
	if !errors.Is(err, model.ErrStorage) || !errors.Is(err, cause) {
		t.Fatalf("want storage error wrapping cause, got %v", err)
	}

	m.FailWrites(nil)
	if err := m.SaveTask(context.Background(), model.NewTask(model.Task{Title: "x"}, now)); err != nil {
		t.Fatalf("save after reset: %v", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	task := model.NewTask(model.Task{Title: "x", Assignee: model.Ptr("ana")}, now)
	if err := m.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	got, _ := m.FindTask(ctx, task.ID)
	*got.Assignee = "bob"

	again, _ := m.FindTask(ctx, task.ID)
	if *again.Assignee != "ana" {
		t.Fatal("mutating a returned value changed the stored row")
	}
}

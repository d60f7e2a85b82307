package tasksync

import (
	"context"
	"errors"
	"testing"
	"time"

	"lifecal/internal/calendar"
	"lifecal/internal/model"
	"lifecal/internal/repository"
	"lifecal/internal/task"
)

type harness struct {
	store  *repository.Memory
	cal    *calendar.Service
	tasks  *task.Service
	syncer *Synchronizer
	ops    model.CalendarSource
	clock  *time.Time
}

func newHarness(t *testing.T, sourceName string) *harness {
	t.Helper()
	ctx := context.Background()
	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	store := repository.NewMemory()
	registry := calendar.NewRegistry(store, now)
	if err := registry.Bootstrap(ctx, nil, calendar.DefaultFixedSources("")); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	ops, err := registry.SourceByName(ctx, calendar.OperationsSource)
	if err != nil {
		t.Fatal(err)
	}
	cal := calendar.NewService(store, registry, calendar.Options{Location: time.UTC, Now: now})
	tasks := task.NewService(store, task.Engine{Now: now, Location: time.UTC})
	syncer := New(cal, registry, tasks, Options{
		SourceName:  sourceName,
		BlockStart:  9 * time.Hour,
		BlockLength: time.Hour,
		Location:    time.UTC,
	})
	tasks.SetLinker(syncer)
	return &harness{store: store, cal: cal, tasks: tasks, syncer: syncer, ops: ops, clock: &clock}
}

func due(d int) *time.Time {
	return model.Ptr(time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC))
}

func (h *harness) linked(t *testing.T, taskID string) model.CalendarEvent {
	t.Helper()
	ev, err := h.cal.EventForTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("linked event for %s: %v", taskID, err)
	}
	return ev
}

func TestDueDateCreatesLinkedEvent(t *testing.T) {
	h := newHarness(t, calendar.OperationsSource)
	created, err := h.tasks.Create(context.Background(), model.Task{
		Title:       "Quarterly report",
		Description: model.Ptr("numbers"),
		OperationID: model.Ptr("op-7"),
		DueDate:     due(20),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ev := h.linked(t, created.ID)
	wantStart := time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)
	if !ev.StartDateTime.Equal(wantStart) || !ev.EndDateTime.Equal(wantStart.Add(time.Hour)) {
		t.Fatalf("block = %v - %v", ev.StartDateTime, ev.EndDateTime)
	}
	if ev.Title != "Quarterly report" || model.Deref(ev.Description) != "numbers" {
		t.Fatalf("content = %q / %q", ev.Title, model.Deref(ev.Description))
	}
	if ev.CalendarSourceID != h.ops.ID || model.Deref(ev.OperationID) != "op-7" {
		t.Fatalf("source %s operation %v", ev.CalendarSourceID, ev.OperationID)
	}
}

func TestTaskWithoutDueDateHasNoEvent(t *testing.T) {
	h := newHarness(t, calendar.OperationsSource)
	created, err := h.tasks.Create(context.Background(), model.Task{Title: "Someday"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.cal.EventForTask(context.Background(), created.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("want no linked event, got %v", err)
	}
}

func TestResyncIsNoop(t *testing.T) {
	h := newHarness(t, calendar.OperationsSource)
	ctx := context.Background()
	created, _ := h.tasks.Create(ctx, model.Task{Title: "x", DueDate: due(5)})
	before := h.linked(t, created.ID)

	*h.clock = h.clock.Add(time.Hour)
	for i := 0; i < 2; i++ {
		act, err := h.syncer.Sync(ctx, created)
		if err != nil || act != Unchanged {
			t.Fatalf("sync #%d = %s, %v", i, act, err)
		}
	}
	after := h.linked(t, created.ID)
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatal("no-op sync touched the event")
	}

	done, err := h.tasks.SetStatus(ctx, created.ID, model.StatusDone)
	if err != nil {
		t.Fatal(err)
	}
	if act, _ := h.syncer.Sync(ctx, done); act != Unchanged {
		t.Fatalf("status change should not move the event, got %s", act)
	}
}

func TestEditsFollowTask(t *testing.T) {
	h := newHarness(t, calendar.OperationsSource)
	ctx := context.Background()
	created, _ := h.tasks.Create(ctx, model.Task{Title: "Draft", DueDate: due(5)})
	first := h.linked(t, created.ID)

	edit := created
	edit.Title = "Final"
	edit.DueDate = due(7)
	if _, err := h.tasks.Update(ctx, edit); err != nil {
		t.Fatalf("update: %v", err)
	}

	ev := h.linked(t, created.ID)
	if ev.ID != first.ID {
		t.Fatal("linked event was replaced instead of updated")
	}
	if ev.Title != "Final" || !ev.StartDateTime.Equal(time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("event = %q at %v", ev.Title, ev.StartDateTime)
	}
}

func TestHandMovedBlock(t *testing.T) {
	tests := []struct {
		name     string
		keep     bool
		wantHour int
	}{
		{"reset to block start", false, 9},
		{"manual time kept", true, 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, calendar.OperationsSource)
			h.syncer.opts.KeepManualTime = tt.keep
			ctx := context.Background()
			created, _ := h.tasks.Create(ctx, model.Task{Title: "x", DueDate: due(5)})

			ev := h.linked(t, created.ID)
			ev.StartDateTime = time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
			ev.EndDateTime = ev.StartDateTime.Add(30 * time.Minute)
			if _, err := h.cal.EditEvent(ctx, ev); err != nil {
				t.Fatal(err)
			}

			if _, err := h.tasks.SetPriority(ctx, created.ID, model.PriorityHigh); err != nil {
				t.Fatal(err)
			}
			after := h.linked(t, created.ID)
			if after.StartDateTime.Hour() != tt.wantHour {
				t.Fatalf("block starts at %v, want %02d:00", after.StartDateTime, tt.wantHour)
			}
			if tt.keep && after.EndDateTime.Sub(after.StartDateTime) != 30*time.Minute {
				t.Fatalf("kept block lost its length: %v", after.EndDateTime)
			}
			if !tt.keep && after.EndDateTime.Sub(after.StartDateTime) != time.Hour {
				t.Fatalf("reset block length = %v", after.EndDateTime.Sub(after.StartDateTime))
			}
		})
	}
}

func TestRemovingDueDateDeletesEvent(t *testing.T) {
	h := newHarness(t, calendar.OperationsSource)
	ctx := context.Background()
	created, _ := h.tasks.Create(ctx, model.Task{Title: "x", DueDate: due(5)})

	edit := created
	edit.DueDate = nil
	if _, err := h.tasks.Update(ctx, edit); err != nil {
		t.Fatal(err)
	}
	if _, err := h.cal.EventForTask(ctx, created.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("linked event survived: %v", err)
	}
}

func TestTaskDeleteCascades(t *testing.T) {
	h := newHarness(t, calendar.OperationsSource)
	ctx := context.Background()
	created, _ := h.tasks.Create(ctx, model.Task{Title: "x", DueDate: due(5)})
	ev := h.linked(t, created.ID)

	if _, err := h.tasks.Delete(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.cal.Event(ctx, ev.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("linked event survived: %v", err)
	}
}

func TestEventDeleteClearsDueDate(t *testing.T) {
	h := newHarness(t, calendar.OperationsSource)
	ctx := context.Background()
	created, _ := h.tasks.Create(ctx, model.Task{Title: "x", DueDate: due(5)})
	ev := h.linked(t, created.ID)

	deleted, err := h.cal.DeleteEvent(ctx, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.syncer.EventDeleted(ctx, deleted); err != nil {
		t.Fatalf("event deleted: %v", err)
	}
	got, _ := h.tasks.Get(ctx, created.ID)
	if got.DueDate != nil {
		t.Fatal("due date still set")
	}
	if _, err := h.cal.EventForTask(ctx, created.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatal("clearing the due date recreated the event")
	}

	if err := h.syncer.EventDeleted(ctx, model.CalendarEvent{ID: "e", TaskID: model.Ptr("gone")}); err != nil {
		t.Fatalf("missing task should be ignored: %v", err)
	}
}

func TestSyncAllReconciles(t *testing.T) {
	h := newHarness(t, calendar.OperationsSource)
	ctx := context.Background()

	// Rows written behind the service's back.
	for _, tk := range []model.Task{
		model.NewTask(model.Task{Title: "a", DueDate: due(3)}, *h.clock),
		model.NewTask(model.Task{Title: "b"}, *h.clock),
	} {
		if err := h.store.SaveTask(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}
	orphan, err := h.cal.CreateEvent(ctx, model.CalendarEvent{
		CalendarSourceID: h.ops.ID,
		TaskID:           model.Ptr("ghost"),
		Title:            "ghost",
		StartDateTime:    time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC),
		EndDateTime:      time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	report, err := h.syncer.SyncAll(ctx)
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if report[Created] != 1 || report[Unchanged] != 1 || report[Deleted] != 1 {
		t.Fatalf("report = %v", report)
	}
	if _, err := h.cal.Event(ctx, orphan.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatal("orphan event survived")
	}

	again, err := h.syncer.SyncAll(ctx)
	if err != nil || again[Created]+again[Updated]+again[Deleted] != 0 {
		t.Fatalf("second pass = %v, %v", again, err)
	}
}

func TestMissingSourceSkips(t *testing.T) {
	h := newHarness(t, "Nowhere")
	created, err := h.tasks.Create(context.Background(), model.Task{Title: "x", DueDate: due(5)})
	if err != nil {
		t.Fatalf("create should succeed without a task calendar: %v", err)
	}
	if act, _ := h.syncer.Sync(context.Background(), created); act != Skipped {
		t.Fatalf("action = %s", act)
	}
}

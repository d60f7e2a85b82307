// Package tasksync mirrors task due dates onto the Operations calendar.
//
// Every task with a due date owns at most one linked event carrying its
// id. The event sits in a fixed block on the due date and follows the
// task's title and description. Removing the due date or the task removes
// the event; deleting the event from the calendar clears the due date.
package tasksync

import (
	"context"
	"errors"
	"time"

	appLog "lifecal/internal/log"
	"lifecal/internal/model"
)

// Calendar is the event surface the synchronizer writes through.
type Calendar interface {
	EventForTask(ctx context.Context, taskID string) (model.CalendarEvent, error)
	TaskLinkedEvents(ctx context.Context) ([]model.CalendarEvent, error)
	CreateEvent(ctx context.Context, draft model.CalendarEvent) (model.CalendarEvent, error)
	EditEvent(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error)
	DeleteEvent(ctx context.Context, id string) (model.CalendarEvent, error)
}

// Sources resolves the target calendar by name.
type Sources interface {
	SourceByName(ctx context.Context, name string) (model.CalendarSource, error)
}

// Tasks is the task surface used for reconciliation and calendar-side
// deletes.
type Tasks interface {
	List(ctx context.Context) ([]model.Task, error)
	ClearDueDate(ctx context.Context, id string) (model.Task, error)
}

type Options struct {
	// SourceName names the calendar receiving task events.
	SourceName string
	// BlockStart is the wall-clock offset from midnight of the due date.
	BlockStart time.Duration
	// BlockLength is the event duration.
	BlockLength time.Duration
	Location    *time.Location
	// KeepManualTime leaves a linked event that was moved by hand within
	// its due date at its new time. Otherwise every sync resets it.
	KeepManualTime bool
}

// Action is what a sync did to a linked event.
type Action string

const (
	Unchanged Action = "unchanged"
	Created   Action = "created"
	Updated   Action = "updated"
	Deleted   Action = "deleted"
	Skipped   Action = "skipped"
)

type Synchronizer struct {
	cal     Calendar
	sources Sources
	tasks   Tasks
	opts    Options
}

func New(cal Calendar, sources Sources, tasks Tasks, opts Options) *Synchronizer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.BlockLength <= 0 {
		opts.BlockLength = time.Hour
	}
	if opts.BlockStart <= 0 || opts.BlockStart >= 24*time.Hour {
		opts.BlockStart = 9 * time.Hour
	}
	return &Synchronizer{cal: cal, sources: sources, tasks: tasks, opts: opts}
}

// TaskSaved brings the linked event in line with t.
func (s *Synchronizer) TaskSaved(ctx context.Context, t model.Task) error {
	_, err := s.Sync(ctx, t)
	return err
}

// TaskDeleted removes the event linked to t, if any.
func (s *Synchronizer) TaskDeleted(ctx context.Context, t model.Task) error {
	linked, err := s.linked(ctx, t.ID)
	if err != nil || linked == nil {
		return err
	}
	return s.remove(ctx, *linked)
}

// EventDeleted handles a linked event removed on the calendar side by
// clearing its task's due date. Events without a task are ignored.
func (s *Synchronizer) EventDeleted(ctx context.Context, ev model.CalendarEvent) error {
	if ev.TaskID == nil || s.tasks == nil {
		return nil
	}
	_, err := s.tasks.ClearDueDate(ctx, *ev.TaskID)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	appLog.Info("due date cleared after linked event delete", "task", *ev.TaskID, "event", ev.ID)
	return nil
}

// Sync reconciles a single task with its linked event. Running it again
// for an unchanged task writes nothing.
func (s *Synchronizer) Sync(ctx context.Context, t model.Task) (Action, error) {
	linked, err := s.linked(ctx, t.ID)
	if err != nil {
		return "", err
	}

	if t.DueDate == nil {
		if linked == nil {
			return Unchanged, nil
		}
		if err := s.remove(ctx, *linked); err != nil {
			return "", err
		}
		return Deleted, nil
	}

	src, err := s.sources.SourceByName(ctx, s.opts.SourceName)
	if errors.Is(err, model.ErrNotFound) {
		appLog.Warn("task calendar missing, skipping linked event", "source", s.opts.SourceName, "task", t.ID)
		return Skipped, nil
	}
	if err != nil {
		return "", err
	}

	if linked == nil {
		ev, err := s.cal.CreateEvent(ctx, s.desired(t, src.ID, model.CalendarEvent{}))
		if err != nil {
			return "", err
		}
		appLog.Info("linked event created", "task", t.ID, "event", ev.ID, "start", ev.StartDateTime.Format(time.RFC3339))
		return Created, nil
	}

	want := s.desired(t, src.ID, *linked)
	if sameLink(*linked, want) {
		return Unchanged, nil
	}
	if _, err := s.cal.EditEvent(ctx, want); err != nil {
		return "", err
	}
	appLog.Info("linked event updated", "task", t.ID, "event", linked.ID)
	return Updated, nil
}

// Report counts what SyncAll did.
type Report map[Action]int

// SyncAll reconciles every task and removes linked events whose task no
// longer exists. It keeps going past individual failures and returns them
// joined.
func (s *Synchronizer) SyncAll(ctx context.Context) (Report, error) {
	tasks, err := s.tasks.List(ctx)
	if err != nil {
		return nil, err
	}
	report := Report{}
	var errs []error
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
		act, err := s.Sync(ctx, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report[act]++
	}

	linked, err := s.cal.TaskLinkedEvents(ctx)
	if err != nil {
		return report, errors.Join(append(errs, err)...)
	}
	for _, ev := range linked {
		if known[*ev.TaskID] {
			continue
		}
		if err := s.remove(ctx, ev); err != nil {
			errs = append(errs, err)
			continue
		}
		report[Deleted]++
	}

	appLog.Info("task sync finished",
		"created", report[Created], "updated", report[Updated], "deleted", report[Deleted],
		"unchanged", report[Unchanged], "failed", len(errs))
	return report, errors.Join(errs...)
}

func (s *Synchronizer) linked(ctx context.Context, taskID string) (*model.CalendarEvent, error) {
	ev, err := s.cal.EventForTask(ctx, taskID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Synchronizer) remove(ctx context.Context, ev model.CalendarEvent) error {
	_, err := s.cal.DeleteEvent(ctx, ev.ID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	appLog.Info("linked event removed", "task", model.Deref(ev.TaskID), "event", ev.ID)
	return nil
}

// desired returns base updated to mirror t. With KeepManualTime, a linked
// event that already sits on the due date keeps its time.
func (s *Synchronizer) desired(t model.Task, sourceID string, base model.CalendarEvent) model.CalendarEvent {
	ev := base
	ev.CalendarSourceID = sourceID
	ev.TaskID = model.Ptr(t.ID)
	ev.OperationID = t.OperationID
	ev.Title = t.Title
	ev.Description = t.Description

	due := model.DateOnly(*t.DueDate, s.opts.Location)
	if s.opts.KeepManualTime && base.ID != "" && !base.IsAllDay && model.DateOnly(base.StartDateTime, s.opts.Location).Equal(due) {
		return ev
	}
	h := int(s.opts.BlockStart / time.Hour)
	m := int(s.opts.BlockStart % time.Hour / time.Minute)
	ev.StartDateTime = time.Date(due.Year(), due.Month(), due.Day(), h, m, 0, 0, s.opts.Location)
	ev.EndDateTime = ev.StartDateTime.Add(s.opts.BlockLength)
	ev.IsAllDay = false
	return ev
}

func sameLink(a, b model.CalendarEvent) bool {
	return a.CalendarSourceID == b.CalendarSourceID &&
		a.Title == b.Title &&
		model.Deref(a.Description) == model.Deref(b.Description) &&
		model.Deref(a.OperationID) == model.Deref(b.OperationID) &&
		a.IsAllDay == b.IsAllDay &&
		a.StartDateTime.Equal(b.StartDateTime) &&
		a.EndDateTime.Equal(b.EndDateTime)
}

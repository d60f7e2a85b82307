package repository

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"lifecal/internal/model"
)

// Memory is an in-process implementation of the same collaborator
// surface as Store. Values are deep-copied in and out so callers never
// share pointer fields with the stored rows.
type Memory struct {
	mu       sync.RWMutex
	regions  map[string]model.Region
	sources  map[string]model.CalendarSource
	events   map[string]model.CalendarEvent
	tasks    map[string]model.Task
	writeErr error
}

func NewMemory() *Memory {
	return &Memory{
		regions: make(map[string]model.Region),
		sources: make(map[string]model.CalendarSource),
		events:  make(map[string]model.CalendarEvent),
		tasks:   make(map[string]model.Task),
	}
}

// FailWrites makes every subsequent save/delete fail with a StorageError
// wrapping err. Pass nil to restore normal behavior.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *Memory) checkWrite(op string) error {
	if m.writeErr != nil {
		return &model.StorageError{Op: op, Err: m.writeErr}
	}
	return nil
}

func (m *Memory) ListRegions(_ context.Context) ([]model.Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedByCreated(m.regions, func(r model.Region) (int64, string) { return r.CreatedAt.UnixNano(), r.ID }), nil
}

func (m *Memory) FindRegion(_ context.Context, id string) (model.Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.regions[id]
	if !ok {
		return model.Region{}, model.NotFound("region", id)
	}
	return r, nil
}

func (m *Memory) SaveRegion(_ context.Context, r model.Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkWrite("save region"); err != nil {
		return err
	}
	for _, other := range m.regions {
		if other.ID != r.ID && other.Name == r.Name {
			return &model.StorageError{Op: "save region", Err: errUnique("regions.name")}
		}
	}
	m.regions[r.ID] = r
	return nil
}

func (m *Memory) DeleteRegion(_ context.Context, id string) error {
	return deleteFrom(m, m.regions, "region", id)
}

func (m *Memory) ListSources(_ context.Context) ([]model.CalendarSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := sortedByCreated(m.sources, func(s model.CalendarSource) (int64, string) { return s.CreatedAt.UnixNano(), s.ID })
	for i := range out {
		out[i].RegionID = clonePtr(out[i].RegionID)
	}
	return out, nil
}

func (m *Memory) FindSource(_ context.Context, id string) (model.CalendarSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[id]
	if !ok {
		return model.CalendarSource{}, model.NotFound("calendar source", id)
	}
	s.RegionID = clonePtr(s.RegionID)
	return s, nil
}

func (m *Memory) SaveSource(_ context.Context, s model.CalendarSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkWrite("save source"); err != nil {
		return err
	}
	for _, other := range m.sources {
		if other.ID != s.ID && other.Name == s.Name {
			return &model.StorageError{Op: "save source", Err: errUnique("calendar_sources.name")}
		}
	}
	s.RegionID = clonePtr(s.RegionID)
	m.sources[s.ID] = s
	return nil
}

func (m *Memory) DeleteSource(_ context.Context, id string) error {
	return deleteFrom(m, m.sources, "calendar source", id)
}

func (m *Memory) ListEvents(_ context.Context) ([]model.CalendarEvent, error) {
	return m.filterEvents(func(model.CalendarEvent) bool { return true }), nil
}

func (m *Memory) FindEvent(_ context.Context, id string) (model.CalendarEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	if !ok {
		return model.CalendarEvent{}, model.NotFound("event", id)
	}
	return cloneEvent(ev), nil
}

func (m *Memory) FindEventsByParent(_ context.Context, parentID string) ([]model.CalendarEvent, error) {
	return m.filterEvents(func(e model.CalendarEvent) bool { return model.Deref(e.ParentEventID) == parentID }), nil
}

func (m *Memory) FindEventsByOperation(_ context.Context, operationID string) ([]model.CalendarEvent, error) {
	return m.filterEvents(func(e model.CalendarEvent) bool { return model.Deref(e.OperationID) == operationID }), nil
}

func (m *Memory) FindEventsBySource(_ context.Context, sourceID string) ([]model.CalendarEvent, error) {
	return m.filterEvents(func(e model.CalendarEvent) bool { return e.CalendarSourceID == sourceID }), nil
}

func (m *Memory) FindEventByTask(_ context.Context, taskID string) (model.CalendarEvent, error) {
	linked := m.filterEvents(func(e model.CalendarEvent) bool { return model.Deref(e.TaskID) == taskID })
	if len(linked) == 0 {
		return model.CalendarEvent{}, model.NotFound("event for task", taskID)
	}
	slices.SortFunc(linked, func(a, b model.CalendarEvent) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return linked[0], nil
}

func (m *Memory) SaveEvent(_ context.Context, ev model.CalendarEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkWrite("save event"); err != nil {
		return err
	}
	m.events[ev.ID] = cloneEvent(ev)
	return nil
}

func (m *Memory) DeleteEvent(_ context.Context, id string) error {
	return deleteFrom(m, m.events, "event", id)
}

func (m *Memory) ListTasks(_ context.Context) ([]model.Task, error) {
	return m.filterTasks(func(model.Task) bool { return true }), nil
}

func (m *Memory) FindTask(_ context.Context, id string) (model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, model.NotFound("task", id)
	}
	return cloneTask(t), nil
}

func (m *Memory) FindTasksByOperation(_ context.Context, operationID string) ([]model.Task, error) {
	return m.filterTasks(func(t model.Task) bool { return model.Deref(t.OperationID) == operationID }), nil
}

func (m *Memory) SaveTask(_ context.Context, t model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkWrite("save task"); err != nil {
		return err
	}
	m.tasks[t.ID] = cloneTask(t)
	return nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) error {
	return deleteFrom(m, m.tasks, "task", id)
}

func (m *Memory) filterEvents(keep func(model.CalendarEvent) bool) []model.CalendarEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.CalendarEvent, 0)
	for _, ev := range m.events {
		if keep(ev) {
			out = append(out, cloneEvent(ev))
		}
	}
	slices.SortFunc(out, func(a, b model.CalendarEvent) int {
		return cmp.Or(a.StartDateTime.Compare(b.StartDateTime), strings.Compare(a.ID, b.ID))
	})
	return out
}

func (m *Memory) filterTasks(keep func(model.Task) bool) []model.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Task, 0)
	for _, t := range m.tasks {
		if keep(t) {
			out = append(out, cloneTask(t))
		}
	}
	slices.SortFunc(out, func(a, b model.Task) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return out
}

func deleteFrom[V any](m *Memory, rows map[string]V, kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkWrite("delete " + kind); err != nil {
		return err
	}
	if _, ok := rows[id]; !ok {
		return model.NotFound(kind, id)
	}
	delete(rows, id)
	return nil
}

func sortedByCreated[V any](rows map[string]V, key func(V) (int64, string)) []V {
	out := make([]V, 0, len(rows))
	for _, v := range rows {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b V) int {
		ac, aid := key(a)
		bc, bid := key(b)
		return cmp.Or(cmp.Compare(ac, bc), strings.Compare(aid, bid))
	})
	return out
}

type errUnique string

func (e errUnique) Error() string { return "UNIQUE constraint failed: " + string(e) }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneEvent(e model.CalendarEvent) model.CalendarEvent {
	e.OperationID = clonePtr(e.OperationID)
	e.TaskID = clonePtr(e.TaskID)
	e.Description = clonePtr(e.Description)
	e.Location = clonePtr(e.Location)
	e.Color = clonePtr(e.Color)
	e.RecurrenceRule = clonePtr(e.RecurrenceRule)
	e.RecurrenceEndDate = clonePtr(e.RecurrenceEndDate)
	e.ParentEventID = clonePtr(e.ParentEventID)
	e.OriginalStartDateTime = clonePtr(e.OriginalStartDateTime)
	e.ExternalUID = clonePtr(e.ExternalUID)
	e.Region = clonePtr(e.Region)
	e.WikiID = clonePtr(e.WikiID)
	return e
}

func cloneTask(t model.Task) model.Task {
	t.OperationID = clonePtr(t.OperationID)
	t.Description = clonePtr(t.Description)
	t.DueDate = clonePtr(t.DueDate)
	t.Assignee = clonePtr(t.Assignee)
	return t
}

package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	appLog "lifecal/internal/log"
	"lifecal/internal/model"
)

// Store is the persistence surface the task service needs.
type Store interface {
	ListTasks(ctx context.Context) ([]model.Task, error)
	FindTask(ctx context.Context, id string) (model.Task, error)
	FindTasksByOperation(ctx context.Context, operationID string) ([]model.Task, error)
	SaveTask(ctx context.Context, t model.Task) error
	DeleteTask(ctx context.Context, id string) error
}

// Linker mirrors task changes onto the calendar. It runs after the task
// itself has been persisted.
type Linker interface {
	TaskSaved(ctx context.Context, t model.Task) error
	TaskDeleted(ctx context.Context, t model.Task) error
}

// Service owns task writes. Due dates are truncated to a calendar day in
// the engine's location before they are stored.
type Service struct {
	store  Store
	engine Engine
	now    func() time.Time

	mu     sync.Mutex
	linker Linker
}

func NewService(store Store, engine Engine) *Service {
	now := engine.Now
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, engine: engine, now: now}
}

// SetLinker installs the calendar mirror. A nil linker disables mirroring.
func (s *Service) SetLinker(l Linker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linker = l
}

func (s *Service) Engine() Engine { return s.engine }

func (s *Service) List(ctx context.Context) ([]model.Task, error) {
	return s.store.ListTasks(ctx)
}

// Query loads every task and applies f.
func (s *Service) Query(ctx context.Context, f Filter) ([]model.Task, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.Apply(f, tasks), nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Task, error) {
	return s.store.FindTask(ctx, id)
}

func (s *Service) ByOperation(ctx context.Context, operationID string) ([]model.Task, error) {
	return s.store.FindTasksByOperation(ctx, operationID)
}

// Create stores a new task. When mirroring fails the stored task is still
// returned together with the error.
func (s *Service) Create(ctx context.Context, draft model.Task) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft.ID = ""
	t := model.NewTask(s.normalize(draft), s.now())
	if err := t.Validate(); err != nil {
		return model.Task{}, err
	}
	if err := s.store.SaveTask(ctx, t); err != nil {
		return model.Task{}, err
	}
	appLog.Info("task created", "id", t.ID, "title", t.Title)
	return t, s.saved(ctx, t)
}

// Update replaces a stored task. CreatedAt is kept from the stored row.
func (s *Service) Update(ctx context.Context, t model.Task) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, t.ID, func(model.Task) model.Task { return t })
}

func (s *Service) SetStatus(ctx context.Context, id string, status model.TaskStatus) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, id, func(t model.Task) model.Task {
		t.Status = status
		return t
	})
}

func (s *Service) SetPriority(ctx context.Context, id string, priority model.Priority) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, id, func(t model.Task) model.Task {
		t.Priority = priority
		return t
	})
}

// ClearDueDate drops a task's due date, which also removes its linked
// event if one is left.
func (s *Service) ClearDueDate(ctx context.Context, id string) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, id, func(t model.Task) model.Task {
		t.DueDate = nil
		return t
	})
}

// Delete removes a task and then its linked event.
func (s *Service) Delete(ctx context.Context, id string) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.FindTask(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return model.Task{}, err
	}
	appLog.Info("task deleted", "id", id)
	if s.linker != nil {
		if err := s.linker.TaskDeleted(ctx, t); err != nil {
			appLog.Error("remove linked event failed", err, "task", id)
			return t, fmt.Errorf("task %s deleted, linked event not removed: %w", id, err)
		}
	}
	return t, nil
}

func (s *Service) update(ctx context.Context, id string, edit func(model.Task) model.Task) (model.Task, error) {
	prev, err := s.store.FindTask(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	t := s.normalize(edit(prev))
	t.ID = prev.ID
	t.CreatedAt = prev.CreatedAt
	t = t.Touch(s.now())
	if err := t.Validate(); err != nil {
		return model.Task{}, err
	}
	if err := s.store.SaveTask(ctx, t); err != nil {
		return model.Task{}, err
	}
	appLog.Debug("task updated", "id", t.ID, "status", t.Status, "priority", t.Priority)
	return t, s.saved(ctx, t)
}

func (s *Service) saved(ctx context.Context, t model.Task) error {
	if s.linker == nil {
		return nil
	}
	if err := s.linker.TaskSaved(ctx, t); err != nil {
		appLog.Error("sync linked event failed", err, "task", t.ID)
		return fmt.Errorf("task %s saved, linked event not synced: %w", t.ID, err)
	}
	return nil
}

func (s *Service) normalize(t model.Task) model.Task {
	if t.DueDate != nil {
		t.DueDate = model.Ptr(model.DateOnly(*t.DueDate, s.engine.loc()))
	}
	if t.Description != nil && *t.Description == "" {
		t.Description = nil
	}
	if t.Assignee != nil && *t.Assignee == "" {
		t.Assignee = nil
	}
	return t
}

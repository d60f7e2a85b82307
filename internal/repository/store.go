package repository

import (
	"context"

	"gorm.io/gorm"

	"lifecal/internal/model"
)

// Store is the gorm-backed persistence collaborator. Saves replace the
// whole row (insert or update); last write wins.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) ListRegions(ctx context.Context) ([]model.Region, error) {
	var out []model.Region
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&out).Error; err != nil {
		return nil, wrap("list regions", "region", "", err)
	}
	return out, nil
}

func (s *Store) FindRegion(ctx context.Context, id string) (model.Region, error) {
	var r model.Region
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return model.Region{}, wrap("find region", "region", id, err)
	}
	return r, nil
}

func (s *Store) SaveRegion(ctx context.Context, r model.Region) error {
	return wrap("save region", "region", r.ID, s.db.WithContext(ctx).Save(&r).Error)
}

func (s *Store) DeleteRegion(ctx context.Context, id string) error {
	return s.deleteByID(ctx, &model.Region{}, "region", id)
}

func (s *Store) ListSources(ctx context.Context) ([]model.CalendarSource, error) {
	var out []model.CalendarSource
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&out).Error; err != nil {
		return nil, wrap("list sources", "calendar source", "", err)
	}
	return out, nil
}

func (s *Store) FindSource(ctx context.Context, id string) (model.CalendarSource, error) {
	var src model.CalendarSource
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&src).Error; err != nil {
		return model.CalendarSource{}, wrap("find source", "calendar source", id, err)
	}
	return src, nil
}

func (s *Store) SaveSource(ctx context.Context, src model.CalendarSource) error {
	return wrap("save source", "calendar source", src.ID, s.db.WithContext(ctx).Save(&src).Error)
}

func (s *Store) DeleteSource(ctx context.Context, id string) error {
	return s.deleteByID(ctx, &model.CalendarSource{}, "calendar source", id)
}

func (s *Store) ListEvents(ctx context.Context) ([]model.CalendarEvent, error) {
	return s.findEvents(ctx, "list events", "")
}

func (s *Store) FindEvent(ctx context.Context, id string) (model.CalendarEvent, error) {
	var ev model.CalendarEvent
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&ev).Error; err != nil {
		return model.CalendarEvent{}, wrap("find event", "event", id, err)
	}
	return ev, nil
}

func (s *Store) FindEventsByParent(ctx context.Context, parentID string) ([]model.CalendarEvent, error) {
	return s.findEvents(ctx, "find events by parent", "parent_event_id = ?", parentID)
}

func (s *Store) FindEventsByOperation(ctx context.Context, operationID string) ([]model.CalendarEvent, error) {
	return s.findEvents(ctx, "find events by operation", "operation_id = ?", operationID)
}

func (s *Store) FindEventsBySource(ctx context.Context, sourceID string) ([]model.CalendarEvent, error) {
	return s.findEvents(ctx, "find events by source", "calendar_source_id = ?", sourceID)
}

// FindEventByTask returns the event linked to taskID, or ErrNotFound.
func (s *Store) FindEventByTask(ctx context.Context, taskID string) (model.CalendarEvent, error) {
	var ev model.CalendarEvent
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("created_at, id").First(&ev).Error; err != nil {
		return model.CalendarEvent{}, wrap("find event by task", "event for task", taskID, err)
	}
	return ev, nil
}

func (s *Store) SaveEvent(ctx context.Context, ev model.CalendarEvent) error {
	return wrap("save event", "event", ev.ID, s.db.WithContext(ctx).Save(&ev).Error)
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	return s.deleteByID(ctx, &model.CalendarEvent{}, "event", id)
}

func (s *Store) ListTasks(ctx context.Context) ([]model.Task, error) {
	var out []model.Task
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&out).Error; err != nil {
		return nil, wrap("list tasks", "task", "", err)
	}
	return out, nil
}

func (s *Store) FindTask(ctx context.Context, id string) (model.Task, error) {
	var t model.Task
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return model.Task{}, wrap("find task", "task", id, err)
	}
	return t, nil
}

func (s *Store) FindTasksByOperation(ctx context.Context, operationID string) ([]model.Task, error) {
	var out []model.Task
	if err := s.db.WithContext(ctx).Where("operation_id = ?", operationID).Order("created_at, id").Find(&out).Error; err != nil {
		return nil, wrap("find tasks by operation", "task", "", err)
	}
	return out, nil
}

func (s *Store) SaveTask(ctx context.Context, t model.Task) error {
	return wrap("save task", "task", t.ID, s.db.WithContext(ctx).Save(&t).Error)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.deleteByID(ctx, &model.Task{}, "task", id)
}

func (s *Store) findEvents(ctx context.Context, op, query string, args ...any) ([]model.CalendarEvent, error) {
	var out []model.CalendarEvent
	tx := s.db.WithContext(ctx)
	if query != "" {
		tx = tx.Where(query, args...)
	}
	if err := tx.Order("start_date_time, id").Find(&out).Error; err != nil {
		return nil, wrap(op, "event", "", err)
	}
	return out, nil
}

func (s *Store) deleteByID(ctx context.Context, value any, kind, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(value)
	if res.Error != nil {
		return wrap("delete "+kind, kind, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return model.NotFound(kind, id)
	}
	return nil
}

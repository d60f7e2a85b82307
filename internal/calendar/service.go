// Package calendar answers day and range queries over calendar events,
// expanding recurrence roots on demand, and owns every event write so its
// cache stays consistent.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appLog "lifecal/internal/log"
	"lifecal/internal/model"
	"lifecal/internal/recur"
)

// EventStore is the persistence surface the event service needs.
type EventStore interface {
	ListEvents(ctx context.Context) ([]model.CalendarEvent, error)
	FindEvent(ctx context.Context, id string) (model.CalendarEvent, error)
	FindEventsByParent(ctx context.Context, parentID string) ([]model.CalendarEvent, error)
	FindEventsBySource(ctx context.Context, sourceID string) ([]model.CalendarEvent, error)
	FindEventsByOperation(ctx context.Context, operationID string) ([]model.CalendarEvent, error)
	FindEventByTask(ctx context.Context, taskID string) (model.CalendarEvent, error)
	SaveEvent(ctx context.Context, ev model.CalendarEvent) error
	DeleteEvent(ctx context.Context, id string) error
}

// Options configures a Service.
type Options struct {
	// Location defines day boundaries and the zone recurrence steps in.
	Location *time.Location
	// MaxOccurrences caps expansion per root.
	MaxOccurrences int
	// Now is the clock used for timestamps.
	Now func() time.Time
}

// Service owns calendar events.
//
// It caches every persisted event. The cache is dropped on any create,
// update or delete made through the service and rebuilt on the next read;
// writes that bypass the service are not seen until Invalidate is called.
type Service struct {
	store    EventStore
	registry *Registry
	loc      *time.Location
	max      int
	now      func() time.Time

	mu    sync.Mutex
	cache *eventCache
}

type eventCache struct {
	events    []model.CalendarEvent
	byID      map[string]model.CalendarEvent
	overrides map[string][]model.CalendarEvent
}

func NewService(store EventStore, registry *Registry, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    store,
		registry: registry,
		loc:      opts.Location,
		max:      opts.MaxOccurrences,
		now:      opts.Now,
	}
}

func (s *Service) Location() *time.Location { return s.loc }

// Registry returns the source registry used for visibility.
func (s *Service) Registry() *Registry { return s.registry }

// Invalidate drops the event cache.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

func (s *Service) snapshot(ctx context.Context) (*eventCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		return s.cache, nil
	}

	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	c := &eventCache{
		events:    events,
		byID:      make(map[string]model.CalendarEvent, len(events)),
		overrides: make(map[string][]model.CalendarEvent),
	}
	for _, ev := range events {
		c.byID[ev.ID] = ev
		if ev.IsRecurringInstance && ev.ParentEventID != nil {
			c.overrides[*ev.ParentEventID] = append(c.overrides[*ev.ParentEventID], ev)
		}
	}
	s.cache = c
	appLog.Debug("event cache rebuilt", "events", len(events))
	return c, nil
}

// write runs fn under the service lock and drops the cache afterwards,
// whether or not fn succeeded.
func (s *Service) write(fn func() error) error {
	s.mu.Lock()
	defer func() {
		s.cache = nil
		s.mu.Unlock()
	}()
	return fn()
}

// Event returns a stored event, or the virtual occurrence for an id
// produced by recur.InstanceID.
func (s *Service) Event(ctx context.Context, id string) (model.CalendarEvent, error) {
	c, err := s.snapshot(ctx)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	if ev, ok := c.byID[id]; ok {
		return ev, nil
	}
	rootID, start, ok := recur.ParseInstanceID(id)
	if !ok {
		return model.CalendarEvent{}, model.NotFound("event", id)
	}
	root, series, err := s.series(c, rootID)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	start = start.In(s.loc)
	if !series.Occurs(start) {
		return model.CalendarEvent{}, model.NotFound("event", id)
	}
	if ov, ok := findOverride(c.overrides[rootID], start); ok {
		if ov.IsCancelled {
			return model.CalendarEvent{}, model.NotFound("event", id)
		}
		return ov, nil
	}
	return recur.Virtual(root, start, series.End(start)), nil
}

// EventForTask returns the event linked to a task.
func (s *Service) EventForTask(ctx context.Context, taskID string) (model.CalendarEvent, error) {
	return s.store.FindEventByTask(ctx, taskID)
}

// EventsByOperation returns the stored events tagged with an operation.
func (s *Service) EventsByOperation(ctx context.Context, operationID string) ([]model.CalendarEvent, error) {
	return s.store.FindEventsByOperation(ctx, operationID)
}

// CreateEvent validates and stores a new event. Drafts marked as
// recurring instances are detached occurrences and must point at an
// existing root and one of its occurrence starts.
func (s *Service) CreateEvent(ctx context.Context, draft model.CalendarEvent) (model.CalendarEvent, error) {
	draft.ID = ""
	ev := model.NewCalendarEvent(draft, s.now())
	if err := s.validate(ctx, ev, true); err != nil {
		return model.CalendarEvent{}, err
	}

	err := s.write(func() error {
		return s.store.SaveEvent(ctx, ev)
	})
	if err != nil {
		appLog.Error("create event failed", err, "title", ev.Title)
		return model.CalendarEvent{}, err
	}
	appLog.Info("event created", "id", ev.ID, "source", ev.CalendarSourceID, "recurring", ev.IsRecurrenceRoot())
	return ev, nil
}

// EditEvent replaces a stored event with ev. An id naming a virtual
// occurrence detaches that occurrence from its series instead.
func (s *Service) EditEvent(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	existing, err := s.store.FindEvent(ctx, ev.ID)
	if errors.Is(err, model.ErrNotFound) {
		if rootID, start, ok := recur.ParseInstanceID(ev.ID); ok {
			return s.EditOccurrence(ctx, rootID, start, ev)
		}
	}
	if err != nil {
		return model.CalendarEvent{}, err
	}
	if existing.IsCancelled {
		return model.CalendarEvent{}, model.NotFound("event", ev.ID)
	}

	// Series membership is fixed at creation.
	ev.IsRecurringInstance = existing.IsRecurringInstance
	ev.ParentEventID = existing.ParentEventID
	ev.OriginalStartDateTime = existing.OriginalStartDateTime
	ev.IsCancelled = false
	ev.CreatedAt = existing.CreatedAt
	updated := ev.Touch(s.now())

	if err := s.validate(ctx, updated, false); err != nil {
		return model.CalendarEvent{}, err
	}

	var children []model.CalendarEvent
	if !updated.IsRecurringInstance {
		if children, err = s.store.FindEventsByParent(ctx, updated.ID); err != nil {
			return model.CalendarEvent{}, err
		}
	}
	var released int
	err = s.write(func() error {
		if err := s.store.SaveEvent(ctx, updated); err != nil {
			return err
		}
		released, err = s.releaseStrayOverrides(ctx, updated, children)
		return err
	})
	if err != nil {
		appLog.Error("edit event failed", err, "id", ev.ID)
		return model.CalendarEvent{}, err
	}
	appLog.Info("event updated", "id", updated.ID, "released_overrides", released)
	return updated, nil
}

// releaseStrayOverrides handles the detached occurrences and tombstones of
// root whose original slot is no longer produced by root's series. Stray
// tombstones are removed; stray detached occurrences become standalone
// events so they stay visible. Callers hold the write lock.
func (s *Service) releaseStrayOverrides(ctx context.Context, root model.CalendarEvent, children []model.CalendarEvent) (int, error) {
	if len(children) == 0 {
		return 0, nil
	}
	var series *recur.Series
	if root.IsRecurrenceRoot() {
		var err error
		if series, err = recur.NewSeries(root, s.loc); err != nil {
			return 0, err
		}
	}

	released := 0
	for _, child := range children {
		if series != nil && child.OriginalStartDateTime != nil && series.Occurs(child.OriginalStartDateTime.In(s.loc)) {
			continue
		}
		released++
		if child.IsCancelled {
			if err := s.store.DeleteEvent(ctx, child.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
				return released, err
			}
			continue
		}
		child.IsRecurringInstance = false
		child.ParentEventID = nil
		child.OriginalStartDateTime = nil
		if err := s.store.SaveEvent(ctx, child.Touch(s.now())); err != nil {
			return released, err
		}
		appLog.Debug("detached occurrence released", "id", child.ID, "root", root.ID)
	}
	return released, nil
}

// EditOccurrence detaches the occurrence of rootID at originalStart,
// storing edited as its own row. Later expansions emit the stored row in
// place of the virtual occurrence.
func (s *Service) EditOccurrence(ctx context.Context, rootID string, originalStart time.Time, edited model.CalendarEvent) (model.CalendarEvent, error) {
	c, err := s.snapshot(ctx)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	root, series, err := s.series(c, rootID)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	originalStart = originalStart.In(s.loc)
	if !series.Occurs(originalStart) {
		return model.CalendarEvent{}, model.NotFound("occurrence", recur.InstanceID(rootID, originalStart))
	}

	if ov, ok := findOverride(c.overrides[rootID], originalStart); ok {
		if ov.IsCancelled {
			return model.CalendarEvent{}, model.NotFound("occurrence", recur.InstanceID(rootID, originalStart))
		}
		edited.ID = ov.ID
		return s.EditEvent(ctx, edited)
	}

	draft := edited
	draft.ID = ""
	if draft.CalendarSourceID == "" {
		draft.CalendarSourceID = root.CalendarSourceID
	}
	if draft.StartDateTime.IsZero() {
		draft.StartDateTime = originalStart
		draft.EndDateTime = series.End(originalStart)
	}
	draft.RecurrenceRule = nil
	draft.RecurrenceEndDate = nil
	draft.ParentEventID = model.Ptr(root.ID)
	draft.IsRecurringInstance = true
	draft.OriginalStartDateTime = &originalStart
	draft.IsCancelled = false

	inst, err := s.CreateEvent(ctx, draft)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	appLog.Info("occurrence detached", "root", root.ID, "instance", inst.ID, "original_start", originalStart.Format(time.RFC3339))
	return inst, nil
}

// DeleteEvent deletes an event and returns what was deleted.
//
//   - a root goes together with all its detached instances and tombstones
//   - a detached instance becomes a tombstone, so the occurrence stays
//     cancelled and is not re-expanded
//   - an id naming a virtual occurrence cancels that occurrence
func (s *Service) DeleteEvent(ctx context.Context, id string) (model.CalendarEvent, error) {
	ev, err := s.store.FindEvent(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		if rootID, start, ok := recur.ParseInstanceID(id); ok {
			return s.DeleteOccurrence(ctx, rootID, start)
		}
	}
	if err != nil {
		return model.CalendarEvent{}, err
	}

	switch {
	case ev.IsCancelled:
		return model.CalendarEvent{}, model.NotFound("event", id)

	case ev.IsRecurringInstance:
		tomb := ev
		tomb.IsCancelled = true
		tomb = tomb.Touch(s.now())
		if err := s.write(func() error { return s.store.SaveEvent(ctx, tomb) }); err != nil {
			appLog.Error("cancel occurrence failed", err, "id", id)
			return model.CalendarEvent{}, err
		}
		appLog.Info("detached occurrence cancelled", "id", id, "root", model.Deref(ev.ParentEventID))
		return ev, nil

	case ev.IsRecurrenceRoot():
		children, err := s.store.FindEventsByParent(ctx, ev.ID)
		if err != nil {
			return model.CalendarEvent{}, err
		}
		err = s.write(func() error {
			for _, child := range children {
				if err := s.store.DeleteEvent(ctx, child.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
					return err
				}
			}
			return s.store.DeleteEvent(ctx, ev.ID)
		})
		if err != nil {
			appLog.Error("delete series failed", err, "id", id)
			return model.CalendarEvent{}, err
		}
		appLog.Info("series deleted", "id", id, "detached", len(children))
		return ev, nil

	default:
		if err := s.write(func() error { return s.store.DeleteEvent(ctx, ev.ID) }); err != nil {
			appLog.Error("delete event failed", err, "id", id)
			return model.CalendarEvent{}, err
		}
		appLog.Info("event deleted", "id", id)
		return ev, nil
	}
}

// DeleteOccurrence cancels a single occurrence of a series by writing a
// tombstone for it.
func (s *Service) DeleteOccurrence(ctx context.Context, rootID string, originalStart time.Time) (model.CalendarEvent, error) {
	c, err := s.snapshot(ctx)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	root, series, err := s.series(c, rootID)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	originalStart = originalStart.In(s.loc)
	if !series.Occurs(originalStart) {
		return model.CalendarEvent{}, model.NotFound("occurrence", recur.InstanceID(rootID, originalStart))
	}
	if ov, ok := findOverride(c.overrides[rootID], originalStart); ok {
		return s.DeleteEvent(ctx, ov.ID)
	}

	virtual := recur.Virtual(root, originalStart, series.End(originalStart))
	tomb := virtual
	tomb.ID = ""
	tomb.IsCancelled = true
	tomb = model.NewCalendarEvent(tomb, s.now())
	if err := s.write(func() error { return s.store.SaveEvent(ctx, tomb) }); err != nil {
		appLog.Error("cancel occurrence failed", err, "root", rootID)
		return model.CalendarEvent{}, err
	}
	appLog.Info("occurrence cancelled", "root", rootID, "original_start", originalStart.Format(time.RFC3339))
	return virtual, nil
}

func (s *Service) series(c *eventCache, rootID string) (model.CalendarEvent, *recur.Series, error) {
	root, ok := c.byID[rootID]
	if !ok {
		return model.CalendarEvent{}, nil, model.NotFound("event", rootID)
	}
	if !root.IsRecurrenceRoot() {
		return model.CalendarEvent{}, nil, &model.ValidationError{Field: "parent_event_id", Reason: "event " + rootID + " is not a recurrence root"}
	}
	series, err := recur.NewSeries(root, s.loc)
	if err != nil {
		return model.CalendarEvent{}, nil, err
	}
	return root, series, nil
}

// validate checks ev against the rest of the dataset.
func (s *Service) validate(ctx context.Context, ev model.CalendarEvent, creating bool) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if _, err := s.registry.Source(ctx, ev.CalendarSourceID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return &model.ValidationError{Field: "calendar_source_id", Reason: "unknown source " + ev.CalendarSourceID}
		}
		return err
	}
	if ev.RecurrenceRule != nil {
		if err := recur.ValidateRule(*ev.RecurrenceRule); err != nil {
			return err
		}
	}
	if !ev.IsRecurringInstance || !creating {
		return nil
	}

	c, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	parentID := model.Deref(ev.ParentEventID)
	parent, ok := c.byID[parentID]
	if !ok || parent.IsRecurringInstance {
		return &model.ValidationError{Field: "parent_event_id", Reason: "must reference an existing non-instance event"}
	}
	_, series, err := s.series(c, parentID)
	if err != nil {
		return err
	}
	orig := ev.OriginalStartDateTime.In(s.loc)
	if !series.Occurs(orig) {
		return &model.ValidationError{Field: "original_start", Reason: "not an occurrence of the series"}
	}
	if _, taken := findOverride(c.overrides[parentID], orig); taken {
		return &model.ValidationError{Field: "original_start", Reason: "occurrence is already detached"}
	}
	return nil
}

func findOverride(overrides []model.CalendarEvent, originalStart time.Time) (model.CalendarEvent, bool) {
	for _, ov := range overrides {
		if ov.OriginalStartDateTime != nil && ov.OriginalStartDateTime.Equal(originalStart) {
			return ov, true
		}
	}
	return model.CalendarEvent{}, false
}

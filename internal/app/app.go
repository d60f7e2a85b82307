// Package app wires the scheduling core together and exposes the
// operations the HTTP layer and the CLI drive.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"lifecal/internal/calendar"
	"lifecal/internal/config"
	"lifecal/internal/ics"
	appLog "lifecal/internal/log"
	"lifecal/internal/model"
	"lifecal/internal/repository"
	"lifecal/internal/scheduler"
	"lifecal/internal/task"
	"lifecal/internal/tasksync"
)

// ErrNotConfirmed rejects a destructive operation the caller has not
// explicitly confirmed.
var ErrNotConfirmed = errors.New("destructive operation requires confirmation")

// Store is everything the core persists.
type Store interface {
	calendar.SourceStore
	calendar.EventStore
	task.Store
}

// Options tunes New beyond what the config file holds.
type Options struct {
	// Now is the clock for timestamps and due-date buckets.
	Now func() time.Time
	// CacheDir holds downloaded subscription feeds.
	CacheDir string
}

type App struct {
	cfg      *config.Config
	loc      *time.Location
	closer   io.Closer
	registry *calendar.Registry
	calendar *calendar.Service
	tasks    *task.Service
	sync     *tasksync.Synchronizer
	fetcher  *ics.Fetcher

	mu   sync.RWMutex
	subs []config.SubscriptionConfig
}

// Open opens the configured database and builds an App on it.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := repository.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	store := repository.NewStore(db)
	a, err := New(ctx, cfg, store, Options{
		CacheDir: filepath.Join(filepath.Dir(cfg.Database), "ics-cache"),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.closer = store
	return a, nil
}

// New builds an App on store and seeds the configured regions, the fixed
// sources and one source per subscription target.
func New(ctx context.Context, cfg *config.Config, store Store, opts Options) (*App, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	loc := cfg.Location()

	registry := calendar.NewRegistry(store, opts.Now)
	if err := registry.Bootstrap(ctx, seedRegions(cfg), fixedSources(cfg)); err != nil {
		return nil, err
	}

	cal := calendar.NewService(store, registry, calendar.Options{
		Location:       loc,
		MaxOccurrences: cfg.MaxOccurrences,
		Now:            opts.Now,
	})
	tasks := task.NewService(store, task.Engine{
		Now:       opts.Now,
		Location:  loc,
		WeekStart: cfg.FirstWeekday(),
	})
	blockStart, blockLength := cfg.TaskBlockOffset()
	syncer := tasksync.New(cal, registry, tasks, tasksync.Options{
		SourceName:     cfg.OperationsSource,
		BlockStart:     blockStart,
		BlockLength:    blockLength,
		Location:       loc,
		KeepManualTime: cfg.TaskBlock.KeepManualTime,
	})
	tasks.SetLinker(syncer)

	return &App{
		cfg:      cfg,
		loc:      loc,
		registry: registry,
		calendar: cal,
		tasks:    tasks,
		sync:     syncer,
		fetcher:  ics.NewFetcher(opts.CacheDir, 15*time.Second),
		subs:     slices.Clone(cfg.Subscriptions),
	}, nil
}

func seedRegions(cfg *config.Config) []model.Region {
	regions := make([]model.Region, 0, len(cfg.Regions))
	for _, r := range cfg.Regions {
		regions = append(regions, model.Region{Name: r.Name, Color: r.Color})
	}
	return regions
}

func fixedSources(cfg *config.Config) []calendar.FixedSource {
	fixed := calendar.DefaultFixedSources(cfg.OperationsSource)
	seen := make(map[string]bool, len(fixed))
	for _, f := range fixed {
		seen[f.Name] = true
	}
	for _, r := range cfg.Regions {
		seen[r.Name] = true
	}
	for _, sub := range cfg.Subscriptions {
		if sub.Source == "" || seen[sub.Source] {
			continue
		}
		seen[sub.Source] = true
		fixed = append(fixed, calendar.FixedSource{Name: sub.Source, Color: "#757575", Type: model.SourceTypeExternal})
	}
	return fixed
}

// ApplyConfig takes over the subscriptions of a reloaded config and seeds
// sources for regions and feeds it names for the first time. Settings that
// shape the services, like the timezone, need a restart.
func (a *App) ApplyConfig(ctx context.Context, next *config.Config) error {
	if err := a.registry.Bootstrap(ctx, seedRegions(next), fixedSources(next)); err != nil {
		return err
	}
	a.mu.Lock()
	a.subs = slices.Clone(next.Subscriptions)
	a.mu.Unlock()
	appLog.Info("config applied", "subscriptions", len(next.Subscriptions))
	return nil
}

// Subscriptions returns the feeds currently refreshed.
func (a *App) Subscriptions() []config.SubscriptionConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.subs)
}

// Close releases the database when the App owns it.
func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

func (a *App) Config() *config.Config      { return a.cfg }
func (a *App) Location() *time.Location    { return a.loc }
func (a *App) Calendar() *calendar.Service { return a.calendar }
func (a *App) Tasks() *task.Service        { return a.tasks }

// Schedule registers the periodic jobs on s using the configured refresh
// spec.
func (a *App) Schedule(s *scheduler.Scheduler) error {
	jobs := []scheduler.Job{
		{Name: "subscriptions", Run: func(ctx context.Context) error {
			_, err := a.RefreshSubscriptions(ctx)
			return err
		}},
		{Name: "task-sync", Run: func(ctx context.Context) error {
			_, err := a.Reconcile(ctx)
			return err
		}},
	}
	for _, job := range jobs {
		if _, err := s.Add(a.cfg.RefreshCron, job); err != nil {
			return err
		}
	}
	return nil
}

// Reconcile re-syncs every task with its linked event.
func (a *App) Reconcile(ctx context.Context) (tasksync.Report, error) {
	return a.sync.SyncAll(ctx)
}

// ---- calendar sources and regions ----

func (a *App) Sources(ctx context.Context) ([]model.CalendarSource, error) {
	return a.registry.ListSources(ctx)
}

// ToggleCalendarVisibility shows or hides a source. Its events are kept.
func (a *App) ToggleCalendarVisibility(ctx context.Context, sourceID string, visible bool) (model.CalendarSource, error) {
	return a.registry.SetVisible(ctx, sourceID, visible)
}

func (a *App) Regions(ctx context.Context) ([]model.Region, error) {
	return a.registry.ListRegions(ctx)
}

func (a *App) CreateRegion(ctx context.Context, name, color string) (model.Region, error) {
	return a.registry.CreateRegion(ctx, model.Region{Name: name, Color: color})
}

func (a *App) UpdateRegion(ctx context.Context, id, name, color string) (model.Region, error) {
	return a.registry.UpdateRegion(ctx, id, name, color)
}

// ---- events ----

// EventsForDate returns the visible occurrences touching date's calendar
// day in the configured zone.
func (a *App) EventsForDate(ctx context.Context, date time.Time) ([]model.CalendarEvent, error) {
	return a.calendar.EventsForDay(ctx, date)
}

func (a *App) EventsBetween(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	return a.calendar.EventsOverlapping(ctx, start, end)
}

// AllEvents returns the stored events of visible sources.
func (a *App) AllEvents(ctx context.Context) ([]model.CalendarEvent, error) {
	return a.calendar.AllEvents(ctx)
}

func (a *App) Event(ctx context.Context, id string) (model.CalendarEvent, error) {
	return a.calendar.Event(ctx, id)
}

// CreateEvent stores a new event, placing it in the default source when
// none is given.
func (a *App) CreateEvent(ctx context.Context, draft model.CalendarEvent) (model.CalendarEvent, error) {
	if draft.CalendarSourceID == "" {
		src, err := a.registry.DefaultSource(ctx)
		if err != nil {
			return model.CalendarEvent{}, err
		}
		draft.CalendarSourceID = src.ID
	}
	return a.calendar.CreateEvent(ctx, draft)
}

func (a *App) EditEvent(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	return a.calendar.EditEvent(ctx, ev)
}

func (a *App) EditOccurrence(ctx context.Context, rootID string, originalStart time.Time, edited model.CalendarEvent) (model.CalendarEvent, error) {
	return a.calendar.EditOccurrence(ctx, rootID, originalStart, edited)
}

// DeleteEvent deletes an event once confirmed. Deleting a task's linked
// event clears that task's due date.
func (a *App) DeleteEvent(ctx context.Context, id string, confirmed bool) (model.CalendarEvent, error) {
	if !confirmed {
		return model.CalendarEvent{}, ErrNotConfirmed
	}
	deleted, err := a.calendar.DeleteEvent(ctx, id)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	if err := a.sync.EventDeleted(ctx, deleted); err != nil {
		return deleted, fmt.Errorf("event %s deleted, task not updated: %w", id, err)
	}
	return deleted, nil
}

func (a *App) DeleteOccurrence(ctx context.Context, rootID string, originalStart time.Time, confirmed bool) (model.CalendarEvent, error) {
	if !confirmed {
		return model.CalendarEvent{}, ErrNotConfirmed
	}
	return a.calendar.DeleteOccurrence(ctx, rootID, originalStart)
}

// ExportICS encodes the stored events of the given sources, or of every
// visible source when sourceIDs is empty.
func (a *App) ExportICS(ctx context.Context, sourceIDs []string) (string, error) {
	sources, err := a.registry.ListSources(ctx)
	if err != nil {
		return "", err
	}
	byID := make(map[string]model.CalendarSource, len(sources))
	selected := make(map[string]bool)
	for _, s := range sources {
		byID[s.ID] = s
		if len(sourceIDs) == 0 && s.IsVisible {
			selected[s.ID] = true
		}
	}
	for _, id := range sourceIDs {
		if _, ok := byID[id]; !ok {
			return "", model.NotFound("calendar source", id)
		}
		selected[id] = true
	}

	events, err := a.calendar.StoredEvents(ctx, selected)
	if err != nil {
		return "", err
	}
	return ics.Encode(events, ics.ExportOptions{Name: "lifecal", Location: a.loc, Sources: byID}), nil
}

// ---- tasks ----

// Apply filters and sorts tasks in memory.
func (a *App) Apply(f task.Filter, tasks []model.Task) []model.Task {
	return a.tasks.Engine().Apply(f, tasks)
}

func (a *App) QueryTasks(ctx context.Context, f task.Filter) ([]model.Task, error) {
	return a.tasks.Query(ctx, f)
}

func (a *App) Task(ctx context.Context, id string) (model.Task, error) {
	return a.tasks.Get(ctx, id)
}

func (a *App) CreateTask(ctx context.Context, draft model.Task) (model.Task, error) {
	return a.tasks.Create(ctx, draft)
}

func (a *App) UpdateTask(ctx context.Context, t model.Task) (model.Task, error) {
	return a.tasks.Update(ctx, t)
}

func (a *App) SetTaskStatus(ctx context.Context, id string, status model.TaskStatus) (model.Task, error) {
	return a.tasks.SetStatus(ctx, id, status)
}

func (a *App) SetTaskPriority(ctx context.Context, id string, priority model.Priority) (model.Task, error) {
	return a.tasks.SetPriority(ctx, id, priority)
}

// DeleteTask deletes a task and its linked event once confirmed.
func (a *App) DeleteTask(ctx context.Context, id string, confirmed bool) (model.Task, error) {
	if !confirmed {
		return model.Task{}, ErrNotConfirmed
	}
	return a.tasks.Delete(ctx, id)
}

// LinkedEvent returns the calendar event mirroring a task.
func (a *App) LinkedEvent(ctx context.Context, taskID string) (model.CalendarEvent, error) {
	return a.calendar.EventForTask(ctx, taskID)
}

package calendar

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	appLog "lifecal/internal/log"
	"lifecal/internal/model"
)

// SourceStore is the persistence surface the registry needs.
type SourceStore interface {
	ListRegions(ctx context.Context) ([]model.Region, error)
	FindRegion(ctx context.Context, id string) (model.Region, error)
	SaveRegion(ctx context.Context, r model.Region) error
	ListSources(ctx context.Context) ([]model.CalendarSource, error)
	FindSource(ctx context.Context, id string) (model.CalendarSource, error)
	SaveSource(ctx context.Context, s model.CalendarSource) error
}

// FixedSource describes a non-region source seeded at bootstrap.
type FixedSource struct {
	Name      string
	Color     string
	Type      model.SourceType
	IsDefault bool
}

// Names of the fixed sources every installation starts with.
const (
	PersonalSource   = "Personal"
	WorkSource       = "Work"
	OperationsSource = "Operations"
)

// DefaultFixedSources returns the Personal, Work and Operations sources.
// operationsName overrides the Operations source name when non-empty.
func DefaultFixedSources(operationsName string) []FixedSource {
	if operationsName == "" {
		operationsName = OperationsSource
	}
	return []FixedSource{
		{Name: PersonalSource, Color: "#546e7a", Type: model.SourceTypePersonal, IsDefault: true},
		{Name: WorkSource, Color: "#00838f", Type: model.SourceTypeWork},
		{Name: operationsName, Color: "#c62828", Type: model.SourceTypeOperations},
	}
}

// Registry tracks calendar sources and their visibility. Visibility
// changes take effect for every subsequent query; events are never touched.
//
// The source list is cached and rebuilt after any write made through the
// registry.
type Registry struct {
	store SourceStore
	now   func() time.Time

	mu      sync.RWMutex
	sources []model.CalendarSource
	loaded  bool
}

func NewRegistry(store SourceStore, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{store: store, now: now}
}

// Bootstrap seeds regions, one source per region and the fixed sources,
// skipping every name already present. A configured region is seeded
// once: renaming it later does not bring the old name back. Running it
// again is a no-op.
func (r *Registry) Bootstrap(ctx context.Context, regions []model.Region, fixed []FixedSource) error {
	for _, draft := range regions {
		for _, f := range fixed {
			if strings.EqualFold(strings.TrimSpace(draft.Name), f.Name) {
				return fmt.Errorf("bootstrap region: %w", &model.ValidationError{
					Field:  "name",
					Reason: fmt.Sprintf("region %q clashes with the %s calendar", draft.Name, f.Name),
				})
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.invalidateLocked()

	existingRegions, err := r.store.ListRegions(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	byName := make(map[string]int, len(existingRegions))
	seeded := make(map[string]bool, len(existingRegions))
	for i, reg := range existingRegions {
		byName[reg.Name] = i
		if reg.Seed != "" {
			seeded[reg.Seed] = true
		}
	}
	for _, draft := range regions {
		draft.Name = strings.TrimSpace(draft.Name)
		if seeded[draft.Name] {
			continue
		}
		if i, ok := byName[draft.Name]; ok {
			// Stored before seeds were recorded, or created by hand.
			reg := existingRegions[i]
			if reg.Seed == "" {
				reg.Seed = draft.Name
				if err := r.store.SaveRegion(ctx, reg); err != nil {
					return fmt.Errorf("bootstrap region %q: %w", reg.Name, err)
				}
				existingRegions[i] = reg
			}
			seeded[draft.Name] = true
			continue
		}
		if err := draft.Validate(); err != nil {
			return fmt.Errorf("bootstrap region: %w", err)
		}
		draft.Seed = draft.Name
		reg := model.NewRegion(draft, r.now())
		if err := r.store.SaveRegion(ctx, reg); err != nil {
			return fmt.Errorf("bootstrap region %q: %w", reg.Name, err)
		}
		byName[reg.Name] = len(existingRegions)
		seeded[reg.Seed] = true
		existingRegions = append(existingRegions, reg)
		appLog.Info("region seeded", "id", reg.ID, "name", reg.Name)
	}

	sources, err := r.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	sourceNames := make(map[string]bool, len(sources))
	regionSources := make(map[string]bool, len(sources))
	hasDefault := false
	for _, s := range sources {
		sourceNames[s.Name] = true
		if s.RegionID != nil {
			regionSources[*s.RegionID] = true
		}
		hasDefault = hasDefault || s.IsDefault
	}

	seed := func(draft model.CalendarSource) error {
		if sourceNames[draft.Name] {
			return nil
		}
		if draft.IsDefault && hasDefault {
			draft.IsDefault = false
		}
		src := model.NewCalendarSource(draft, r.now())
		if err := r.store.SaveSource(ctx, src); err != nil {
			return fmt.Errorf("bootstrap source %q: %w", src.Name, err)
		}
		sourceNames[src.Name] = true
		hasDefault = hasDefault || src.IsDefault
		appLog.Info("calendar source seeded", "id", src.ID, "name", src.Name, "type", src.Type)
		return nil
	}

	for _, reg := range existingRegions {
		if regionSources[reg.ID] {
			continue
		}
		if err := seed(model.CalendarSource{
			Name:      reg.Name,
			Color:     reg.Color,
			Type:      model.SourceTypeRegion,
			RegionID:  model.Ptr(reg.ID),
			IsVisible: true,
		}); err != nil {
			return err
		}
	}
	for _, f := range fixed {
		if err := seed(model.CalendarSource{
			Name:      f.Name,
			Color:     f.Color,
			Type:      f.Type,
			IsVisible: true,
			IsDefault: f.IsDefault,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ListSources returns sources with the default first, then by name.
func (r *Registry) ListSources(ctx context.Context) ([]model.CalendarSource, error) {
	sources, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(sources), nil
}

// Source returns the source with the given id.
func (r *Registry) Source(ctx context.Context, id string) (model.CalendarSource, error) {
	sources, err := r.load(ctx)
	if err != nil {
		return model.CalendarSource{}, err
	}
	for _, s := range sources {
		if s.ID == id {
			return s, nil
		}
	}
	return model.CalendarSource{}, model.NotFound("calendar source", id)
}

// SourceByName returns the source with the given name.
func (r *Registry) SourceByName(ctx context.Context, name string) (model.CalendarSource, error) {
	sources, err := r.load(ctx)
	if err != nil {
		return model.CalendarSource{}, err
	}
	for _, s := range sources {
		if s.Name == name {
			return s, nil
		}
	}
	return model.CalendarSource{}, model.NotFound("calendar source", name)
}

// DefaultSource returns the first source flagged as default.
func (r *Registry) DefaultSource(ctx context.Context) (model.CalendarSource, error) {
	sources, err := r.load(ctx)
	if err != nil {
		return model.CalendarSource{}, err
	}
	for _, s := range sources {
		if s.IsDefault {
			return s, nil
		}
	}
	return model.CalendarSource{}, model.NotFound("calendar source", "default")
}

// IsVisible reports whether the source exists and is visible.
func (r *Registry) IsVisible(ctx context.Context, id string) bool {
	s, err := r.Source(ctx, id)
	return err == nil && s.IsVisible
}

// VisibleIDs returns the set of visible source ids.
func (r *Registry) VisibleIDs(ctx context.Context) (map[string]bool, error) {
	sources, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(sources))
	for _, s := range sources {
		if s.IsVisible {
			out[s.ID] = true
		}
	}
	return out, nil
}

// SetVisible toggles a source's visibility.
func (r *Registry) SetVisible(ctx context.Context, id string, visible bool) (model.CalendarSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, err := r.store.FindSource(ctx, id)
	if err != nil {
		return model.CalendarSource{}, err
	}
	if src.IsVisible == visible {
		return src, nil
	}
	src.IsVisible = visible
	src = src.Touch(r.now())
	if err := r.store.SaveSource(ctx, src); err != nil {
		return model.CalendarSource{}, err
	}
	r.invalidateLocked()
	appLog.Info("calendar visibility changed", "source", id, "visible", visible)
	return src, nil
}

// SaveSource creates or replaces a source, e.g. for subscriptions.
func (r *Registry) SaveSource(ctx context.Context, src model.CalendarSource) (model.CalendarSource, error) {
	if err := src.Validate(); err != nil {
		return model.CalendarSource{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if src.ID == "" {
		src = model.NewCalendarSource(src, r.now())
	} else {
		existing, err := r.store.FindSource(ctx, src.ID)
		if err != nil {
			return model.CalendarSource{}, err
		}
		src.CreatedAt = existing.CreatedAt
		src = src.Touch(r.now())
	}
	if err := r.store.SaveSource(ctx, src); err != nil {
		return model.CalendarSource{}, err
	}
	r.invalidateLocked()
	return src, nil
}

// ListRegions returns regions in creation order.
func (r *Registry) ListRegions(ctx context.Context) ([]model.Region, error) {
	return r.store.ListRegions(ctx)
}

// CreateRegion stores a new region and gives it a calendar source.
func (r *Registry) CreateRegion(ctx context.Context, draft model.Region) (model.Region, error) {
	draft.ID = ""
	draft.Seed = ""
	draft.Name = strings.TrimSpace(draft.Name)
	if err := draft.Validate(); err != nil {
		return model.Region{}, err
	}
	if err := r.ensureRegionNameFree(ctx, "", draft.Name); err != nil {
		return model.Region{}, err
	}

	reg := model.NewRegion(draft, r.now())
	if err := r.store.SaveRegion(ctx, reg); err != nil {
		return model.Region{}, err
	}
	appLog.Info("region created", "id", reg.ID, "name", reg.Name)

	if err := r.Bootstrap(ctx, nil, nil); err != nil {
		return reg, err
	}
	return reg, nil
}

// UpdateRegion renames or recolors a region. Its source follows along.
func (r *Registry) UpdateRegion(ctx context.Context, id, name, color string) (model.Region, error) {
	reg, err := r.store.FindRegion(ctx, id)
	if err != nil {
		return model.Region{}, err
	}
	oldName := reg.Name
	if name = strings.TrimSpace(name); name != "" {
		reg.Name = name
	}
	if color != "" {
		reg.Color = color
	}
	if err := reg.Validate(); err != nil {
		return model.Region{}, err
	}
	if reg.Name != oldName {
		if err := r.ensureRegionNameFree(ctx, reg.ID, reg.Name); err != nil {
			return model.Region{}, err
		}
	}

	reg = reg.Touch(r.now())
	if err := r.store.SaveRegion(ctx, reg); err != nil {
		return model.Region{}, err
	}

	sources, err := r.load(ctx)
	if err != nil {
		return reg, err
	}
	for _, s := range sources {
		if model.Deref(s.RegionID) != reg.ID {
			continue
		}
		s.Name = reg.Name
		s.Color = reg.Color
		if _, err := r.SaveSource(ctx, s); err != nil {
			return reg, fmt.Errorf("update region source: %w", err)
		}
	}
	appLog.Info("region updated", "id", reg.ID, "name", reg.Name, "color", reg.Color)
	return reg, nil
}

func (r *Registry) ensureRegionNameFree(ctx context.Context, selfID, name string) error {
	regions, err := r.store.ListRegions(ctx)
	if err != nil {
		return err
	}
	for _, reg := range regions {
		if reg.ID != selfID && strings.EqualFold(reg.Name, name) {
			return &model.ValidationError{Field: "name", Reason: fmt.Sprintf("region %q already exists", name)}
		}
	}
	sources, err := r.load(ctx)
	if err != nil {
		return err
	}
	for _, s := range sources {
		if strings.EqualFold(s.Name, name) && model.Deref(s.RegionID) != selfID {
			return &model.ValidationError{Field: "name", Reason: fmt.Sprintf("calendar %q already exists", name)}
		}
	}
	return nil
}

func (r *Registry) load(ctx context.Context) ([]model.CalendarSource, error) {
	r.mu.RLock()
	if r.loaded {
		out := r.sources
		r.mu.RUnlock()
		return out, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.sources, nil
	}
	sources, err := r.store.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(sources, func(a, b model.CalendarSource) int {
		if a.IsDefault != b.IsDefault {
			if a.IsDefault {
				return -1
			}
			return 1
		}
		return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(a.ID, b.ID))
	})
	r.sources = sources
	r.loaded = true
	return sources, nil
}

func (r *Registry) invalidateLocked() {
	r.sources = nil
	r.loaded = false
}

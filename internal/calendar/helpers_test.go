package calendar

import (
	"context"
	"testing"
	"time"

	"lifecal/internal/model"
	"lifecal/internal/repository"
)

type fixture struct {
	store    *repository.Memory
	registry *Registry
	svc      *Service
	work     model.CalendarSource
	personal model.CalendarSource
	clock    *fakeClock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)}
	store := repository.NewMemory()
	registry := NewRegistry(store, clock.Now)
	if err := registry.Bootstrap(ctx, nil, DefaultFixedSources("")); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	svc := NewService(store, registry, Options{Location: time.UTC, Now: clock.Now})

	work, err := registry.SourceByName(ctx, WorkSource)
	if err != nil {
		t.Fatal(err)
	}
	personal, err := registry.SourceByName(ctx, PersonalSource)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{store: store, registry: registry, svc: svc, work: work, personal: personal, clock: clock}
}

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func (f *fixture) create(t *testing.T, ev model.CalendarEvent) model.CalendarEvent {
	t.Helper()
	if ev.CalendarSourceID == "" {
		ev.CalendarSourceID = f.work.ID
	}
	out, err := f.svc.CreateEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("create %q: %v", ev.Title, err)
	}
	return out
}

func titles(events []model.CalendarEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Title+"@"+e.StartDateTime.Format("01-02T15:04"))
	}
	return out
}

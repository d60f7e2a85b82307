package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := Load(path); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	w := NewWatcher(path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	next := DefaultConfig()
	next.Subscriptions = []SubscriptionConfig{{ID: "school", URL: "https://example.com/s.ics", Source: "School"}}

	// Notification readiness varies by platform, so keep saving until an
	// event arrives.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	if err := Save(path, next); err != nil {
		t.Fatal(err)
	}

	for {
		select {
		case cfg := <-w.Reloads():
			if len(cfg.Subscriptions) != 1 || cfg.Subscriptions[0].Source != "School" {
				t.Fatalf("reloaded config = %+v", cfg.Subscriptions)
			}
			return
		case <-tick.C:
			_ = Save(path, next)
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestWatcherStopsWithContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	w := NewWatcher(path)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case _, ok := <-w.Reloads():
		if ok {
			// A stray event may still drain; the channel must close next.
			<-w.Reloads()
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reload channel not closed after cancel")
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lifecal/internal/app"
	"lifecal/internal/config"
	appLog "lifecal/internal/log"
	"lifecal/internal/scheduler"
	"lifecal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	export     string
}

func main() {
	appLog.Info("lifecal starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"database", conf.Database,
		"regions", len(conf.Regions),
		"subscriptions", len(conf.Subscriptions),
		"once", flags.once,
		"export", flags.export,
	)

	if err := scheduler.ValidateSpec(conf.RefreshCron); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	core, err := app.Open(ctx, conf)
	if err != nil {
		appLog.Error("failed to open calendar", err, "database", conf.Database)
		os.Exit(1)
	}
	defer core.Close()

	switch {
	case flags.export != "":
		if err := exportTo(ctx, core, flags.export); err != nil {
			appLog.Error("export failed", err, "path", flags.export)
			os.Exit(1)
		}
		return
	case flags.once:
		if err := runOnce(ctx, core); err != nil {
			os.Exit(1)
		}
		return
	}

	watchConfig(ctx, core, flags.configPath)

	if err := serve(ctx, core); err != nil {
		appLog.Error("server failed", err)
		os.Exit(1)
	}
	appLog.Info("lifecal exiting")
}

// runOnce refreshes every subscription and reconciles tasks with their
// events, then returns.
func runOnce(ctx context.Context, core *app.App) error {
	_, refreshErr := core.RefreshSubscriptions(ctx)
	report, syncErr := core.Reconcile(ctx)
	if syncErr != nil {
		appLog.Error("task sync failed", syncErr)
	} else {
		appLog.Info("task sync finished", "report", report)
	}
	return errors.Join(refreshErr, syncErr)
}

func exportTo(ctx context.Context, core *app.App, path string) error {
	body, err := core.ExportICS(ctx, nil)
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.WriteString(body)
		return err
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return err
	}
	appLog.Info("calendar exported", "path", path, "bytes", len(body))
	return nil
}

func serve(ctx context.Context, core *app.App) error {
	sched := scheduler.New(core.Location())
	if err := core.Schedule(sched); err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	// Import feeds right away instead of waiting for the first tick.
	go func() {
		_ = runOnce(ctx, core)
	}()

	srv := &http.Server{
		Addr:              core.Config().Listen,
		Handler:           web.NewServer(core).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// watchConfig applies subscription and log level changes without a
// restart.
func watchConfig(ctx context.Context, core *app.App, path string) {
	w := config.NewWatcher(path)
	if err := w.Start(ctx); err != nil {
		appLog.Warn("config hot reload disabled", "path", path, "error", err.Error())
		return
	}
	go func() {
		for next := range w.Reloads() {
			appLog.SetLevel(appLog.ParseLevel(next.LogLevel))
			if err := core.ApplyConfig(ctx, next); err != nil {
				appLog.Error("apply reloaded config failed", err, "path", path)
			}
		}
	}()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/lifecal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh subscriptions and sync tasks once, then exit")
	flag.StringVar(&cfg.export, "export", "", "Write visible calendars as iCalendar to this path (- for stdout) and exit")

	flag.Parse()

	return cfg
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"tribecal/internal/config"
	"tribecal/internal/feed"
	"tribecal/internal/icsimport"
	appLog "tribecal/internal/log"
	"tribecal/internal/moon"
	"tribecal/internal/pulse"
	"tribecal/internal/query"
	"tribecal/internal/store"
	"tribecal/internal/visibility"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	dbPath     string
	once       bool
}

func main() {
	appLog.Info("tribecal starting", "version", "0.1.0-dev")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.dbPath != "" {
		conf.DBPath = flags.dbPath
	}
	appLog.SetLevelString(conf.LogLevel)

	appLog.Info("effective config",
		"timezone", conf.Timezone,
		"db_path", conf.DBPath,
		"sweep_cron", conf.SweepCron,
		"pulse_cron", conf.PulseCron,
		"grace_minutes", conf.SessionGraceMinutes,
		"horizon_days", conf.HorizonDays,
		"moon_overlay", conf.MoonOverlay,
		"ics_count", len(conf.ICS),
		"once", flags.once,
	)

	db, err := store.NewDB(conf.DBPath)
	if err != nil {
		appLog.Error("failed to open database", err, "db_path", conf.DBPath)
		os.Exit(1)
	}
	defer db.Close()

	changes := feed.New()
	defer changes.Close()

	st := store.New(db, changes)

	var moons *moon.Cache
	if conf.MoonOverlay {
		moons = moon.NewCache(conf.Location())
	}

	// No relationship backend is wired into the standalone daemon; the
	// empty oracle makes every query behave like the unauthenticated case.
	svc := query.New(st, st, visibility.NewResolver(visibility.EmptyOracle{}), moons)

	sweeper := pulse.NewSweeper(st, conf.SessionGrace())
	fetcher := icsimport.NewFetcher()
	importer := icsimport.NewImporter(fetcher, st)

	sources := make([]icsimport.Source, 0, len(conf.ICS))
	for _, ics := range conf.ICS {
		sources = append(sources, icsimport.Source{ID: ics.ID, URL: ics.URL, OwnerID: ics.OwnerID})
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	// Keep cached expansions honest against store writes. The feed cuts off
	// a lagging subscriber by closing its channel and Watch flushes the
	// cache in response, so resubscribing is always safe.
	go func() {
		for ctx.Err() == nil {
			svc.Watch(ctx, changes.Subscribe())
			time.Sleep(time.Second)
		}
	}()

	sweepJob := func() {
		jobCtx, jobCancel := context.WithTimeout(ctx, time.Minute)
		defer jobCancel()

		if _, err := sweeper.Sweep(jobCtx); err != nil {
			appLog.Error("sweep failed", err)
		}
		if len(sources) > 0 {
			importer.Run(jobCtx, sources)
		}
	}

	pulseJob := func() {
		jobCtx, jobCancel := context.WithTimeout(ctx, 30*time.Second)
		defer jobCancel()

		stats, err := pulse.Snapshot(jobCtx, st, time.Now())
		if err != nil {
			appLog.Error("pulse snapshot failed", err)
			return
		}
		appLog.Info("pulse",
			"coverage_percent", stats.CoveragePercent,
			"concurrent_now", stats.ConcurrentNow,
			"cached_expansions", svc.CacheSize(),
		)
	}

	if flags.once {
		sweepJob()
		pulseJob()
		appLog.Info("tribecal exiting (once)")
		return
	}

	sched := cron.New(cron.WithSeconds())
	if _, err := sched.AddFunc(conf.SweepCron, sweepJob); err != nil {
		appLog.Error("invalid sweep cron spec", err, "spec", conf.SweepCron)
		os.Exit(1)
	}
	if _, err := sched.AddFunc(conf.PulseCron, pulseJob); err != nil {
		appLog.Error("invalid pulse cron spec", err, "spec", conf.PulseCron)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	<-ctx.Done()

	time.Sleep(100 * time.Millisecond)
	appLog.Info("tribecal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/tribecal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.dbPath, "db", "", "SQLite database path (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sweep+import+pulse cycle and exit")

	flag.Parse()

	return cfg
}

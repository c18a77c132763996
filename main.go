package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"merlodigital/site/config"
	"merlodigital/site/database"
	"merlodigital/site/enrich"
	"merlodigital/site/handlers"
	"merlodigital/site/logging"
	"merlodigital/site/mailer"
	"merlodigital/site/middleware"
	"merlodigital/site/portfolio"
	"merlodigital/site/store"
	"merlodigital/site/tracker"
	"merlodigital/site/utils"
	"merlodigital/site/web"
)

// eventStore is implemented by both durable event stores.
type eventStore interface {
	tracker.EventStore
	handlers.StatsStore
	EnsureSchema(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if cfg.Server.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	loc := cfg.Location()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// --- Databases ---
	var pg *database.DBClient
	if cfg.Store.Driver == "postgres" || cfg.Portfolio.Source == "database" {
		pg, err = database.NewPostgresDB(startCtx, cfg.Store.DatabaseURL)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to initialize PostgreSQL database")
		}
		defer pg.Close()
	}

	var events eventStore
	switch cfg.Store.Driver {
	case "postgres":
		events = store.NewPostgresEventStore(pg.DB, cfg.Store.SiteLabel)
	case "clickhouse":
		ch, err := database.NewClickHouseDB(startCtx, cfg.Store.ClickHouse)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to initialize ClickHouse database")
		}
		defer ch.Close()
		events = store.NewClickHouseEventStore(ch.Conn, cfg.Store.SiteLabel)
	default:
		logging.Warn().Msg("no event store configured, clicks are only emailed")
	}
	if events != nil {
		if err := events.EnsureSchema(startCtx); err != nil {
			logging.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to create tracking schema")
		}
	}

	// --- Portfolio ---
	var source portfolio.Source
	switch cfg.Portfolio.Source {
	case "sheet":
		source = &portfolio.SheetSource{URL: cfg.Portfolio.SheetURL, Client: &http.Client{Timeout: cfg.Portfolio.Timeout}}
	case "database":
		source = &portfolio.DatabaseSource{Tables: store.NewPortfolioStore(pg.DB), Keyword: cfg.Portfolio.TableKeyword}
	}
	projects := portfolio.NewCache(source, cfg.Portfolio.TTL, cfg.Portfolio.Timeout, nil)

	// --- Tracker ---
	mail := mailer.NewResendMailer(cfg.Mail.Endpoint, cfg.Mail.APIKey, cfg.Mail.Timeout)
	if cfg.Mail.APIKey == "" || len(cfg.Mail.To) == 0 {
		logging.Warn().Msg("mail is not configured, reports and contact requests will not be sent")
	}

	pipeCfg := tracker.PipelineConfig{
		Enricher: enrich.NewIPAPIClient(enrich.Options{
			BaseURL:       cfg.Enrich.BaseURL,
			Timeout:       cfg.Enrich.Timeout,
			RatePerMinute: cfg.Enrich.RatePerMinute,
		}),
		Mailer:              mail,
		From:                cfg.Mail.ReportFrom,
		To:                  cfg.Mail.To,
		EnrichConcurrency:   cfg.Tracker.EnrichConcurrency,
		Location:            loc,
		RequeueOnFailure:    cfg.Tracker.RequeueOnFailure,
		MaxDeliveryAttempts: cfg.Tracker.MaxDeliveryAttempts,
		PersistTimeout:      cfg.Tracker.PersistTimeout,
	}
	if events != nil {
		pipeCfg.Store = events
	}

	secret := cfg.Tracker.IdentitySecret
	if secret == "" {
		secret, err = utils.GenerateSecret(32)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to generate identity secret")
		}
		logging.Warn().Msg("tracker.identity_secret not set, visitor cookies will not survive a restart")
	}

	ignored := cfg.Tracker.IgnoredIPs
	var watcher *config.IgnoreListWatcher
	if cfg.Tracker.IgnoreListPath != "" {
		watcher = config.NewIgnoreListWatcher(cfg.Tracker.IgnoreListPath)
		fromFile, err := watcher.Load()
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to load ignore list")
		}
		ignored = append(append([]string(nil), ignored...), fromFile...)
	}

	trk := tracker.New(
		tracker.NewClassifier([]byte(secret), cfg.Tracker.CookieMaxAge, ignored),
		tracker.NewPipeline(pipeCfg),
		projects,
		tracker.Options{
			Threshold:  cfg.Tracker.FlushThreshold,
			MaxAge:     cfg.Tracker.MaxBufferAge,
			Workers:    cfg.Tracker.Workers,
			QueueDepth: cfg.Tracker.QueueDepth,
			HostURL:    cfg.Server.HostURL,
			Location:   loc,
		},
	)

	if watcher != nil {
		static := cfg.Tracker.IgnoredIPs
		watcher.OnChange(func(fromFile []string) {
			trk.SetIgnored(append(append([]string(nil), static...), fromFile...))
		})
		stop, err := watcher.Watch()
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to watch ignore list")
		}
		defer stop()
	}

	var sched *tracker.Scheduler
	if cfg.Tracker.Schedule != "" {
		sched, err = tracker.NewScheduler(trk, cfg.Tracker.Schedule, loc)
		if err != nil {
			logging.Fatal().Err(err).Msg("invalid tracker schedule")
		}
		sched.Start()
	}

	// --- HTTP ---
	tmpl, err := web.Templates()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to parse templates")
	}

	trackHandlers := handlers.NewTrackHandlers(trk, handlers.CookieOptions{
		Name:   cfg.Tracker.CookieName,
		MaxAge: cfg.Tracker.CookieMaxAge,
		Secure: cfg.Tracker.CookieSecure,
	})
	pageHandlers := &handlers.PageHandlers{
		HostURL:     cfg.Server.HostURL,
		Portfolio:   projects,
		Mailer:      mail,
		ContactFrom: cfg.Mail.ContactFrom,
		ContactTo:   cfg.Mail.To,
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(), middleware.Metrics())
	r.SetHTMLTemplate(tmpl)
	r.StaticFS("/static", web.Static())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pageHandlers.Register(r)

	api := r.Group("/api")
	{
		api.POST("/track-click", middleware.CORSMiddleware(cfg.Server.AllowedOrigins), trackHandlers.TrackClick)
		api.OPTIONS("/track-click", middleware.CORSMiddleware(cfg.Server.AllowedOrigins))

		if cfg.Tracker.MaintenanceKeyHash == "" {
			logging.Warn().Msg("tracker.maintenance_key_hash not set, /api/cron-job is open and stats endpoints are disabled")
		}
		api.GET("/cron-job", middleware.MaintenanceKeyRequired(cfg.Tracker.MaintenanceKeyHash), trackHandlers.CronJob)

		if events != nil {
			handlers.NewStatsHandlers(events).Register(api, cfg.Tracker.MaintenanceKeyHash)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().Str("port", cfg.Server.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info().Int("pending", trk.Pending()).Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("server forced to shutdown")
	}
	if sched != nil {
		sched.Stop(ctx)
	}
	if err := trk.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("tracker did not finish delivering before the deadline")
	}

	logging.Info().Msg("server exiting")
}

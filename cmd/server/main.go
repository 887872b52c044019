package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/api/http"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/app"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/daemon"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/httpx"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/metrics"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/ratelimit"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/scrape/fullsweep"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/scrape/snatchlist"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/scrape/tip"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/storage"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/supervisor"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/telemetry"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker"
	"github.com/AllSeeingEyeTolledEweSew/btn-cache/internal/tracker/site"
)

func main() {
	cfg := app.LoadConfig()

	fs := flag.NewFlagSet("btn-cache", flag.ExitOnError)
	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "directory holding metadata.db, user.db, info.db and auth.json")
	fs.BoolVar(&cfg.EnableFullSweep, "enable-fullsweep", cfg.EnableFullSweep, "run the unfiltered full-catalog scraper")
	fs.BoolVar(&cfg.EnableTip, "enable-tip", cfg.EnableTip, "run the feed-triggered tip scraper")
	fs.BoolVar(&cfg.EnableSnatchlist, "enable-snatchlist", cfg.EnableSnatchlist, "run the snatchlist scraper")
	fs.IntVar(&cfg.APIMaxCalls, "max-calls", cfg.APIMaxCalls, "tracker API calls permitted per period")
	fs.DurationVar(&cfg.APIPeriod, "period", cfg.APIPeriod, "tracker API quota window")
	fs.Float64Var(&cfg.SiteRate, "site-rate", cfg.SiteRate, "site HTTP requests/second")
	fs.IntVar(&cfg.SiteBurst, "site-burst", cfg.SiteBurst, "site HTTP burst capacity")
	fs.IntVar(&cfg.WatchPID, "watch-pid", cfg.WatchPID, "exit once this pid is no longer running (0 disables)")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "admin HTTP listen address")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "btn-cache")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("cacheDir", cfg.CacheDir),
		slog.Bool("fullsweep", cfg.EnableFullSweep),
		slog.Bool("tip", cfg.EnableTip),
		slog.Bool("snatchlist", cfg.EnableSnatchlist),
		slog.Int("apiMaxCalls", cfg.APIMaxCalls),
		slog.Duration("apiPeriod", cfg.APIPeriod),
		slog.String("httpAddr", cfg.HTTPAddr),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WatchPID > 0 {
		go watchPID(rootCtx, cfg.WatchPID, stop, logger)
	}

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		logger.Error("create cache dir failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	store := storage.New(cfg.CacheDir)

	metadataDB, err := store.OpenMetadataDB()
	if err != nil {
		logger.Error("open metadata db failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer metadataDB.Close()

	userDB, err := store.OpenUserDB()
	if err != nil {
		logger.Error("open user db failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer userDB.Close()

	auth, err := store.LoadUserAuth()
	if err != nil {
		logger.Error("load auth file failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = auth.APIKey
	}
	if apiKey == "" {
		logger.Error("no tracker API key configured (BTN_API_KEY or auth.json api_key)")
		os.Exit(1)
	}

	apiLimiter := ratelimit.NewWindowLimiter(cfg.APIMaxCalls, cfg.APIPeriod)
	apiLimiter.Name = "api"
	apiTransport := otelhttp.NewTransport(http.DefaultTransport)
	apiClient := tracker.NewRateLimitedClient(apiKey, apiLimiter, &http.Client{Timeout: cfg.HTTPTimeout, Transport: apiTransport})

	siteLimiter := ratelimit.NewLeakyBucketLimiter(cfg.SiteRate, cfg.SiteBurst)
	siteLimiter.Name = "site"
	siteTransport := httpx.NewGatedTransport(otelhttp.NewTransport(http.DefaultTransport)).Gate("https://broadcasthe.net", siteLimiter)
	siteClient := site.NewClient(auth, &http.Client{Timeout: cfg.HTTPTimeout, Transport: siteTransport})

	var daemons []*daemon.Daemon

	if cfg.EnableFullSweep {
		scraper := fullsweep.New(apiClient, metadataDB, logger)
		daemons = append(daemons, scraper.NewDaemon(logger))
	}
	if cfg.EnableTip {
		scraper := tip.New(apiClient, siteClient, metadataDB, logger)
		daemons = append(daemons, scraper.NewDaemon(logger, siteLimiter))
	}
	if cfg.EnableSnatchlist {
		scraper := snatchlist.New(apiClient, userDB, cfg.SnatchlistPeriod, cfg.SnatchlistBlock, logger)
		daemons = append(daemons, scraper.NewDaemon(logger))
	}

	if len(daemons) == 0 {
		logger.Warn("no scrapers enabled, running admin server only")
	}

	supervisorCtx, supervisorCancel := context.WithCancel(rootCtx)
	defer supervisorCancel()

	supervisorErrCh := make(chan error, 1)
	go func() {
		supervisorErrCh <- supervisor.Run(supervisorCtx, daemons...)
	}()

	healthy := true
	health := func() error {
		if !healthy {
			return fmt.Errorf("scraper supervisor has stopped")
		}
		return nil
	}

	handler := apihttp.NewServer(logger, health)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpSrv.ListenAndServe()
	}()
	logger.Info("admin server started", slog.String("addr", cfg.HTTPAddr))

	var supervisorErr error
	supervisorDone := false

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case supervisorErr = <-supervisorErrCh:
		supervisorDone = true
		healthy = false
		if supervisorErr != nil {
			logger.Error("scraper supervisor failed", slog.String("error", supervisorErr.Error()))
		} else {
			logger.Info("scraper supervisor stopped cleanly")
		}
	case err := <-httpErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("admin http server failed", slog.String("error", err.Error()))
		}
	}

	supervisorCancel()
	if !supervisorDone {
		select {
		case supervisorErr = <-supervisorErrCh:
		case <-time.After(10 * time.Second):
			logger.Warn("timed out waiting for scrapers to stop")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
	if supervisorErr != nil {
		os.Exit(1)
	}
}

// watchPID polls for the existence of an external process (typically
// the parent that spawned this one) and requests shutdown once it's
// gone, so this process never outlives whatever is supposed to own it.
func watchPID(ctx context.Context, pid int, stop context.CancelFunc, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			proc, err := os.FindProcess(pid)
			if err != nil {
				logger.Info("watched pid gone, shutting down", slog.Int("pid", pid))
				stop()
				return
			}
			if err := proc.Signal(syscall.Signal(0)); err != nil {
				logger.Info("watched pid gone, shutting down", slog.Int("pid", pid))
				stop()
				return
			}
		}
	}
}

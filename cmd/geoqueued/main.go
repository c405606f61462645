package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/foodshare/geoqueue/internal/config"
	"github.com/foodshare/geoqueue/internal/geocode"
	httpapi "github.com/foodshare/geoqueue/internal/http"
	"github.com/foodshare/geoqueue/internal/listing"
	"github.com/foodshare/geoqueue/internal/scheduler"
	"github.com/foodshare/geoqueue/internal/storage"
	"github.com/foodshare/geoqueue/internal/worker"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.AppEnv)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres pool", zap.Error(err))
	}
	defer db.Close()

	store := storage.New(db)
	geocoder := buildGeocoder(cfg, log)
	hook := listing.NewHook(store, log, cfg.MaxRetries)

	w := worker.New(store, geocoder, log, worker.Options{
		MinInterval: cfg.GeocodeMinInterval,
		CallTimeout: cfg.GeocodeTimeout,
	})
	sched := scheduler.New(w, store, log, scheduler.Options{
		Interval:    cfg.TickInterval,
		BatchSize:   cfg.BatchSize,
		StuckAfter:  cfg.StuckAfter,
		CleanupDays: cfg.CleanupAfterDays,
	})

	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID, middleware.Recoverer, httpapi.RequestLogger(log))
	httpapi.RegisterRoutes(rtr, &httpapi.App{Ops: sched, Hook: hook, Log: log})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           rtr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("service exited", zap.Error(err))
	}
	log.Info("service stopped")
}

func newLogger(appEnv string) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if appEnv == "development" {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return log
}

func buildGeocoder(cfg config.Config, log *zap.Logger) geocode.Client {
	var client geocode.Client
	switch cfg.Geocoder {
	case "static":
		client = geocode.StaticClient{}
	default:
		client = geocode.NewNominatim(cfg.GeocoderBaseURL, cfg.GeocoderEmail, cfg.GeocodeTimeout, log)
	}
	if cfg.RedisAddr != "" {
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		client = geocode.NewCached(client, geocode.RedisCache{Client: rdb}, cfg.GeocodeCacheTTL, log)
	}
	return client
}

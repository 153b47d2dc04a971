package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kiosque/register/internal/cache"
	"kiosque/register/internal/catalog"
	"kiosque/register/internal/config"
	"kiosque/register/internal/connectivity"
	"kiosque/register/internal/httpapi"
	"kiosque/register/internal/ident"
	"kiosque/register/internal/queue"
	"kiosque/register/internal/remote"
	"kiosque/register/internal/remote/memory"
	pgremote "kiosque/register/internal/remote/postgres"
	"kiosque/register/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	cfg := config.Load()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("data dir unavailable")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)

	var remoteStore remote.Store
	if cfg.DatabaseURL != "" {
		pg, err := pgremote.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		remoteStore = pg
		closers = append(closers, pg.Close)
		log.Info().Msg("remote store: postgres")
	} else {
		remoteStore = memory.NewSeeded()
		log.Info().Msg("remote store: in-memory (dev mode)")
	}

	promoCache := cache.PromotionCache(cache.NoopPromotionCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisPromotionCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop promotion cache")
		} else {
			promoCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Msg("promotion cache: redis")
		}
	}

	cat, err := catalog.Open(
		filepath.Join(cfg.DataDir, "catalog.db"),
		remoteStore,
		promoCache,
		time.Duration(cfg.PromoCacheTTLSeconds)*time.Second,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("open catalog")
	}
	closers = append(closers, cat.Close)

	q, err := queue.Open(filepath.Join(cfg.DataDir, "queue.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("open offline queue")
	}
	closers = append(closers, q.Close)

	ids, err := ident.NewGenerator(cfg.RegisterIndex)
	if err != nil {
		log.Fatal().Err(err).Msg("id generator")
	}

	bus := EventBus.New()
	monitor := connectivity.NewMonitor(bus, remoteStore.Ping)

	svc, err := service.New(service.Params{
		Remote:         remoteStore,
		Catalog:        cat,
		Queue:          q,
		Monitor:        monitor,
		Bus:            bus,
		IDs:            ids,
		RegisterID:     cfg.RegisterID,
		Currency:       cfg.Currency,
		MaxSyncRetries: cfg.MaxSyncRetries,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("engine init")
	}

	// First contact: a successful refresh flips the monitor online, which
	// also drains anything left queued from a previous run.
	if err := svc.RefreshCatalog(ctx); err != nil {
		log.Warn().Err(err).Msg("initial catalog refresh failed, starting from local snapshot")
	} else {
		monitor.SetOnline(true)
	}

	sched := cron.New()
	_, err = sched.AddFunc(fmt.Sprintf("@every %ds", cfg.CatalogRefreshSeconds), func() {
		tickCtx, tickCancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer tickCancel()

		monitor.Check(tickCtx)
		if !monitor.IsOnline() {
			return
		}
		if err := svc.RefreshCatalog(tickCtx); err != nil {
			log.Warn().Err(err).Msg("catalog refresh failed")
			monitor.SetOnline(false)
			return
		}
		if pending, err := svc.PendingCount(); err == nil && pending > 0 {
			if _, err := svc.DrainQueue(tickCtx); err != nil {
				log.Warn().Err(err).Msg("queue drain sweep failed")
			}
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("schedule refresh job")
	}
	sched.Start()

	api := httpapi.New(svc)
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Str("register", cfg.RegisterID).Msg("register engine listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	<-sched.Stop().Done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("register stopped")
}

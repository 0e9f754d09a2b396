package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/buyback-auction/internal/auction"
	"github.com/atmx/buyback-auction/internal/joinlink"
	"github.com/atmx/buyback-auction/internal/metrics"
	"github.com/atmx/buyback-auction/internal/model"
	"github.com/atmx/buyback-auction/internal/session"
	"github.com/atmx/buyback-auction/internal/store"
	"github.com/atmx/buyback-auction/internal/tender"
	"github.com/atmx/buyback-auction/internal/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := envOr("PORT", "8080")

	// --- Initial auction config ---
	cfg, err := configFromEnv()
	if err != nil {
		slog.Error("invalid auction config", "err", err)
		os.Exit(1)
	}

	// --- Initialize round archive ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory archive (rounds will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Auction state machine ---
	machine, err := auction.New(cfg)
	if err != nil {
		slog.Error("auction init failed", "err", err)
		os.Exit(1)
	}
	metrics.SetPhase(machine.Phase())

	// --- WebSocket hub ---
	dispatcher := session.NewDispatcher(machine, st)
	hub := session.NewHub(dispatcher)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	// --- Join link ---
	linker, err := joinlink.New(os.Getenv("PUBLIC_URL"), "/participant")
	if err != nil {
		slog.Error("invalid PUBLIC_URL", "err", err)
		os.Exit(1)
	}

	svc := web.NewService(machine, st, linker)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", svc.Health)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Admin and participant command channel. Long-lived, so no timeout.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		r.Handle("/*", http.FileServer(http.Dir(dir)))
		slog.Info("serving static frontend", "dir", dir)
	}

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("buyback-auction listening",
			"port", port,
			"join_url", joinURL(linker, port),
			"shares_per_participant", cfg.SharesPerParticipant,
			"buyback_pool", cfg.BuybackPool,
			"price_band", cfg.PriceMin.String()+"-"+cfg.PriceMax.String(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down buyback-auction...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stopHub()
	dispatcher.Flush()
	fmt.Println("buyback-auction stopped")
}

// configFromEnv builds the initial auction config, falling back to the
// defaults for anything unset.
func configFromEnv() (model.Config, error) {
	cfg := model.DefaultConfig()

	var err error
	if cfg.SharesPerParticipant, err = envInt("SHARES_PER_PARTICIPANT", cfg.SharesPerParticipant); err != nil {
		return cfg, err
	}
	if cfg.BuybackPool, err = envInt("BUYBACK_POOL", cfg.BuybackPool); err != nil {
		return cfg, err
	}
	if cfg.PreAuctionPrice, err = envDecimal("PRE_AUCTION_PRICE", cfg.PreAuctionPrice); err != nil {
		return cfg, err
	}
	if cfg.PriceMin, err = envDecimal("PRICE_MIN", cfg.PriceMin); err != nil {
		return cfg, err
	}
	if cfg.PriceMax, err = envDecimal("PRICE_MAX", cfg.PriceMax); err != nil {
		return cfg, err
	}
	return cfg, tender.CheckConfig(cfg)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// joinURL is the link printed at startup. Without PUBLIC_URL it can only
// guess the host.
func joinURL(l *joinlink.Linker, port string) string {
	if u := l.Static(); u != "" {
		return u
	}
	return "http://localhost:" + port + "/participant"
}

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bethub/bet-engine/internal/betting"
	"github.com/bethub/bet-engine/internal/config"
	"github.com/bethub/bet-engine/internal/credit"
	"github.com/bethub/bet-engine/internal/events"
	"github.com/bethub/bet-engine/internal/metrics"
	"github.com/bethub/bet-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Storage.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Storage.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Storage.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Storage.RedisURL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Storage.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Storage.CacheTTL)
		}
	} else {
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Kafka event publisher (optional) ---
	pub := events.NewPublisher(cfg.Kafka.Brokers, logger)
	if pub != nil {
		cleanup = append(cleanup, func() { pub.Close() })
		slog.Info("Kafka eventing enabled", "brokers", cfg.Kafka.Brokers)
	}

	// --- WebSocket hub ---
	wsHub := betting.NewWSHub()
	go wsHub.Run()

	// --- Services ---
	bettingSvc := betting.NewService(st, wsHub, pub)
	creditSvc := credit.NewService(st, pub)

	// --- Background sweepers ---
	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	defer stopSweeps()
	go bettingSvc.RunExpirySweeper(sweepCtx, cfg.Sweep.ExpiryInterval, cfg.Sweep.ExpiryGrace)
	go creditSvc.RunDefaultSweeper(sweepCtx, cfg.Sweep.DefaultInterval)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"bet-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time odds updates.
		r.Get("/ws", wsHub.HandleWS)

		// Market management.
		r.Get("/markets", bettingSvc.ListMarkets)
		r.Post("/markets", bettingSvc.CreateMarket)
		r.Get("/markets/{marketID}", bettingSvc.GetMarket)
		r.Get("/markets/{marketID}/odds", bettingSvc.GetOdds)
		r.Post("/markets/{marketID}/result", bettingSvc.DeclareResult)
		r.Post("/markets/{marketID}/close", bettingSvc.CloseMarket)

		// Stake placement.
		r.Post("/stakes", bettingSvc.PlaceStake)
		r.Post("/stakes/code", bettingSvc.PlaceStakeByCode)

		// Accounts and loans.
		r.Get("/accounts/{userID}", creditSvc.GetAccount)
		r.Get("/accounts/{userID}/loan", creditSvc.GetLoan)
		r.Get("/accounts/{userID}/transactions", creditSvc.GetTransactions)
		r.Post("/loans", creditSvc.ApplyLoan)
		r.Post("/loans/repay", creditSvc.RepayLoan)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("bet-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopSweeps()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down bet-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("bet-engine stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

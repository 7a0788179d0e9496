package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/finquest/portfolio-engine/internal/config"
	"github.com/finquest/portfolio-engine/internal/game"
	"github.com/finquest/portfolio-engine/internal/metrics"
	"github.com/finquest/portfolio-engine/internal/pricefeed"
	"github.com/finquest/portfolio-engine/internal/store"
	"github.com/finquest/portfolio-engine/internal/trade"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP API, price ticker and WebSocket feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "create the session table and indexes in PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Storage.DatabaseURL == "" {
			return errors.New("migrate: DATABASE_URL is not set")
		}
		pool, err := pgxpool.New(cmd.Context(), cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()

		if err := store.NewPostgresStore(pool).EnsureSchema(cmd.Context()); err != nil {
			return err
		}
		slog.Info("schema up to date")
		return nil
	},
}

// openStore picks the session store from the storage settings. The returned
// cleanup releases every connection that was opened.
func openStore(ctx context.Context, sc config.StorageConfig) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if sc.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (sessions will not survive a restart)")
		return store.NewMemoryStore(), closeAll, nil
	}

	pool, err := pgxpool.New(ctx, sc.DatabaseURL)
	if err != nil {
		return nil, closeAll, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		closeAll()
		return nil, func() {}, err
	}
	slog.Info("connected to PostgreSQL")

	var st store.Store = pg
	if sc.RedisURL != "" {
		opt, err := redis.ParseURL(sc.RedisURL)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(pg, rdb, config.Duration(sc.CacheTTL, 30*time.Second))
		slog.Info("Redis cache enabled")
	}
	return st, closeAll, nil
}

func gameConfig(gc config.GameConfig) game.Config {
	def := game.DefaultConfig()
	return game.Config{
		InitialCash:    config.Decimal(gc.InitialCash, def.InitialCash),
		SaveTimeout:    config.Duration(gc.SaveTimeout, def.SaveTimeout),
		SaveInterval:   config.Duration(gc.SaveInterval, def.SaveInterval),
		SaveBurst:      gc.SaveBurst,
		HistoricalSeed: gc.HistoricalSeed,
		IdleTimeout:    config.Duration(gc.IdleTimeout, def.IdleTimeout),
	}
}

func newRouter(hub *trade.WSHub, svc *trade.Service) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS for the game frontends.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"portfolio-engine","ws_clients":%d}`, hub.Clients())
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", hub.HandleWS)
		svc.Mount(r)
	})
	return r
}

func serve(ctx context.Context, cfg *config.Config) error {
	st, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	market := pricefeed.NewWalk(game.FantasyOpening, config.Decimal(cfg.Market.MaxDelta, decimal.NewFromInt(1)), cfg.Market.Seed)

	games, err := game.NewRegistry(st, market, gameConfig(cfg.Game))
	if err != nil {
		return err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := trade.NewWSHub()
	go hub.Run(hubCtx)

	go games.RunEviction(hubCtx)

	stopTicker := pricefeed.NewTicker(market, config.Duration(cfg.Market.TickInterval, 5*time.Second), hub.PublishQuotes).Start(hubCtx)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      newRouter(hub, trade.NewService(games)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("portfolio-engine listening", "addr", srv.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			stopTicker()
			return fmt.Errorf("server error: %w", err)
		}
	}

	slog.Info("shutting down portfolio-engine...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout, 5*time.Second))
	defer cancel()

	stopTicker()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	// Sessions with unsaved changes get one last write.
	if err := games.Close(shutdownCtx); err != nil {
		slog.Error("final session flush failed", "err", err)
	}
	stopHub()
	slog.Info("portfolio-engine stopped")
	return nil
}

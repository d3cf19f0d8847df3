package main

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/access"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/adapters/accounts"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/adapters/decks"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/adapters/history"
	httpadapter "github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/adapters/http"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/adapters/synthesis"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/app"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/config"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/metrics"
	"github.com/Pedrofreitas001/tiragem-tarot-sub000/internal/ports"
)

// stdRNG delegates to math/rand/v2 (auto-seeded).
type stdRNG struct{}

func (stdRNG) Intn(n int) int { return rand.IntN(n) }

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("TAROT_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Logger.SlogLevel()}))
	slog.SetDefault(logger)

	m := metrics.New()

	guestStore, err := history.OpenLocal(cfg.Database.LocalPath)
	if err != nil {
		logger.Error("failed to open guest store", "error", err)
		os.Exit(1)
	}
	guestStore.SetCap(cfg.History.GuestCap)
	guestStore.SetDedupWindow(cfg.History.DedupWindow)

	// Without a remote DSN every table shares the local SQLite file.
	var userStore ports.UserHistory
	accountDB := guestStore.DB()
	if cfg.Database.RemoteDSN != "" {
		remote, err := history.OpenRemote(cfg.Database.RemoteDSN)
		if err != nil {
			logger.Error("failed to open remote store", "error", err)
			os.Exit(1)
		}
		userStore = remote
		accountDB = remote.DB()
	} else {
		local, err := history.NewRemoteStore(guestStore.DB())
		if err != nil {
			logger.Error("failed to open user store", "error", err)
			os.Exit(1)
		}
		userStore = local
	}

	accountStore, err := accounts.NewStore(accountDB)
	if err != nil {
		logger.Error("failed to open account store", "error", err)
		os.Exit(1)
	}

	gate := access.NewGate(
		accountStore,
		accountStore,
		access.NewTierCache(cfg.Access.CacheSizeMB, cfg.Access.TierCacheTTL),
		cfg.Access.FreePerDay,
		logger,
		m,
	)

	synthClient := synthesis.NewClient(
		&http.Client{Timeout: cfg.Synthesis.Timeout},
		cfg.Synthesis.BaseURL,
		logger,
		synthesis.WithRetryObserver(m.IncSynthesisRetries),
	)

	deckStore := decks.NewEmbeddedStore()
	engine := app.NewEngine(deckStore, deckStore, gate, synthClient,
		guestStore, userStore, stdRNG{}, logger, m)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(httpadapter.RequestIDMiddleware())
	e.Use(httpadapter.LoggingMiddleware(logger))
	e.Use(httpadapter.MetricsMiddleware(m))
	e.Use(httpadapter.IdentityMiddleware([]byte(cfg.Auth.JWTSecret)))

	httpadapter.NewHandler(engine, logger).Register(e)

	if cfg.Metrics.Enabled {
		e.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	}

	// Graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		logger.Info("starting server", "addr", cfg.HTTP.Addr)
		if err := e.Start(cfg.HTTP.Addr); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

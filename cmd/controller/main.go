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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/opentac/controller/internal/api"
	"github.com/opentac/controller/internal/config"
	"github.com/opentac/controller/internal/controller"
	"github.com/opentac/controller/internal/logging"
	"github.com/opentac/controller/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(cfg)
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
				slog.Error("invalid Redis URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, time.Duration(cfg.Storage.CacheTTLSec)*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		fs, err := store.NewFileStore(cfg.Storage.OutputDir)
		if err != nil {
			slog.Error("output directory setup failed", "err", err)
			os.Exit(1)
		}
		st = fs
		slog.Info("archiving game records to disk", "dir", cfg.Storage.OutputDir)
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Competition parameters ---
	experimentID := cfg.Competition.ExperimentID
	if experimentID == "" {
		experimentID = uuid.New().String()
	}
	params := controller.Parameters{
		ExperimentID:        experimentID,
		MinAgents:           cfg.Competition.MinAgents,
		NbGoods:             cfg.Competition.NbGoods,
		TxFee:               cfg.Competition.TxFee,
		StartTime:           time.Now().Add(time.Duration(cfg.Competition.StartDelaySec) * time.Second),
		RegistrationTimeout: time.Duration(cfg.Competition.RegistrationTimeoutSec) * time.Second,
		InactivityTimeout:   time.Duration(cfg.Competition.InactivityTimeoutSec) * time.Second,
		CompetitionTimeout:  time.Duration(cfg.Competition.CompetitionTimeoutSec) * time.Second,
		Whitelist:           cfg.Competition.Whitelist,
		Seed:                cfg.Competition.Seed,
	}
	params.Economy.MoneyEndowment = cfg.Economy.MoneyEndowment
	params.Economy.BaseGoodEndowment = cfg.Economy.BaseGoodEndowment
	params.Economy.LowerBoundFactor = cfg.Economy.LowerBoundFactor
	params.Economy.UpperBoundFactor = cfg.Economy.UpperBoundFactor

	// --- Agent hub and controller ---
	hub := api.NewHub(logger)
	go hub.Run()

	ctrl, err := controller.New(params, hub, st, logger)
	if err != nil {
		slog.Error("controller setup failed", "err", err)
		os.Exit(1)
	}
	hub.Bind(ctrl)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go ctrl.Run(runCtx)

	// --- HTTP server ---
	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      api.NewServer(ctrl, hub, st, logger).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("tac-controller listening", "addr", cfg.Server.ListenAddr, "experiment_id", experimentID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown: on signal, tear the competition down so the
	// record is archived, then drain HTTP.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.Info("shutdown signal received")
		stopRun()
		select {
		case <-ctrl.Done():
		case <-time.After(10 * time.Second):
			slog.Warn("controller did not finish in time")
		}
	case <-ctrl.Done():
		slog.Info("competition finished")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down tac-controller...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("tac-controller stopped")
}

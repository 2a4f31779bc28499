package main

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-negotiation/internal/config"
	"github.com/example/ride-negotiation/internal/dispatch"
	"github.com/example/ride-negotiation/internal/eta"
	"github.com/example/ride-negotiation/internal/events"
	httpapi "github.com/example/ride-negotiation/internal/http"
	"github.com/example/ride-negotiation/internal/logging"
	"github.com/example/ride-negotiation/internal/negotiation"
	"github.com/example/ride-negotiation/internal/notify"
	"github.com/example/ride-negotiation/internal/payments"
	"github.com/example/ride-negotiation/internal/policy"
	"github.com/example/ride-negotiation/internal/ride"
	"github.com/example/ride-negotiation/internal/storage"
	"github.com/example/ride-negotiation/internal/wallet"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN, logger)
	}

	var history storage.HistoryStore
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			history = ps
		} else {
			logger.Warn("postgres unavailable, using in-memory history", "error", err)
		}
	}
	if history == nil {
		history = storage.NewMemoryStore()
	}

	var publisher ride.Publisher
	var producer *events.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher = producer
	}

	var stripeClient *payments.StripeClient
	if cfg.StripeKey != "" {
		stripeClient = payments.NewStripeClient(cfg.StripeKey)
	}

	ledger := wallet.NewLedger()
	wsreg := dispatch.NewWSRegistry()
	var pusher notify.Pusher = wsreg
	if cfg.PushEndpoint != "" {
		pusher = dispatch.NewPushDispatcher(cfg.PushEndpoint, wsreg)
	}
	sink := notify.NewSink(cfg.NotificationCap, pusher)
	estimator := &eta.Estimator{SpeedMps: cfg.DefaultSpeedMps, Cache: eta.NewCache(cfg.ETACacheTTL)}
	rides := ride.NewController(ride.Config{
		FeeRate:         cfg.PlatformFeeRate,
		PlatformAccount: cfg.PlatformAccount,
	}, ledger, sink, history, publisher, estimator)
	pol := policy.NewRandomPolicy(rand.NewSource(time.Now().UnixNano()), cfg.MinRidePrice)
	engine := negotiation.NewEngine(negotiation.Config{
		MinRidePrice:  cfg.MinRidePrice,
		OfferFloor:    cfg.OfferFloor,
		ResponseDelay: cfg.ResponseDelay,
	}, ledger, sink, pol, rides)

	srv := httpapi.NewServer(cfg, logger, engine, rides, ledger, sink, wsreg, history, stripeClient)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-negotiation listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	engine.Wait()
	if producer != nil {
		_ = producer.Close()
	}
}

func runMigrations(dsn string, logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_ride_history.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_ride_history.sql")
}

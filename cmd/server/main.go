package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xtrntr/predictions/internal/api"
	"github.com/xtrntr/predictions/internal/auth"
	"github.com/xtrntr/predictions/internal/config"
	"github.com/xtrntr/predictions/internal/db"
	"github.com/xtrntr/predictions/internal/exchange"
	"github.com/xtrntr/predictions/internal/kafka"
	"github.com/xtrntr/predictions/internal/logging"
	"github.com/xtrntr/predictions/internal/models"
	"github.com/xtrntr/predictions/internal/notify"
	"github.com/xtrntr/predictions/internal/ws"
)

// Main entry point: wires the exchange, its event sinks and the HTTP server
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatalw("server failed", "error", err)
	}
}

func run(cfg config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store   auth.UserStore = auth.NewMemoryStore()
		history api.HistoryStore
		sinks   []notify.Sink
	)

	// Postgres backs users and the market archive when configured
	if cfg.DatabaseURL != "" {
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close(context.Background())
		store = database
		history = database
		sinks = append(sinks, db.NewArchiver(database))
		log.Infow("postgres enabled")
	} else {
		log.Warnw("DATABASE_URL not set, users are kept in memory and history is not archived")
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("failed to connect to kafka: %w", err)
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
		log.Infow("kafka enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// The hub needs the exchange for its full-state messages and the exchange
	// needs the dispatcher, so the hub reads through ex once it is built.
	var ex *exchange.Exchange
	hub := ws.NewHub(func() []models.MarketSnapshot { return ex.ListMarkets() }, log)
	sinks = append(sinks, hub)

	dispatcher := notify.NewDispatcher(cfg.EventBuffer, log, sinks...)
	ex = exchange.NewExchange(
		exchange.WithNotifier(dispatcher),
		exchange.WithLogger(log),
	)

	authService := auth.NewAuthService(store, cfg.JWTSecret, cfg.JWTTTL)
	handler := api.NewHandler(ex, authService, cfg.Resolvers, log)
	handler.History = history
	router := api.NewRouter(handler, hub, cfg.AllowedOrigins)

	var wg sync.WaitGroup
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(dispatchCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx, cfg.BroadcastInterval)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			stop()
			cancelDispatch()
			wg.Wait()
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http shutdown failed", "error", err)
	}
	hub.Close()

	// Deliver what is still queued before the sinks are closed
	cancelDispatch()
	wg.Wait()
	if dropped := dispatcher.Dropped(); dropped > 0 {
		log.Warnw("events dropped during run", "count", dropped)
	}
	return nil
}

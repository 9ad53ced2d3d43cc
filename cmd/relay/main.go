// Package main is the entry point for the operator relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/operator-relay/internal/config"
	"github.com/capitalize-ai/operator-relay/internal/handler"
	"github.com/capitalize-ai/operator-relay/internal/middleware"
	"github.com/capitalize-ai/operator-relay/internal/model"
	"github.com/capitalize-ai/operator-relay/internal/moderation"
	natsclient "github.com/capitalize-ai/operator-relay/internal/nats"
	"github.com/capitalize-ai/operator-relay/internal/relay"
	"github.com/capitalize-ai/operator-relay/internal/service"
	"github.com/capitalize-ai/operator-relay/internal/store"
	"github.com/capitalize-ai/operator-relay/internal/telegram"
	"github.com/capitalize-ai/operator-relay/pkg/logger"
	"github.com/capitalize-ai/operator-relay/pkg/tracing"
)

func main() {
	tokenSubject := flag.String("token", "", "print an admin API token for this subject and exit")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of the token printed by -token")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	if *tokenSubject != "" {
		token, err := middleware.NewToken(cfg.JWTSecret, *tokenSubject, []string{middleware.ScopeRead}, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting operator relay",
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("update_mode", cfg.UpdateMode),
		zap.String("moderation", cfg.ModerationProvider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "operator-relay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Connect to NATS when the store or event stream needs it
	var natsClient *natsclient.Client
	if needsNATS(cfg) {
		natsClient, err = connectNATS(ctx, cfg, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()
	}

	// Conversation store
	persister, err := openPersister(ctx, cfg, natsClient)
	if err != nil {
		log.Fatal("failed to open persister", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	st, err := store.New(ctx, persister,
		store.WithHistoryLimit(cfg.HistoryLimit),
		store.WithWriteTimeout(cfg.PersistTimeout),
		store.WithLogger(log.Named("store")),
	)
	if err != nil {
		log.Fatal("failed to load conversation store", zap.Error(err))
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("failed to close store", zap.Error(err))
		}
	}()

	// Telegram transport
	api, err := telegram.Connect(cfg.BotToken, log)
	if err != nil {
		log.Fatal("failed to connect to telegram", zap.Error(err))
	}
	bot := telegram.NewBot(api, cfg.OutboundRate, cfg.OutboundBurst, log.Named("telegram"))

	// Relay events: always to the in-process hub, optionally to JetStream
	hub := service.NewHub(service.DefaultHistory, log.Named("events"))
	sinks := service.MultiSink{hub}
	if cfg.EventsEnabled {
		publisher, err := natsclient.NewEventPublisher(ctx, natsClient)
		if err != nil {
			log.Fatal("failed to set up relay event stream", zap.Error(err))
		}
		sinks = append(sinks, publisher)
	}

	engineOpts := []relay.Option{
		relay.WithLogger(log.Named("relay")),
		relay.WithEventSink(sinks),
	}

	classifier, err := newClassifier(cfg)
	if err != nil {
		log.Fatal("failed to create moderation classifier", zap.Error(err))
	}
	if classifier != nil {
		gate := moderation.NewGate(classifier, bot, cfg.OperatorID, cfg.ClassifyTimeout, log.Named("moderation"))
		engineOpts = append(engineOpts, relay.WithModerator(gate))
	}

	engine := relay.NewEngine(relay.Config{
		OperatorID:  cfg.OperatorID,
		SendTimeout: cfg.SendTimeout,
		DefaultMode: model.SendMode(cfg.DefaultMode),
	}, st, bot, engineOpts...)

	dispatcher := telegram.NewDispatcher(engine, st, bot, cfg.OperatorID, log.Named("dispatcher"),
		telegram.WithWorkers(cfg.DispatchWorkers),
	)

	// Handlers
	var checks []handler.ReadinessCheck
	if natsClient != nil {
		checks = append(checks, handler.ReadinessCheck{
			Name: "nats",
			Check: func(ctx context.Context) error {
				if !natsClient.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			},
		})
	}
	healthHandler := handler.NewHealthHandler(checks...)
	adminHandler := handler.NewAdminHandler(st, log)
	streamHandler := handler.NewStreamHandler(hub, log)
	webhookHandler := handler.NewWebhookHandler(cfg.WebhookSecret, dispatcher, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log.Named("http")))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Telegram webhook, authenticated by the secret token header
	if cfg.UpdateMode == config.UpdateModeWebhook {
		r.Post(webhookPath(cfg.WebhookURL), webhookHandler.Receive)
	}

	// Admin API with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS())
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireScope(middleware.ScopeRead))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/stats", adminHandler.Stats)
		r.Get("/events/stream", streamHandler.Stream)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", adminHandler.ListUsers)
			r.Get("/{id}", adminHandler.GetUser)
			r.Get("/{id}/conversation", adminHandler.GetConversation)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Update intake
	pollDone := make(chan struct{})
	switch cfg.UpdateMode {
	case config.UpdateModeWebhook:
		if err := bot.RegisterWebhook(cfg.WebhookURL, cfg.WebhookSecret); err != nil {
			log.Fatal("failed to register webhook", zap.Error(err))
		}
		close(pollDone)
	default:
		if err := bot.DeleteWebhook(); err != nil {
			log.Warn("failed to clear webhook before polling", zap.Error(err))
		}
		go func() {
			defer close(pollDone)
			telegram.Poll(ctx, api, dispatcher, log.Named("poller"))
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error("server error", zap.Error(err))
		stop()
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	<-pollDone
	dispatcher.Wait()

	log.Info("relay stopped")
}

// webhookPath is the path component of the public webhook URL.
func webhookPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/telegram/webhook"
	}
	return u.Path
}

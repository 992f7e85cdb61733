package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/saranga-ayurveda/backend/internal/account"
	"github.com/saranga-ayurveda/backend/internal/config"
	"github.com/saranga-ayurveda/backend/internal/database"
	"github.com/saranga-ayurveda/backend/internal/logging"
	"github.com/saranga-ayurveda/backend/internal/metrics"
	"github.com/saranga-ayurveda/backend/internal/realtime"
	"github.com/saranga-ayurveda/backend/internal/retry"
	"github.com/saranga-ayurveda/backend/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; environment variables always apply)")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: cfg.Instance.Name,
	})

	logger.Info().
		EmbedObject(version.Get()).
		Str("env", cfg.Instance.Env).
		Str("config", *configPath).
		Msg("starting backend")

	if err := run(cfg, &logger); err != nil {
		logger.Error().Err(err).Msg("backend stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("backend stopped")
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Database
	policy := retry.Policy{MaxRetries: cfg.Retry.MaxRetries, InitialDelay: cfg.Retry.InitialDelay}
	pool := database.NewPool(database.OptionsFromConfig(cfg), database.NewPgxDriver(logger), policy, logger)
	store := database.NewStore(pool)
	defer store.Close()

	poolSupervisor := database.NewSupervisor(pool, policy, logger)
	poolSupervisor.OnRecovery = metrics.RecordRecovery

	prometheus.MustRegister(metrics.NewPoolCollector(store.Stats))

	// Realtime
	registry := realtime.NewRegistry(logger)
	source := realtime.NewBreakerSource("user-snapshots", account.NewSnapshots(store), cfg.Realtime.BreakerTimeout, logger)

	dcfg := realtime.DispatcherConfig{
		SyncRate:  cfg.Realtime.SyncRate,
		SyncBurst: cfg.Realtime.SyncBurst,
		Logger:    logger,
	}
	if cfg.Realtime.AuthSecret != "" {
		dcfg.Auth = realtime.NewTokenAuthenticator(cfg.Realtime.AuthSecret)
	} else {
		logger.Warn().Msg("realtime.auth_secret is empty, trusting client supplied user ids")
	}

	var bridge *realtime.Bridge
	if cfg.Bridge.NATSURL != "" {
		nc, err := nats.Connect(cfg.Bridge.NATSURL,
			nats.Name(cfg.Instance.Name),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer nc.Close()

		bridge = realtime.NewBridge(nc, cfg.Bridge.Subject, registry, logger)
		dcfg.Publisher = bridge
	}

	dispatcher := realtime.NewDispatcher(registry, source, dcfg)
	wsHandler := realtime.NewHandler(dispatcher, realtime.ConnConfig{
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		PongTimeout:    cfg.Realtime.PongTimeout,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
		SendBuffer:     cfg.Realtime.SendBuffer,
	}, cfg.Realtime.AllowedOrigins, logger)

	// HTTP
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	router := newRouter(routerDeps{
		stats:       store.Stats,
		sockets:     wsHandler.Active,
		registry:    registry,
		ws:          wsHandler,
		push:        dispatcher,
		pushSecret:  cfg.Realtime.AuthSecret,
		metricsPath: metricsPath,
		started:     time.Now(),
		logger:      logger,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	root := suture.New("backend", suture.Spec{
		EventHook: eventHook(logger),
		Timeout:   cfg.Server.ShutdownTimeout,
	})
	root.Add(poolSupervisor)
	if bridge != nil {
		root.Add(bridge)
	}
	root.Add(&httpService{
		server:          server,
		shutdownTimeout: cfg.Server.ShutdownTimeout,
		onShutdown:      wsHandler.Close,
	})

	// Connect eagerly so startup problems show up in the logs. Failure is not
	// fatal: the first request retries.
	go func() {
		if err := store.Initialize(ctx); err != nil {
			logger.Error().Err(err).Msg("initial database connection failed")
		}
	}()

	logger.Info().
		Int("port", cfg.Server.Port).
		Bool("bridge", bridge != nil).
		Str("ssl_mode", cfg.ResolvedSSLMode()).
		Msg("backend running")

	err := root.Serve(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// eventHook logs supervisor events through zerolog.
func eventHook(logger *zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		logger.Warn().Fields(e.Map()).Msg(e.String())
	}
}

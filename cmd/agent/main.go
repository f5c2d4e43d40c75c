package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erp/sfagent/internal/application/ordersync"
	"github.com/erp/sfagent/internal/domain/order"
	"github.com/erp/sfagent/internal/infrastructure/config"
	"github.com/erp/sfagent/internal/infrastructure/erp"
	"github.com/erp/sfagent/internal/infrastructure/logger"
	"github.com/erp/sfagent/internal/infrastructure/salesforce"
	"github.com/erp/sfagent/internal/infrastructure/scheduler"
	"github.com/erp/sfagent/internal/infrastructure/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configFile, envFiles string
	flag.StringVar(&configFile, "config", "", "Path to config file (default: search for config.toml)")
	flag.StringVar(&envFiles, "env", "", "Comma separated dotenv files (default: .env)")
	flag.Parse()

	// Load configuration
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if envFiles != "" {
		opts = append(opts, config.WithEnvFiles(strings.Split(envFiles, ",")...))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateForRun(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig().Merge(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		ErrorOutput: cfg.Log.ErrorOutput,
		TimeFormat:  cfg.Log.TimeFormat,
	})

	// Bootstrap logger, used until the OTEL log bridge is ready
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	providers, err := telemetry.Setup(ctx, telemetry.Settings{
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		Insecure:          cfg.Telemetry.Insecure,
		TracesEnabled:     cfg.Telemetry.Enabled,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		MetricsEnabled:    cfg.Telemetry.MetricsEnabled,
		LogsEnabled:       cfg.Telemetry.LogsEnabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}

	if providers.LogsEnabled() {
		bridged, err := logger.New(logCfg, providers.ZapCore(logger.ParseLevel(cfg.Log.Level)))
		if err != nil {
			log.Fatal("Failed to attach OTEL log bridge", zap.Error(err))
		}
		_ = logger.Sync(log)
		log = bridged
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("==================== service started ====================",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", cfg.App.Version),
	)

	syncMetrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:  providers.Meter(telemetry.TracerName),
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to initialize sync metrics", zap.Error(err))
	}

	// ERP source
	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         providers.TracesEnabled() && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	db, err := erp.NewDatabase(&erp.Config{
		DSN:             cfg.ERP.ConnectionString(),
		MaxOpenConns:    cfg.ERP.MaxOpenConns,
		MaxIdleConns:    cfg.ERP.MaxIdleConns,
		ConnMaxLifetime: cfg.ERP.ConnMaxLifetime,
		LogLevel:        cfg.ERP.LogLevel,
		SlowThreshold:   cfg.Telemetry.DBSlowQueryThresh,
	}, log, dbTracing)
	if err != nil {
		log.Fatal("Failed to connect to ERP database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing ERP database", zap.Error(err))
		}
	}()
	log.Info("ERP database connected")
	source := erp.NewSource(db, cfg.ERP.Query, cfg.ERP.QueryTimeout, log)

	// CRM client and token provider
	crmClient, err := salesforce.NewClient(&salesforce.Config{
		InstanceURL:     cfg.CRM.InstanceURL,
		APIVersion:      cfg.CRM.APIVersion,
		SObject:         cfg.CRM.SObject,
		ExternalIDField: cfg.CRM.ExternalIDField,
		Timeout:         cfg.CRM.Timeout,
	}, &http.Client{Timeout: cfg.CRM.Timeout}, log)
	if err != nil {
		log.Fatal("Failed to create CRM client", zap.Error(err))
	}

	authCfg := &salesforce.AuthConfig{
		Flow:          cfg.Auth.Flow,
		LoginURL:      cfg.Auth.LoginURL,
		ClientID:      cfg.Auth.ClientID,
		ClientSecret:  cfg.Auth.ClientSecret,
		Username:      cfg.Auth.Username,
		Password:      cfg.Auth.Password,
		SecurityToken: cfg.Auth.SecurityToken,
		TokenTTL:      cfg.Auth.TokenTTL,
	}
	if cfg.Auth.Flow == config.AuthFlowJWT {
		key, err := os.ReadFile(cfg.Auth.PrivateKeyPath)
		if err != nil {
			log.Fatal("Failed to read private key", zap.String("path", cfg.Auth.PrivateKeyPath), zap.Error(err))
		}
		authCfg.PrivateKeyPEM = key
	}
	tokens, err := salesforce.NewTokenProvider(ctx, authCfg, &http.Client{Timeout: cfg.Auth.Timeout}, log)
	if err != nil {
		log.Fatal("Failed to create token provider", zap.Error(err))
	}

	engine := ordersync.NewEngine(source, crmClient, tokens, log,
		ordersync.WithLookups(order.LookupOptions{
			Warehouse:         cfg.CRM.Lookups.Warehouse,
			PaymentMethod:     cfg.CRM.Lookups.PaymentMethod,
			Route:             cfg.CRM.Lookups.Route,
			TriangularPartner: cfg.CRM.Lookups.TriangularPartner,
		}),
		ordersync.WithMetrics(syncMetrics),
	)

	// Cycle lock
	var lock scheduler.CycleLock
	if cfg.Scheduler.LockBackend == config.LockBackendRedis {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Error("Error closing redis client", zap.Error(err))
			}
		}()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("Redis not reachable, cycles will be skipped until it is", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
		}
		lock = scheduler.NewRedisCycleLock(redisClient, cfg.Scheduler.LockKey, cfg.Scheduler.LockTTL)
	}

	sched, err := scheduler.NewOrderSyncScheduler(scheduler.OrderSyncSchedulerConfig{
		Interval:              cfg.Scheduler.Interval,
		RunOnStart:            cfg.Scheduler.RunOnStart,
		MaxHistory:            cfg.Scheduler.MaxHistory,
		FailureAlertThreshold: cfg.Scheduler.FailureAlertThreshold,
	}, engine, lock, log)
	if err != nil {
		log.Fatal("Failed to create scheduler", zap.Error(err))
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Shutting down agent...", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn("Scheduler did not stop cleanly", zap.Error(err))
	}

	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Warn("Telemetry did not shut down cleanly", zap.Error(err))
	}
	log.Info("service stopped", scheduler.RunFields(sched.LastRun())...)
}

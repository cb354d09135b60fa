package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/config"
	mediarepo "github.com/DiSSCo/dissco-core-digital-specimen-processor/internal/repositories/media"
	specimenrepo "github.com/DiSSCo/dissco-core-digital-specimen-processor/internal/repositories/specimen"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/internal/repositories/sourcesystem"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/cache"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/database"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/equality"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/handles"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/kafka"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/logging"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/media"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/pids"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/processor"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/relationships"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/rollback"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/routes/health"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/scheduler"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/search"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/specimen"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/startup"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/tracing"
)

const version = "1.0.0"

// dep adapts a pair of closures to a startup dependency.
type dep struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (d dep) GetName() string     { return d.name }
func (d dep) DependsOn() []string { return d.dependsOn }
func (d dep) Start(ctx context.Context) error {
	if d.start == nil {
		return nil
	}
	return d.start(ctx)
}
func (d dep) Stop(ctx context.Context) error {
	if d.stop == nil {
		return nil
	}
	return d.stop(ctx)
}

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, flush, err := logging.New(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = flush() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.TracingEnabled {
		shutdown, err := tracing.Init(ctx, tracing.Config{
			Enabled:     true,
			ServiceName: cfg.AppName,
			Endpoint:    cfg.TracingEndpoint,
			Insecure:    cfg.TracingInsecure,
			Timeout:     10 * time.Second,
		})
		if err != nil {
			logger.WithError(err).Error("Failed to initialize tracing, continuing without it")
		} else {
			defer func() {
				shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
				defer stop()
				_ = shutdown(shutdownCtx)
			}()
		}
	}

	var (
		db       database.DB
		idx      *search.Index
		producer *kafka.Producer
		consumer *kafka.Consumer
		names    *cache.NameCache
		server   *echo.Echo
		checker  *health.Checker
	)

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	boot.AddDependency(dep{
		name: "database",
		start: func(ctx context.Context) error {
			var err error
			db, err = database.Connect(database.Config{
				Driver:          cfg.DatabaseDriver,
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				User:            cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, logger)
			if err != nil {
				return err
			}
			return database.Migrate(db, cfg.DatabaseName, database.MigrationConfig{
				FolderPath: cfg.DatabaseMigrationFolderPath,
				Version:    cfg.DatabaseMigrationVersion,
			}, logger)
		},
		stop: func(context.Context) error { return db.Close() },
	})

	boot.AddDependency(dep{
		name: "search",
		start: func(ctx context.Context) error {
			var err error
			idx, err = search.NewIndex(search.Config{
				Host:      cfg.SearchHost,
				Port:      cfg.SearchPort,
				Password:  cfg.SearchPassword,
				DB:        cfg.SearchDB,
				KeyPrefix: cfg.SearchKeyPrefix,
			}, logger)
			return err
		},
		stop: func(context.Context) error { return idx.Close() },
	})

	boot.AddDependency(dep{
		name: "producer",
		start: func(context.Context) error {
			producer = kafka.NewProducer(kafka.ProducerConfig{
				Brokers:         cfg.KafkaBrokers,
				InputTopic:      cfg.KafkaInputTopic,
				MediaRetryTopic: cfg.KafkaMediaRetryTopic,
				EventsTopic:     cfg.KafkaEventsTopic,
				MasTopic:        cfg.KafkaMasTopic,
				DeadLetterTopic: cfg.KafkaDeadLetterTopic,
				BatchSize:       cfg.KafkaBatchSize,
				BatchTimeout:    time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
				RequiredAcks:    cfg.KafkaRequiredAcks,
				Compression:     cfg.KafkaCompression,
			}, logger)
			return nil
		},
		stop: func(context.Context) error { return producer.Close() },
	})

	boot.AddDependency(dep{
		name:      "consumer",
		dependsOn: []string{"database", "search", "producer"},
		start: func(ctx context.Context) error {
			specimenStore := specimenrepo.NewRepository(db, logger)
			mediaStore := mediarepo.NewRepository(db, logger)
			sourceSystems := sourcesystem.NewRepository(db, logger)
			names = cache.NewNameCache(sourceSystems, cache.NameCacheConfig{
				TTL:           cfg.NameCacheTTL,
				ClearInterval: cfg.NameCacheClear,
			}, logger)

			handleClient := handles.NewClient(handles.Config{
				BaseURL: cfg.HandleServiceURL,
				Timeout: cfg.HandleServiceTimeout,
			}, logger)

			eq := equality.NewEngine(logger)
			rb := rollback.NewCoordinator(specimenStore, mediaStore, idx, handleClient, producer, logger)
			specimenSv := specimen.NewService(specimenStore, idx, handleClient, producer, rb, eq, names, logger)
			mediaSv := media.NewService(mediaStore, idx, producer, rb, eq, names, logger)
			resolver := pids.NewCoordinator(handleClient, logger)
			jobs := scheduler.NewScheduler(producer, logger)
			proc := processor.NewProcessor(
				specimenStore, mediaStore, resolver, specimenSv, mediaSv,
				producer, jobs, relationships.NewReconciler(logger), eq, logger,
			)

			if !cfg.KafkaConsumerEnabled {
				logger.Warn("Kafka consumer is disabled")
				return nil
			}
			consumer = kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers:       cfg.KafkaBrokers,
				Topic:         cfg.KafkaInputTopic,
				ConsumerGroup: cfg.KafkaConsumerGroup,
				BatchSize:     cfg.BatchSize,
				BatchTimeout:  cfg.BatchTimeout,
			}, logger, producer, func(ctx context.Context, events []models.SpecimenEvent) {
				proc.HandleBatch(ctx, events)
			})
			return consumer.Start(ctx)
		},
		stop: func(context.Context) error {
			names.Close()
			if consumer == nil {
				return nil
			}
			return consumer.Stop()
		},
	})

	boot.AddDependency(dep{
		name:      "http",
		dependsOn: []string{"database", "search"},
		start: func(context.Context) error {
			server = echo.New()
			server.HideBanner = true
			var consumerHealth health.ConsumerHealth
			if consumer != nil {
				consumerHealth = consumer
			}
			checker = health.NewChecker(db, idx, consumerHealth, version)
			checker.RegisterRoutes(server)
			server.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

			go func() {
				if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
					logger.WithError(err).Info("HTTP server stopped")
				}
			}()
			return nil
		},
		stop: func(ctx context.Context) error { return server.Shutdown(ctx) },
	})

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}
	checker.SetReady(true)
	logger.WithField("app", cfg.AppName).Info("Processor started")

	<-ctx.Done()
	logger.Info("Shutting down")
	checker.SetReady(false)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
}

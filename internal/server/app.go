// Package server assembles the pipeline components and hosts the admin API.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/MarkPhamm/consumer-complaint-pipeline/config"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/database"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/expressions"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/fetcher"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/health"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/httpclient"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/kafka"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/objectstore"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/pipeline"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/redis"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/repositories"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/resolver"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/scheduler"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/startup"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/transform"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/uploader"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/warehouse"
)

// Startup dependency names
const (
	DependencyDatabase    = "database"
	DependencyPool        = "pgx_pool"
	DependencyRedis       = "redis"
	DependencyKafka       = "kafka"
	DependencyObjectStore = "object_store"
	DependencyPipeline    = "pipeline"
	DependencyScheduler   = "scheduler"
	DependencyHTTP        = "http"
)

// LockKeyPrefix namespaces the run lock in redis
const LockKeyPrefix = "complaints:"

// App holds the process-wide clients and the assembled pipeline.
type App struct {
	config *config.Config
	logger ectologger.Logger

	sqlDB     *sqlx.DB
	db        database.DB
	pool      *pgxpool.Pool
	redis     *redis.Client
	producer  *kafka.Producer
	store     objectstore.Store
	runs      *repositories.RunRepository
	warehouse *warehouse.Warehouse
	resolver  *resolver.Resolver
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
	health    *health.Checker
}

// NewApp creates an App. Nothing is connected until its startup dependencies run.
func NewApp(cfg *config.Config, logger ectologger.Logger) *App {
	return &App{
		config: cfg,
		logger: logger,
		health: health.NewChecker(cfg.Version),
	}
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }
func (a *App) Resolver() *resolver.Resolver    { return a.resolver }
func (a *App) Store() objectstore.Store         { return a.store }
func (a *App) Health() *health.Checker          { return a.health }

// RegisterMigrate adds only the database dependency, which applies migrations.
func (a *App) RegisterMigrate(s *startup.Startup) {
	s.AddDependency(a.databaseDependency())
}

// RegisterPipeline adds every dependency a pipeline run needs.
func (a *App) RegisterPipeline(s *startup.Startup) {
	s.AddDependency(a.databaseDependency())
	s.AddDependency(&startup.Dependency{
		Name:     DependencyPool,
		Requires: []string{DependencyDatabase},
		StartFn:  a.connectPool,
		StopFn: func(context.Context) error {
			if a.pool != nil {
				a.pool.Close()
			}
			return nil
		},
	})
	s.AddDependency(&startup.Dependency{
		Name:    DependencyRedis,
		StartFn: a.connectRedis,
		StopFn: func(context.Context) error {
			if a.redis != nil {
				return a.redis.Close()
			}
			return nil
		},
	})
	s.AddDependency(&startup.Dependency{
		Name:    DependencyKafka,
		StartFn: a.connectKafka,
		StopFn: func(context.Context) error {
			if a.producer != nil {
				return a.producer.Close()
			}
			return nil
		},
	})
	s.AddDependency(&startup.Dependency{
		Name:    DependencyObjectStore,
		StartFn: a.connectStore,
	})
	s.AddDependency(&startup.Dependency{
		Name:     DependencyPipeline,
		Requires: []string{DependencyDatabase, DependencyPool, DependencyRedis, DependencyKafka, DependencyObjectStore},
		StartFn:  a.assemble,
	})
}

// RegisterResolve adds the object store only.
func (a *App) RegisterResolve(s *startup.Startup) {
	s.AddDependency(&startup.Dependency{
		Name:    DependencyObjectStore,
		StartFn: a.connectStore,
	})
	s.AddDependency(&startup.Dependency{
		Name:     DependencyPipeline,
		Requires: []string{DependencyObjectStore},
		StartFn: func(context.Context) error {
			a.resolver = resolver.NewResolver(a.config.S3Prefix, a.logger)
			return nil
		},
	})
}

func (a *App) databaseDependency() *startup.Dependency {
	return &startup.Dependency{
		Name:    DependencyDatabase,
		StartFn: a.connectDatabase,
		StopFn: func(context.Context) error {
			if a.sqlDB != nil {
				return a.sqlDB.Close()
			}
			return nil
		},
	}
}

func (a *App) connectDatabase(ctx context.Context) error {
	if a.sqlDB != nil {
		return nil
	}

	sqlDB, err := database.Open(ctx, a.config.Database(), a.logger)
	if err != nil {
		return err
	}

	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.config.DatabaseMigrationFolderPath,
		Version:             uint(a.config.DatabaseMigrationVersion),
		Force:               a.config.DatabaseMigrationForce,
		AutoRollback:        a.config.DatabaseMigrationAutoRollback,
	})
	if err := migrations.MigratePostgres(sqlDB, a.config.DatabaseName); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	a.sqlDB = sqlDB
	a.db = database.NewDatabaseInstance(sqlDB, a.logger)
	a.health.AddCheck("database", a.db.PingContext)
	return nil
}

func (a *App) connectPool(ctx context.Context) error {
	if a.pool != nil {
		return nil
	}
	pool, err := database.OpenPool(ctx, a.config.Database(), a.logger)
	if err != nil {
		return err
	}
	a.pool = pool
	a.health.AddCheck("pgx_pool", pool.Ping)
	return nil
}

func (a *App) connectRedis(ctx context.Context) error {
	if a.redis != nil {
		return nil
	}
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.config.RedisHost,
		Port:     a.config.RedisPort,
		Password: a.config.RedisPassword,
		DB:       a.config.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	a.health.AddCheck("redis", client.Ping)
	return nil
}

func (a *App) connectKafka(ctx context.Context) error {
	if !a.config.KafkaEnabled || a.producer != nil {
		return nil
	}
	brokers := a.config.KafkaBrokerList()
	if len(brokers) == 0 {
		return errors.New("kafka is enabled but KAFKA_BROKERS is empty")
	}
	a.producer = kafka.NewProducer(kafka.Config{Brokers: brokers, RunTopic: a.config.KafkaRunTopic}, a.logger)
	a.health.AddOptionalCheck("kafka", a.producer.Ping)
	a.logger.WithContext(ctx).Infof("Publishing run events to %s", a.config.KafkaRunTopic)
	return nil
}

func (a *App) connectStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.config.PipelineMode != models.PipelineModeStaged && a.config.S3Bucket == "" {
		return nil
	}

	store, err := objectstore.NewMinioStore(objectstore.Config{
		Endpoint:  a.config.S3Endpoint,
		Region:    a.config.S3Region,
		AccessKey: a.config.S3AccessKey,
		SecretKey: a.config.S3SecretKey,
		UseSSL:    a.config.S3UseSSL,
		Bucket:    a.config.S3Bucket,
	}, a.logger)
	if err != nil {
		return err
	}
	check := store.Ping
	if a.config.S3CreateBucket {
		check = store.EnsureBucket
	}
	if err := check(ctx); err != nil {
		return fmt.Errorf("object store bucket %s is unreachable: %w", a.config.S3Bucket, err)
	}
	a.store = store
	a.health.AddCheck("object_store", store.Ping)
	return nil
}

// assemble wires the pipeline and the scheduler over the connected clients.
func (a *App) assemble(context.Context) error {
	cfg := a.config

	client := httpclient.NewClient(httpclient.Config{
		Timeout:         cfg.APITimeout,
		MaxResponseSize: cfg.APIMaxResponseSize,
		MaxRetries:      cfg.APIMaxRetries,
		Backoff:         cfg.APIBackoff,
	}, a.logger)
	fetch := fetcher.NewFetcher(client, expressions.NewEvaluator(), cfg.APIBaseURL, a.logger)

	a.runs = repositories.NewRunRepository(a.db, a.logger)
	stages := repositories.NewStageRepository(a.db, a.logger)
	a.warehouse = warehouse.NewWarehouse(a.db, warehouse.NewPgxCopier(a.pool), stages, a.store, warehouse.Config{
		Database:  cfg.WarehouseDatabase,
		Schema:    cfg.WarehouseSchema,
		Warehouse: cfg.WarehouseName,
		Table:     cfg.WarehouseTable,
		Stage:     cfg.WarehouseStage,
		Bucket:    cfg.S3Bucket,
		Prefix:    cfg.S3Prefix,
		BatchSize: cfg.InsertBatchSize,
	}, a.logger)

	companies, err := pipelineCompanies(cfg.Companies)
	if err != nil {
		return err
	}

	var up pipeline.Uploader
	if a.store != nil {
		a.resolver = resolver.NewResolver(cfg.S3Prefix, a.logger)
		up = uploader.NewUploader(a.store, cfg.S3Prefix, a.logger)
	}
	var res pipeline.Resolver
	if a.resolver != nil {
		res = a.resolver
	}

	a.pipeline = pipeline.NewPipeline(fetch, transform.NewTransformer(a.logger), up, res, a.store, a.warehouse, pipeline.Config{
		Mode:                  cfg.PipelineMode,
		Companies:             companies,
		LookbackDays:          cfg.LookbackDays,
		MaxRecords:            cfg.MaxRecords,
		DataDir:               cfg.DataDir,
		FailOnValidationError: cfg.FailOnValidationError,
	}, a.logger)

	var runStore scheduler.RunStore
	if cfg.RunHistoryEnabled {
		runStore = a.runs
	}
	var publisher scheduler.EventPublisher
	if a.producer != nil {
		publisher = a.producer
	}

	a.scheduler = scheduler.NewScheduler(
		a.pipeline,
		redis.NewLocker(a.redis, LockKeyPrefix),
		runStore,
		publisher,
		scheduler.Config{
			Interval:   cfg.ScheduleInterval,
			RunOnStart: cfg.RunOnStart,
			Retries:    cfg.RunRetries,
			RetryDelay: cfg.RunRetryDelay,
			LockTTL:    cfg.RunLockTTL,
		},
		a.logger,
	)
	return nil
}

func pipelineCompanies(companies []config.CompanyConfig) ([]pipeline.Company, error) {
	result := make([]pipeline.Company, 0, len(companies))
	for _, company := range companies {
		start, err := company.Start()
		if err != nil {
			return nil, fmt.Errorf("company %q: %w", company.Name, err)
		}
		end, err := company.End()
		if err != nil {
			return nil, fmt.Errorf("company %q: %w", company.Name, err)
		}
		result = append(result, pipeline.Company{Name: company.Name, Start: start, End: end})
	}
	return result, nil
}

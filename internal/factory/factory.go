package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"portal-service/internal/analytics"
	"portal-service/internal/audit"
	"portal-service/internal/bucketing"
	"portal-service/internal/client"
	"portal-service/internal/config"
	"portal-service/internal/encryption"
	"portal-service/internal/events"
	"portal-service/internal/handler"
	"portal-service/internal/hashing"
	"portal-service/internal/repository"
	"portal-service/internal/repository/postgres"
	rediscache "portal-service/internal/repository/redis"
	"portal-service/internal/repository/scylla"
	"portal-service/internal/scheduler"
	"portal-service/internal/service"
	"portal-service/internal/tls"
	"portal-service/internal/token"
	"portal-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	store            repository.Store
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	caller           *client.BlandClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager
	tokens            *token.Manager

	publisher events.Publisher
	recorder  audit.Recorder
	tracker   analytics.Tracker

	serviceFactory *service.ServiceFactory
	scheduler      *scheduler.Scheduler

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory validates cfg and connects every backend. Redis and the
// record store are required; audit search and funnel analytics fall back
// to in-process implementations outside production.
func NewFactory(ctx context.Context, cfg *config.Config) (*Factory, error) {
	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Factory{
		config: cfg,
		logger: logger,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg)
	}

	if err := f.initializeManagers(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}
	if err := f.initializeClients(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	f.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store", cfg.Store.Backend),
		util.String("broker", cfg.Events.Broker),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("demo_enabled", cfg.Portal.DemoEnabled),
	)

	return f, nil
}

// initializeManagers builds the hashing, encryption, bucketing and token
// managers. Missing key material is fatal in every environment.
func (f *Factory) initializeManagers(ctx context.Context) error {
	hasher, err := hashing.NewHasher(f.config)
	if err != nil {
		return err
	}
	f.hasher = hasher

	var kmsClient encryption.KMSAPI
	if f.config.KMS.Enabled {
		c, err := encryption.NewKMSClient(ctx, f.config)
		if err != nil {
			return err
		}
		kmsClient = c
	}

	f.encryptionManager, err = encryption.NewEncryptionManager(f.config, kmsClient, f.hasher)
	if err != nil {
		return err
	}

	f.tokens, err = token.NewManager(f.config)
	if err != nil {
		return err
	}

	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("kms", f.encryptionManager.UsesKMS()),
		util.Int("account_buckets", f.bucketingManager.AccountBuckets()),
	)
	return nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	redisClient, err := client.NewRedisClient(f.config, f.logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("Redis client initialized and healthy")

	store, err := f.openStore(ctx)
	if err != nil {
		return fmt.Errorf("%s store: %w", f.config.Store.Backend, err)
	}
	f.store = store
	if err := f.store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check: %w", f.config.Store.Backend, err)
	}
	util.Info("Record store initialized and healthy", util.String("backend", f.config.Store.Backend))

	f.publisher = events.NewPublisher(f.config, f.logger.Named("events"))

	var optionalErrors []error

	// Elasticsearch backs the security event trail.
	if es, err := client.NewElasticsearchClient(ctx, f.config, f.logger); err != nil {
		optionalErrors = append(optionalErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = es
		recorder := audit.NewESRecorder(es, f.config.Elasticsearch.SecurityIndex, f.bucketingManager, f.logger.Named("audit"))
		if err := recorder.EnsureIndex(ctx); err != nil {
			optionalErrors = append(optionalErrors, fmt.Errorf("elasticsearch index: %w", err))
		} else {
			f.recorder = recorder
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse backs the funnel analytics.
	if ch, err := client.NewClickHouseClient(ctx, f.config, f.logger); err != nil {
		optionalErrors = append(optionalErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = ch
		tracker, err := analytics.NewClickHouseTracker(ctx, ch, f.config.Analytics.BatchSize, f.config.Analytics.FlushInterval, f.logger.Named("analytics"))
		if err != nil {
			optionalErrors = append(optionalErrors, fmt.Errorf("clickhouse tracker: %w", err))
		} else {
			f.tracker = tracker
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(optionalErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", optionalErrors)
		}
		for _, err := range optionalErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	if f.recorder == nil {
		util.Warn("Security events kept in memory only")
		f.recorder = audit.NewMemoryRecorder(0, f.bucketingManager, f.logger.Named("audit"))
	}
	if f.tracker == nil {
		f.tracker = analytics.NoopTracker{}
	}

	f.caller = client.NewBlandClient(f.config, f.logger.Named("calling"))
	if !f.caller.Configured() {
		util.Info("Calling provider not configured; call endpoints will report unavailable")
	}

	return nil
}

func (f *Factory) openStore(ctx context.Context) (repository.Store, error) {
	switch f.config.Store.Backend {
	case config.StorePostgres:
		pool, err := client.NewPostgresPool(ctx, f.config, f.logger)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(pool), nil
	default:
		session, err := scylla.NewScyllaClient(f.config, f.logger)
		if err != nil {
			return nil, err
		}
		return scylla.NewStore(session, f.bucketingManager), nil
	}
}

func (f *Factory) initializeServices() {
	verification := f.config.Verification
	f.serviceFactory = service.NewServiceFactory(service.Dependencies{
		Accounts:  f.store.Accounts(),
		Payments:  f.store.Payments(),
		Sessions:  rediscache.NewSessionCache(f.redisClient),
		Attempts:  rediscache.NewAttemptCache(f.redisClient),
		Hasher:    f.hasher,
		Tokens:    f.tokens,
		Encryptor: f.encryptionManager,
		Publisher: f.publisher,
		Recorder:  f.recorder,
		Tracker:   f.tracker,
		Caller:    f.caller,
		Verification: service.VerificationSettings{
			MaxAttempts:   verification.MaxAttempts,
			LockoutWindow: verification.LockoutWindow,
			SessionTTL:    verification.SessionTTL,
			DemoEnabled:   f.config.Portal.DemoEnabled,
		},
		PathwayID: f.config.Calling.PathwayID,
	}, f.logger.Named("service"))

	f.scheduler = scheduler.New(
		f.serviceFactory.PaymentService(),
		f.publisher,
		f.config.Scheduler.DuePaymentsCron,
		f.logger.Named("scheduler"),
	)
}

// Migrate applies the record store schema.
func (f *Factory) Migrate(ctx context.Context) error {
	return f.store.ApplySchema(ctx)
}

// Router builds the HTTP handler for the portal and operator APIs.
func (f *Factory) Router() http.Handler {
	sf := f.ServiceFactory()
	portal := handler.NewPortalHandler(
		sf.VerificationService(),
		sf.ResolutionService(),
		sf.PaymentService(),
		f.tokens,
		f.logger.Named("portal"),
	)
	operator := handler.NewOperatorHandler(handler.OperatorDeps{
		Payments:  sf.PaymentService(),
		Accounts:  sf.AccountService(),
		Importer:  sf.ImportService(),
		Calls:     sf.CallingService(),
		Recorder:  f.recorder,
		Tracker:   f.tracker,
		PhoneHash: f.hasher.PhoneFingerprint,
		APIKey:    f.config.Operator.InternalAPIKey,
	}, f.logger.Named("operator"))

	return handler.NewRouter(portal, operator, handler.RouterOptions{
		AllowedOrigins: f.config.Server.AllowedOrigins,
		Ready:          f.Ready,
	}, f.logger.Named("http"))
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var (
		mu           sync.Mutex
		healthErrors = make(map[string]error)
	)
	check := func(name string, fn func(context.Context) error) func() error {
		return func() error {
			if err := fn(ctx); err != nil {
				mu.Lock()
				healthErrors[name] = err
				mu.Unlock()
			}
			return nil
		}
	}

	var g errgroup.Group
	g.Go(check("redis", f.redisClient.HealthCheck))
	g.Go(check("store", f.store.HealthCheck))
	if f.esClient != nil {
		g.Go(check("elasticsearch", f.esClient.HealthCheck))
	}
	if f.clickhouseClient != nil {
		g.Go(check("clickhouse", f.clickhouseClient.HealthCheck))
	}
	_ = g.Wait()

	return healthErrors
}

// Ready fails when a required backend is unreachable. Optional backends
// only degrade the service.
func (f *Factory) Ready(ctx context.Context) error {
	healthErrors := f.HealthCheck(ctx)
	for _, name := range []string{"redis", "store"} {
		if err := healthErrors[name]; err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for name, err := range healthErrors {
		util.Warn("Optional backend unhealthy", util.String("backend", name), util.ErrorField(err))
	}
	return nil
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.tracker != nil {
			if err := f.tracker.Close(); err != nil {
				util.Error("Failed to flush analytics", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.publisher != nil {
			if err := f.publisher.Close(); err != nil {
				util.Error("Failed to close event publisher", util.ErrorField(err))
			} else {
				util.Info("Event publisher closed")
			}
		}

		if f.store != nil {
			f.store.Close()
			util.Info("Record store closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

func (f *Factory) Scheduler() *scheduler.Scheduler {
	return f.scheduler
}

func (f *Factory) Publisher() events.Publisher {
	return f.publisher
}

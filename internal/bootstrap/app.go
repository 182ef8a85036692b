package bootstrap

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"translator-backend/internal/batch"
	"translator-backend/internal/direct"
	"translator-backend/internal/llm"
	openai "translator-backend/internal/llm/openai"
	"translator-backend/internal/orchestrator"
	"translator-backend/internal/queue"
	"translator-backend/internal/shared/config"
	"translator-backend/internal/shared/server"
	"translator-backend/internal/shared/storage/cache"
	"translator-backend/internal/shared/storage/db"
	"translator-backend/internal/shared/storage/mongodb"
	"translator-backend/internal/shared/storage/object"
	localstore "translator-backend/internal/shared/storage/object/local"
	s3store "translator-backend/internal/shared/storage/object/s3"
	"translator-backend/internal/shared/telemetry"
	"translator-backend/internal/translations"
)

// batchStateTTL outlives the provider's 24h completion window with room for
// late polls after an outage.
const batchStateTTL = 72 * time.Hour

// Role selects how jobs reach the orchestrator.
type Role int

const (
	// RoleAPI serves HTTP. Jobs go to the queue when one is configured and
	// are started in-process otherwise.
	RoleAPI Role = iota
	// RoleWorker consumes the queue and never enqueues.
	RoleWorker
	// RoleLocal runs everything in-process, as the CLI does.
	RoleLocal
)

// App holds shared dependencies.
type App struct {
	Config config.Config
	Router *gin.Engine

	DB          *sql.DB
	Mongo       *mongo.Client
	Cache       cache.Cache
	Store       object.ObjectStore
	QueueClient queue.Client
	AMQP        *queue.AMQPClient

	Jobs               translations.Repo
	BatchStates        batch.StateStore
	Batch              *batch.Client
	Direct             *direct.Runner
	Orchestrator       *orchestrator.Orchestrator
	TranslationService *translations.Service
	TranslationHandler *translations.Handler
}

// Build prepares every dependency for role and wires the router.
func Build(ctx context.Context, cfg config.Config, role Role) (*App, error) {
	telemetry.Configure(os.Stdout, cfg.LogLevel)
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	app := &App{Config: cfg}

	if err := app.buildJobStore(ctx, role); err != nil {
		app.Close()
		return nil, err
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = store
	if err := app.buildBatchStates(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.buildQueue(ctx, role); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.buildTranslation(); err != nil {
		app.Close()
		return nil, err
	}

	svc := &translations.Service{
		Repo:        app.Jobs,
		Store:       app.Store,
		DefaultMode: cfg.TranslationMode,
		DownloadTTL: cfg.DownloadURLTTL,
	}
	if cfg.StatusPollWindow > 0 {
		svc.Polls = translations.NewPollLimiter(cfg.StatusPollWindow, nil)
	}
	if role == RoleAPI && app.QueueClient != nil {
		svc.Queue = queue.NewJobQueue(app.QueueClient)
	} else {
		svc.Starter = app.Orchestrator
	}
	app.TranslationService = svc
	app.TranslationHandler = translations.NewHandler(svc)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:             cfg,
		TranslationHandler: app.TranslationHandler,
		Ready:              app.Ready,
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":          cfg.Env,
		"job_store":    cfg.JobStore,
		"object_store": cfg.ObjectStoreType,
		"queue":        cfg.QueueBackend,
		"mode":         cfg.TranslationMode,
		"batch":        app.Batch != nil,
	})
	return app, nil
}

// InProcess reports whether jobs created by this app run in this process,
// in which case it must also resume them after a restart.
func (a *App) InProcess() bool {
	return a.TranslationService != nil && a.TranslationService.Starter != nil
}

// Ready checks the backing services.
func (a *App) Ready() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if a.DB != nil {
		if err := db.Ping(ctx, a.DB); err != nil {
			return err
		}
	}
	if a.Mongo != nil {
		if err := a.Mongo.Ping(ctx, nil); err != nil {
			return errors.Wrap(err, "mongo")
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Ping(ctx); err != nil {
			return errors.Wrap(err, "redis")
		}
	}
	return nil
}

// Close stops the orchestrator and releases connections.
func (a *App) Close() {
	if a.Orchestrator != nil {
		a.Orchestrator.Stop()
	}
	if a.AMQP != nil {
		_ = a.AMQP.Close()
	}
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.Mongo != nil {
		_ = a.Mongo.Disconnect(context.Background())
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

func (a *App) buildJobStore(ctx context.Context, role Role) error {
	cfg := a.Config
	switch cfg.JobStore {
	case "postgres":
		defaults := db.DefaultServerOptions()
		if role != RoleAPI {
			defaults = db.DefaultWorkerOptions()
		}
		sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(defaults))
		if err != nil {
			if isDevLike(cfg.Env) {
				telemetry.Warn("bootstrap.db.fallback_memory", map[string]any{"error": err.Error()})
				a.Jobs = translations.NewMemoryRepo()
				return nil
			}
			return err
		}
		a.DB = sqlDB
		a.Jobs = &translations.PGRepo{DB: sqlDB}
	case "mongo":
		client, database, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return err
		}
		a.Mongo = client
		repo, err := translations.NewMongoRepo(ctx, database)
		if err != nil {
			return err
		}
		a.Jobs = repo
	default:
		if !isDevLike(cfg.Env) {
			return errors.New("DATABASE_URL or MONGO_URI is required outside dev")
		}
		telemetry.Warn("bootstrap.job_store.memory", map[string]any{"env": cfg.Env})
		a.Jobs = translations.NewMemoryRepo()
	}
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, errors.New("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func (a *App) buildBatchStates(ctx context.Context) error {
	cfg := a.Config
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		a.BatchStates = batch.NewMemoryStore()
		return nil
	}
	redisCache, err := cache.NewRedisCache(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
	})
	if err != nil {
		return err
	}
	a.Cache = redisCache
	a.BatchStates = batch.NewCacheStore(redisCache, batchStateTTL)
	return nil
}

func (a *App) buildQueue(ctx context.Context, role Role) error {
	cfg := a.Config
	if role == RoleLocal {
		return nil
	}
	switch cfg.QueueBackend {
	case "sqs":
		client, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
		if err != nil {
			return err
		}
		a.QueueClient = client
	case "amqp":
		client, err := queue.NewAMQPClient(cfg.AMQPURL, cfg.AMQPQueue, cfg.WorkerConcurrency)
		if err != nil {
			return err
		}
		a.AMQP = client
		a.QueueClient = client
	}
	return nil
}

func (a *App) buildTranslation() error {
	cfg := a.Config
	progress := translations.Progress{
		DirectStart:    cfg.Progress.DirectStart,
		DirectEnd:      cfg.Progress.DirectEnd,
		BatchSubmitted: cfg.Progress.BatchSubmitted,
		BatchMax:       cfg.Progress.BatchMax,
		Reconstructing: cfg.Progress.Reconstructing,
	}.Normalize()

	translator := llm.Translator(llm.PlaceholderTranslator{})
	deps := orchestrator.Deps{Jobs: a.Jobs, Store: a.Store}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.OpenAIBaseURL)
		if err != nil {
			return err
		}
		translator = client
		a.Batch = batch.NewClient(client, a.BatchStates)
		deps.Batch = a.Batch
	} else {
		telemetry.Warn("bootstrap.llm.placeholder", map[string]any{"reason": "OPENAI_API_KEY is empty"})
	}

	a.Direct = direct.NewRunner(a.Jobs, translator, direct.NewScratch(a.Store), cfg.DirectRatePerMinute, progress)
	deps.Direct = a.Direct
	a.Orchestrator = orchestrator.New(deps, orchestrator.Config{
		Mode:         cfg.TranslationMode,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
		Progress:     progress,
	})
	return nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

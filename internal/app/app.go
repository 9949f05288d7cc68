// Package app assembles the dispatch pipeline from configuration. The API
// server, the cron dispatcher and the job-runner CLI all build the same
// graph through New.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"smsdispatch/internal/cache"
	"smsdispatch/internal/config"
	"smsdispatch/internal/db"
	"smsdispatch/internal/dispatch"
	"smsdispatch/internal/external"
	"smsdispatch/internal/queue"
	"smsdispatch/internal/scheduler"
	"smsdispatch/internal/types"
)

// App holds the wired components and the resources Close releases.
type App struct {
	Pool      *pgxpool.Pool
	Messages  *db.MessageRepository
	Ledger    *db.CreditLedger
	Engine    *dispatch.Engine
	Scheduler *scheduler.Scheduler
	Reclaimer *scheduler.Reclaimer
	Runner    *scheduler.TaskRunner

	// Receipts is nil when Redis is not configured.
	Receipts *cache.RedisReceiptCache

	redis *redis.Client
}

// New connects to Postgres (and Redis and SQS when configured) and builds
// the engine, scheduler and reclaimer. metrics may be nil.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics dispatch.Metrics) (*App, error) {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	a := &App{
		Pool:     pool,
		Messages: db.NewMessageRepository(pool),
		Ledger:   db.NewCreditLedger(pool),
	}

	var receipts dispatch.ReceiptStore = cache.NoopReceiptCache{}
	if cfg.Redis.Enabled() {
		a.redis = cache.NewRedisClient(cfg.Redis)
		a.Receipts = cache.NewRedisReceiptCache(a.redis, cfg.Redis.ReceiptTTL)
		receipts = a.Receipts
	}

	events, err := newPublisher(ctx, cfg.AWS, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Engine = dispatch.NewEngine(dispatch.Deps{
		Messages:   a.Messages,
		Gateways:   db.NewGatewayRepository(pool),
		Credits:    a.Ledger,
		Sender:     external.NewRegistryFromConfig(cfg, logger),
		Receipts:   receipts,
		Events:     events,
		Metrics:    metrics,
		Classifier: dispatch.ClassifierFromConfig(cfg.Dispatch),
		Logger:     types.NewSlogLogger(logger.With("component", "dispatch")),
	}, dispatch.PolicyFromConfig(cfg.Dispatch))

	a.Scheduler = scheduler.NewScheduler(a.Messages, a.Engine, metrics, nil,
		logger.With("component", "scheduler"), scheduler.OptionsFromConfig(cfg.Scheduler))
	a.Reclaimer = scheduler.NewReclaimer(a.Messages, metrics,
		logger.With("component", "reclaimer"), cfg.Dispatch.StaleAfter, cfg.Dispatch.ReclaimBatchSize)
	a.Runner = &scheduler.TaskRunner{Scheduler: a.Scheduler, Reclaimer: a.Reclaimer}

	return a, nil
}

// Close releases Redis and the database pool.
func (a *App) Close() error {
	var err error
	if a.redis != nil {
		err = a.redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	return err
}

// LoadAWSConfig loads the SDK config for region, honoring an endpoint
// override for LocalStack.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config (region=%s): %w", cfg.Region, err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

func newPublisher(ctx context.Context, cfg config.AWSConfig, logger *slog.Logger) (dispatch.EventPublisher, error) {
	if cfg.DeliveryEventsQueue == "" {
		return queue.NoopPublisher{}, nil
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return queue.NewEventPublisher(sqs.NewFromConfig(awsCfg), cfg.DeliveryEventsQueue, logger), nil
}

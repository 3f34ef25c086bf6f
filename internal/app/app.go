package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"geodatenbezug/internal/config"
	"geodatenbezug/internal/domain"
	"geodatenbezug/internal/infrastructure/geodienste"
	"geodatenbezug/internal/infrastructure/metrics"
	"geodatenbezug/internal/infrastructure/notify"
	"geodatenbezug/internal/infrastructure/ops"
	"geodatenbezug/internal/infrastructure/scheduler"
	"geodatenbezug/internal/infrastructure/storage"
	"geodatenbezug/internal/infrastructure/telegram"
	"geodatenbezug/internal/infrastructure/tokens"
	"geodatenbezug/internal/logging"
	"geodatenbezug/internal/ports"
	"geodatenbezug/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	client   *geodienste.Client
	filter   *usecase.FreshnessFilter
	pipeline *usecase.Pipeline
	metrics  *metrics.Prometheus
	db       *sql.DB
	redis    *redis.Client
}

// New builds the application. Optional adapters (Postgres, S3, Redis, mail,
// Telegram) are only wired when their configuration is present.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	a := &Application{cfg: cfg, logger: baseLogger, metrics: metrics.NewPrometheus()}
	clock := clockwork.NewRealClock()
	loc := cfg.Scheduler.Location()

	a.client = geodienste.NewClient(&http.Client{Timeout: cfg.Geodienste.RequestTimeout}, geodienste.Options{
		BaseURL:      cfg.Geodienste.BaseURL,
		Language:     cfg.Geodienste.Language,
		User:         cfg.Geodienste.User,
		Password:     cfg.Geodienste.Password,
		PollInterval: cfg.Geodienste.PollInterval,
		PollTimeout:  cfg.Geodienste.PollTimeout,
		Clock:        clock,
		Logger:       baseLogger.With("component", "geodienste"),
		Metrics:      a.metrics,
	})

	resolver, err := newTokenResolver(ctx, cfg.Tokens)
	if err != nil {
		return nil, err
	}

	store, err := newArtifactStore(ctx, cfg.Storage, clock, loc)
	if err != nil {
		return nil, err
	}

	var repository ports.OutcomeRepository
	if cfg.Database.DSN != "" {
		db, err := storage.OpenPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		a.db = db
		repo := storage.NewPostgresRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
		if cfg.Processing.DedupEnabled() {
			repository = repo
		} else {
			repository = historyOnly{repo}
		}
	}

	var lock ports.RunLock
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lock = scheduler.NewRedisLock(a.redis, cfg.Redis.LockKey)
	}

	a.filter = usecase.NewFreshnessFilter(clock, loc, cfg.Processing.FreshnessWindow, baseLogger.With("component", "freshness"))

	processor := usecase.NewTopicProcessor(usecase.ProcessorDeps{
		API:      a.client,
		Tokens:   resolver,
		Store:    store,
		Location: loc,
		Logger:   baseLogger.With("component", "processor"),
	})

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:      a.client,
		Filter:      a.filter,
		Processor:   processor,
		Repository:  repository,
		Notifier:    a.notifier(loc),
		Metrics:     a.metrics,
		Lock:        lock,
		LockTTL:     cfg.Processing.LockTTL,
		Clock:       clock,
		Location:    loc,
		Concurrency: cfg.Processing.Concurrency,
		Logger:      baseLogger.With("component", "pipeline"),
	})

	return a, nil
}

// Run performs a single pipeline execution.
func (a *Application) Run(ctx context.Context) (domain.Run, error) {
	return a.pipeline.Run(ctx)
}

// Serve runs the cron trigger and the ops server until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	driver, err := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, scheduler.Options{
		Location:     a.cfg.Scheduler.Location(),
		RunOnStartup: a.cfg.Scheduler.StartOnBoot(),
	})
	if err != nil {
		return err
	}

	sched := usecase.NewScheduler(driver, a.pipeline, a.logger.With("component", "scheduler"))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started",
		"cron", a.cfg.Scheduler.CronExpression,
		"next", driver.Next(clockwork.NewRealClock().Now()))

	serveErr := a.opsServer().Serve(ctx)

	stopErr := sched.Stop(context.WithoutCancel(ctx))
	return errors.Join(serveErr, stopErr)
}

func (a *Application) opsServer() *ops.Server {
	return ops.NewServer(ops.Deps{
		Addr:    a.cfg.Ops.Addr,
		Trigger: a.pipeline.Run,
		Running: a.pipeline.Running,
		Metrics: a.metrics.Handler(),
		Logger:  a.logger.With("component", "ops"),
	})
}

// Topics fetches the current catalog state and the subset that is due.
func (a *Application) Topics(ctx context.Context) ([]domain.TopicStatus, []domain.TopicStatus, error) {
	statuses, err := a.client.FetchTopicStatuses(ctx)
	if err != nil {
		return nil, nil, err
	}
	due, err := a.filter.SelectDue(statuses)
	if err != nil {
		return statuses, nil, err
	}
	return statuses, due, nil
}

// Close releases database and Redis connections.
func (a *Application) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

func (a *Application) notifier(loc *time.Location) ports.Notifier {
	var notifiers notify.Multi
	mail := a.cfg.Notifications.Mail
	if mail.Host != "" {
		notifiers = append(notifiers, notify.NewMailer(notify.MailConfig{
			Host:     mail.Host,
			Port:     mail.Port,
			User:     mail.User,
			Password: mail.Password,
			From:     mail.From,
			To:       mail.To,
			Cc:       mail.Cc,
		}, nil, loc, a.logger.With("component", "mail")))
	}
	tg := a.cfg.Notifications.Telegram
	if tg.BotToken != "" && tg.ChatID != "" {
		notifiers = append(notifiers, telegram.NewNotifier(tg.BotToken, tg.ChatID))
	}
	if len(notifiers) == 0 {
		return nil
	}
	return notifiers
}

func newTokenResolver(ctx context.Context, cfg config.TokensConfig) (ports.TokenResolver, error) {
	switch cfg.Source {
	case "", config.TokenSourceEnv:
		return tokens.NewEnvResolver(), nil
	case config.TokenSourceConfig:
		return tokens.NewStaticResolver(cfg.Settings), nil
	case config.TokenSourceSecretsManager:
		return tokens.NewSecretsManagerResolverFromEnv(ctx, cfg.Region, cfg.SecretPrefix)
	default:
		return nil, fmt.Errorf("unknown token source %q", cfg.Source)
	}
}

func newArtifactStore(ctx context.Context, cfg config.StorageConfig, clock clockwork.Clock, loc *time.Location) (ports.ArtifactStore, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		PathStyle: cfg.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	return storage.NewS3Store(client, s3.NewPresignClient(client), nil, storage.S3Options{
		Bucket:     cfg.Bucket,
		Prefix:     cfg.Prefix,
		PresignTTL: cfg.PresignTTL,
		Clock:      clock,
		Location:   loc,
	}), nil
}

// historyOnly records runs without skipping already exported topics.
type historyOnly struct {
	ports.OutcomeRepository
}

func (historyOnly) AlreadyExported(context.Context, []domain.TopicStatus) (map[string]bool, error) {
	return map[string]bool{}, nil
}

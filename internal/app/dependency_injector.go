package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	mio "github.com/you-humble/degreegen/core/libs/minio"
	natsq "github.com/you-humble/degreegen/core/libs/nats"
	rediscli "github.com/you-humble/degreegen/core/libs/redis"
	"github.com/you-humble/degreegen/internal/archiver"
	"github.com/you-humble/degreegen/internal/converter"
	"github.com/you-humble/degreegen/internal/infra/config"
	"github.com/you-humble/degreegen/internal/infra/progress"
	"github.com/you-humble/degreegen/internal/infra/queue"
	filestore "github.com/you-humble/degreegen/internal/infra/store/file"
	recordstore "github.com/you-humble/degreegen/internal/infra/store/record"
	taskstore "github.com/you-humble/degreegen/internal/infra/store/task"
	"github.com/you-humble/degreegen/internal/pipeline"
	"github.com/you-humble/degreegen/internal/render"
	"github.com/you-humble/degreegen/internal/runner"
	"github.com/you-humble/degreegen/internal/transport"
	"github.com/you-humble/degreegen/internal/usecase"
	"github.com/you-humble/degreegen/internal/worker"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

type Consumer interface {
	Run(ctx context.Context) error
	Stop(ctx context.Context)
}

type TaskStore interface {
	usecase.TaskStore
	progress.TaskStore
	runner.Claimer
	worker.TaskStore
}

type dependencyInjector struct {
	cfgPath string
	cfg     *config.Config
	logger  *slog.Logger

	redis     *redis.Client
	taskStore TaskStore

	fileStore filestore.FileStore
	// closeFileStore stops MinIO replication, nil for a local-only store.
	closeFileStore func(context.Context) error

	db      *gorm.DB
	records usecase.RecordSource

	natsConn *nats.Conn
	js       nats.JetStreamContext
	bus      *progress.Bus

	pipeline *pipeline.Pipeline
	local    *runner.Local
	runner   usecase.Runner
	cleaner  *worker.Cleaner

	usecase transport.Usecase
	handler transport.Handler
	router  Router
}

func newDI(cfgPath string) *dependencyInjector {
	return &dependencyInjector{cfgPath: cfgPath}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(di.cfgPath)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		var level slog.Level
		if err := level.UnmarshalText([]byte(di.Config().LogLevel)); err != nil {
			level = slog.LevelInfo
		}
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(di.logger)
	}

	return di.logger
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := rediscli.NewClient(ctx, rediscli.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("Redis: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) TaskStore(ctx context.Context) TaskStore {
	if di.taskStore == nil {
		di.taskStore = taskstore.NewRedisTaskStore(di.RedisClient(ctx))
	}
	return di.taskStore
}

func (di *dependencyInjector) FileStore(ctx context.Context) filestore.FileStore {
	if di.fileStore == nil {
		cfg := di.Config()

		local, err := filestore.NewLocalStore(cfg.BaseDir)
		if err != nil {
			log.Fatalf("FileStore local: %+v", err)
		}
		di.Logger().Info("initialized local file store", slog.String("base_dir", cfg.BaseDir))

		if !cfg.MinIO.Enabled() {
			di.fileStore = local
			return di.fileStore
		}

		remote, err := filestore.NewMinIOStore(ctx, mio.Config{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			Bucket:          cfg.MinIO.Bucket,
			BasePath:        "degreegen",
		})
		if err != nil {
			log.Fatalf("FileStore minio: %+v", err)
		}
		di.Logger().Info(
			"initialized MinIO file store",
			slog.String("endpoint", cfg.MinIO.Endpoint),
			slog.String("bucket", cfg.MinIO.Bucket),
		)

		async := filestore.NewAsyncStore(ctx, local, remote, cfg.MinIO.QueueCapacity, cfg.MinIO.Workers, cfg.MinIO.MaxRetries)
		di.fileStore = async
		di.closeFileStore = async.Close
		di.Logger().Info(
			"using async file store (local + MinIO)",
			slog.Int("queue_size", cfg.MinIO.QueueCapacity),
			slog.Int("worker_num", cfg.MinIO.Workers),
			slog.Int("max_retries", cfg.MinIO.MaxRetries),
		)
	}

	return di.fileStore
}

func (di *dependencyInjector) DB() *gorm.DB {
	if di.db == nil {
		cfg := di.Config().Database
		db, err := recordstore.Open(recordstore.Config{
			Driver:          cfg.Driver,
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			log.Fatalf("Database: %+v", err)
		}
		di.db = db
		di.Logger().Info("opened database", slog.String("driver", cfg.Driver))
	}
	return di.db
}

func (di *dependencyInjector) RecordSource() usecase.RecordSource {
	if di.records == nil {
		di.records = recordstore.NewGormRecordStore(di.DB())
	}
	return di.records
}

func (di *dependencyInjector) NATSConn(ctx context.Context) *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config().NATS
		nc, err := natsq.NewConnect(cfg.URL, natsq.Config{
			Name:          cfg.Name,
			MaxReconnects: cfg.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}
		di.natsConn = nc
		di.Logger().Info("connected to NATS", slog.String("url", cfg.URL))
	}
	return di.natsConn
}

func (di *dependencyInjector) JetStream(ctx context.Context) nats.JetStreamContext {
	if di.js == nil {
		cfg := di.Config()
		js, err := natsq.NewJetStream(di.NATSConn(ctx), &nats.StreamConfig{
			Name:       cfg.NATS.Stream,
			Subjects:   []string{cfg.NATS.JobSubject},
			Retention:  nats.WorkQueuePolicy,
			Storage:    nats.FileStorage,
			Replicas:   1,
			MaxAge:     2 * cfg.TaskTTL,
			Duplicates: cfg.TaskTTL,
		})
		if err != nil {
			log.Fatalf("DI JetStream: %+v", err)
		}

		di.js = js
	}
	return di.js
}

func (di *dependencyInjector) ProgressBus(ctx context.Context) *progress.Bus {
	if di.bus == nil {
		di.bus = progress.NewBus(di.NATSConn(ctx), di.Config().NATS.SubjectPrefix)
	}
	return di.bus
}

func (di *dependencyInjector) Pipeline(ctx context.Context) *pipeline.Pipeline {
	if di.pipeline == nil {
		cfg := di.Config()

		renderer, err := render.NewDocxRenderer(cfg.TemplatePath)
		if err != nil {
			log.Fatalf("Template: %+v", err)
		}

		conv := converter.NewLibreOffice(converter.Config{
			Binary:       cfg.Converter.Binary,
			Format:       cfg.Converter.Format,
			MaxRetries:   cfg.Converter.MaxRetries,
			InitialDelay: cfg.Converter.InitialDelay,
			RetryDelay:   cfg.Converter.RetryDelay,
		})

		di.pipeline = pipeline.New(
			renderer,
			converter.NewPool(conv, cfg.Converter.Workers),
			archiver.New(di.FileStore(ctx), cfg.ArchiveDir),
			progress.NewTracker(di.TaskStore(ctx), di.ProgressBus(ctx)),
			cfg.StagingDir,
		)
		di.Logger().Info("pipeline ready",
			slog.String("template", cfg.TemplatePath),
			slog.String("converter", cfg.Converter.Binary),
			slog.Int("converter_workers", cfg.Converter.Workers),
		)
	}
	return di.pipeline
}

// Runner is the in-process runner or the JetStream queue, per runner.mode.
func (di *dependencyInjector) Runner(ctx context.Context) usecase.Runner {
	if di.runner == nil {
		cfg := di.Config()
		switch cfg.Runner.Mode {
		case config.RunnerJetStream:
			di.runner = runner.NewQueued(queue.New(di.JetStream(ctx), cfg.NATS.JobSubject))
		default:
			di.local = runner.NewLocal(di.TaskStore(ctx), di.Pipeline(ctx), cfg.Runner.QueueCapacity, cfg.Runner.Workers)
			di.runner = di.local
		}
		di.Logger().Info("task runner", slog.String("mode", cfg.Runner.Mode))
	}
	return di.runner
}

func (di *dependencyInjector) Consumer(ctx context.Context) Consumer {
	cfg := di.Config()
	return worker.NewConsumer(
		di.JetStream(ctx),
		cfg.NATS.Stream,
		cfg.NATS.JobSubject,
		cfg.NATS.Durable,
		cfg.Runner.Workers,
		cfg.Runner.AckWait,
		di.TaskStore(ctx),
		di.Pipeline(ctx),
	)
}

func (di *dependencyInjector) Cleaner(ctx context.Context) *worker.Cleaner {
	if di.cleaner == nil {
		cfg := di.Config()
		di.cleaner = worker.NewCleaner(cfg.TaskCleanupInterval, cfg.TaskTTL, di.TaskStore(ctx), di.FileStore(ctx))
	}
	return di.cleaner
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		di.usecase = usecase.New(
			di.Config().TaskTTL,
			di.RecordSource(),
			di.TaskStore(ctx),
			di.FileStore(ctx),
			di.Runner(ctx),
			di.ProgressBus(ctx),
		)
	}

	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		di.handler = transport.NewHandler(di.Usecase(ctx))
	}

	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		admin := di.Config().Admin
		di.router = transport.NewRouter(di.Handler(ctx), transport.Credentials{
			User:     admin.User,
			Password: admin.Password,
		})
	}

	return di.router
}

// Close releases connections in reverse order of use.
func (di *dependencyInjector) Close(ctx context.Context) {
	if di.closeFileStore != nil {
		if err := di.closeFileStore(ctx); err != nil {
			slog.Warn("close file store", slog.String("error", err.Error()))
		}
	}
	if di.natsConn != nil {
		if err := di.natsConn.Drain(); err != nil {
			slog.Warn("NATS drain", slog.String("error", err.Error()))
		}
	}
	if di.redis != nil {
		if err := di.redis.Close(); err != nil {
			slog.Warn("redis close", slog.String("error", err.Error()))
		}
	}
	if di.db != nil {
		if sqlDB, err := di.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

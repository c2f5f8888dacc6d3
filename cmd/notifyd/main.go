// Command notifyd runs the notification delivery service: the HTTP and
// real-time API, the bulk queue worker and the periodic jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/notifykit/pkg/archive"
	"github.com/dmitrymomot/notifykit/pkg/config"
	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/environment"
	"github.com/dmitrymomot/notifykit/pkg/httpapi"
	"github.com/dmitrymomot/notifykit/pkg/httpserver"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/metrics"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/notifications/pgstore"
	"github.com/dmitrymomot/notifykit/pkg/pg"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/queue/pgqueue"
	"github.com/dmitrymomot/notifykit/pkg/realtime"
	"github.com/dmitrymomot/notifykit/pkg/redis"
	"github.com/dmitrymomot/notifykit/pkg/scheduler"
	"github.com/dmitrymomot/notifykit/pkg/templates"
	"github.com/dmitrymomot/notifykit/pkg/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("notifyd stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return err
	}

	env := environment.Parse(cfg.AppEnv)
	logOpts := []logger.Option{
		logger.WithEnvironment(env, cfg.ServiceName),
		logger.WithContextExtractors(httpapi.RequestIDExtractor()),
	}
	if cfg.LogLevel != "" {
		logOpts = append(logOpts, logger.WithLevelName(cfg.LogLevel))
	}
	log := logger.New(logOpts...)
	slog.SetDefault(log)
	ctx = environment.WithContext(ctx, env)

	// Storage and queue.
	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Postgres.AutoMigrate {
		if err := pgstore.Migrate(ctx, pool, cfg.Postgres, log); err != nil {
			return err
		}
		if err := pgqueue.Migrate(ctx, pool, cfg.Postgres, log); err != nil {
			return err
		}
	}

	tasks := pgqueue.New(pool)
	enqueuer, err := queue.NewEnqueuer(tasks, queue.WithDefaultQueue(cfg.QueueName))
	if err != nil {
		return err
	}

	health := []httpapi.Option{httpapi.WithHealthCheck("postgres", pg.Healthcheck(pool))}

	var locker scheduler.Locker
	if cfg.Redis.Enabled() {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		locker = redis.NewLocker(client, cfg.Redis.LockPrefix)
		health = append(health, httpapi.WithHealthCheck("redis", redis.Healthcheck(client)))
	}

	m := metrics.New(cfg.MetricsNamespace)

	// Channels.
	catalog, err := loadCatalog(cfg.TemplatesPath)
	if err != nil {
		return err
	}
	mailer, err := email.New(cfg.Email)
	if err != nil {
		return err
	}

	bridge := &managerBridge{}
	hub := realtime.NewHub(
		realtime.WithLogger(log),
		realtime.WithInboundHandler(bridge),
		realtime.WithConnectHandler(bridge),
		realtime.WithAllowedOrigins(cfg.AllowedOrigins...),
	)

	routes := []notifications.Route{
		{Channel: notifications.ChannelInApp, Sender: notifications.NewInAppSender(hub)},
		{Channel: notifications.ChannelEmail, Sender: notifications.NewEmailSender(mailer, catalog)},
		{Channel: notifications.ChannelSMS, Sender: notifications.UnimplementedSender{Channel: notifications.ChannelSMS}},
		{Channel: notifications.ChannelPush, Sender: notifications.UnimplementedSender{Channel: notifications.ChannelPush}},
	}
	var webhooks *notifications.WebhookSender
	if cfg.Webhook.Enabled() {
		dispatcher, err := webhook.NewDispatcher(cfg.Webhook, webhook.WithLogger(log))
		if err != nil {
			return err
		}
		webhooks = notifications.NewWebhookSender(dispatcher, cfg.Webhook.Timeout*time.Duration(cfg.Webhook.MaxRetries+1), log)
		routes = append(routes, notifications.Route{Channel: notifications.ChannelWebhook, Sender: webhooks})
	}

	managerOpts := []notifications.ManagerOption{
		notifications.WithManagerLogger(log),
		notifications.WithRecorder(m),
		notifications.WithEnqueuer(enqueuer),
		notifications.WithBatchSize(cfg.BatchSize),
		notifications.WithBatchPause(cfg.BatchPause),
		notifications.WithDeferDelay(cfg.DeferDelay),
	}
	if cfg.Archive.Enabled() {
		archiver, err := archive.NewS3Archiver(ctx, cfg.Archive, archive.WithLogger(log))
		if err != nil {
			return err
		}
		managerOpts = append(managerOpts, notifications.WithArchiver(archiver))
	}

	manager := notifications.NewManager(pgstore.New(pool), notifications.NewRegistry(routes...), managerOpts...)
	bridge.manager = manager

	// Background work.
	worker, err := queue.NewWorker(tasks,
		queue.WithQueues(cfg.QueueName),
		queue.WithMaxConcurrentTasks(cfg.QueueConcurrency),
		queue.WithPullInterval(cfg.QueuePullInterval),
		queue.WithWorkerLogger(log),
	)
	if err != nil {
		return err
	}
	worker.RegisterHandlers(manager.BulkHandler())

	sched, err := newScheduler(cfg, log, locker, m, manager, tasks)
	if err != nil {
		return err
	}

	api := httpapi.New(manager, append(health,
		httpapi.WithLogger(log),
		httpapi.WithJobs(sched),
		httpapi.WithStreams(hub),
		httpapi.WithMetricsHandler(m.Handler()),
		httpapi.WithMiddleware(m.Middleware),
	)...)

	server := httpserver.NewFromConfig(cfg.HTTP,
		httpserver.WithLogger(log),
		httpserver.WithShutdownHook(sched.Stop),
		httpserver.WithShutdownHook(func(context.Context) error { return hub.Close() }),
		httpserver.WithShutdownHook(func(context.Context) error {
			if webhooks != nil {
				webhooks.Wait()
			}
			return manager.Close()
		}),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx, api.Routes()) })
	g.Go(worker.Run(ctx))
	g.Go(func() error {
		hub.Forward(ctx, manager.Subscribe(ctx))
		return nil
	})
	g.Go(func() error {
		m.TrackPresence(ctx, hub.Events(ctx))
		return nil
	})
	if cfg.Scheduler.Enabled {
		sched.Start()
	}

	log.InfoContext(ctx, "notifyd started",
		slog.String("addr", cfg.HTTP.Addr),
		slog.Bool("redis", locker != nil),
		slog.Bool("webhooks", webhooks != nil),
		slog.Bool("archive", cfg.Archive.Enabled()),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("notifyd stopped")
	return nil
}

func loadCatalog(path string) (*templates.Catalog, error) {
	if path == "" {
		return templates.Default()
	}
	catalog, err := templates.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load templates from %s: %w", path, err)
	}
	return catalog, nil
}

func newScheduler(cfg Config, log *slog.Logger, locker scheduler.Locker, rec scheduler.Recorder, manager *notifications.Manager, tasks *pgqueue.Store) (*scheduler.Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}

	opts := []scheduler.Option{
		scheduler.WithLogger(log),
		scheduler.WithRecorder(rec),
		scheduler.WithTimeout(cfg.Scheduler.JobTimeout),
		scheduler.WithLocation(loc),
	}
	if locker != nil {
		opts = append(opts, scheduler.WithLocker(locker))
	}
	sched := scheduler.New(opts...)

	jobs := scheduler.NotificationJobs(manager, cfg.Scheduler, time.Now)
	if cfg.Scheduler.CleanupSpec != "" && cfg.QueueRetentionDays > 0 {
		jobs = append(jobs, scheduler.Job{
			Name: "queue_cleanup",
			Spec: cfg.Scheduler.CleanupSpec,
			Run: func(ctx context.Context) error {
				n, err := tasks.DeleteFinished(ctx, time.Now().AddDate(0, 0, -cfg.QueueRetentionDays))
				if err == nil && n > 0 {
					log.InfoContext(ctx, "finished queue tasks removed", logger.Count(n))
				}
				return err
			},
		})
	}
	if err := sched.RegisterAll(jobs...); err != nil {
		return nil, err
	}
	return sched, nil
}

// managerBridge lets the hub call into the manager, which is built after
// the hub because its in-app sender pushes through it.
type managerBridge struct {
	manager *notifications.Manager
}

func (b *managerBridge) HandleInbound(ctx context.Context, userID string, msg notifications.InboundMessage) error {
	return b.manager.HandleInbound(ctx, userID, msg)
}

func (b *managerBridge) HandleConnect(ctx context.Context, userID string, push notifications.PushFunc) (int, error) {
	return b.manager.HandleConnect(ctx, userID, push)
}

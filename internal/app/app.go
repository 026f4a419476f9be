// Package app builds every component from configuration and owns their
// lifecycle. It is the only place engines are constructed outside tests.
package app

import (
	"context"
	"fmt"
	"net/http"
	stdsync "sync"
	"time"

	"admissions-workers/internal/adminlog"
	"admissions-workers/internal/analytics"
	"admissions-workers/internal/api"
	"admissions-workers/internal/cache"
	"admissions-workers/internal/common/aws"
	"admissions-workers/internal/common/camunda"
	"admissions-workers/internal/common/config"
	"admissions-workers/internal/common/database"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/notify"
	"admissions-workers/internal/store"
	feedsync "admissions-workers/internal/sync"
	"admissions-workers/internal/transition"
	approveapplication "admissions-workers/internal/workers/applications/approve-application"
	deleteapplication "admissions-workers/internal/workers/applications/delete-application"
	rejectapplication "admissions-workers/internal/workers/applications/reject-application"
	syncfeed "admissions-workers/internal/workers/applications/sync-feed"
)

type App struct {
	Config      *config.Config
	Store       store.Store
	Cache       *cache.Cache
	Sync        *feedsync.Engine
	Runner      *feedsync.Runner
	Transitions *transition.Engine
	AdminLog    *adminlog.Recorder
	Server      *api.Server

	log      logger.Logger
	closers  []func() error
	optional map[string]api.Pinger
	zeebe    *camunda.Client
	workers  []*camunda.Worker
}

// Options overrides pieces of the wiring, mostly for tests and the CLI.
type Options struct {
	// Store replaces the configured store driver.
	Store store.Store
	// Fetcher replaces the HTTP feed fetcher.
	Fetcher feedsync.Fetcher
	// SkipWorkers keeps Zeebe job workers closed even when camunda is enabled.
	SkipWorkers bool
	// Ops receives per-request operation metrics.
	Ops api.OperationRecorder
}

// New connects to the configured backends and builds the engines. Optional
// backends (redis sync state, elasticsearch, AWS) degrade with a warning.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, log: logger.ForComponent(log, "app"), optional: map[string]api.Pinger{}}

	tables := store.Tables{
		Applications: cfg.Store.ApplicationsTable,
		Approved:     cfg.Store.ApprovedTable,
		Rejected:     cfg.Store.RejectedTable,
		Payments:     cfg.Store.PaymentsTable,
		AdminLogs:    cfg.Store.AdminLogsTable,
	}

	s, err := a.openStore(ctx, opts.Store, tables, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = s

	var indexer adminlog.Indexer
	if x := a.openIndexer(ctx); x != nil {
		indexer = x
	}
	a.AdminLog = adminlog.NewRecorder(s, tables.AdminLogs, indexer, log)

	a.Cache = cache.New(s, tables.Applications, log)

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = feedsync.NewHTTPFetcher(cfg.Feed.URL, config.GetDuration(cfg.Feed.Timeout))
	}
	a.Sync = feedsync.NewEngine(feedsync.Config{
		ApplicationsTable:        tables.Applications,
		DefaultTotalInstallments: cfg.Transition.DefaultTotalInstallments,
		BackoffStart:             config.GetDuration(cfg.Sync.BackoffStart),
		BackoffMax:               config.GetDuration(cfg.Sync.BackoffMax),
	}, fetcher, s, a.Cache, a.openSyncState(ctx), a.AdminLog, log)
	a.Runner = feedsync.NewRunner(a.Sync, config.GetDuration(cfg.Sync.Interval), cfg.Sync.PauseWhenIdle, log)

	var notifier transition.Notifier
	if n := a.openNotifier(ctx); n != nil {
		notifier = n
	}
	a.Transitions = transition.NewEngine(transition.Config{
		Tables:                   tables,
		DefaultTotalInstallments: cfg.Transition.DefaultTotalInstallments,
		NotifyTimeout:            config.GetDuration(cfg.Transition.NotifyTimeout),
		DefaultUsername:          cfg.Transition.DefaultUsername,
	}, s, a.Cache, notifier, a.AdminLog, log)

	if cfg.Camunda.Enabled && !opts.SkipWorkers {
		if err := a.startWorkers(); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Server = api.NewServer(api.Deps{
		Cache:       a.Cache,
		Transitions: a.Transitions,
		Sync:        a.Sync,
		Visibility:  a.Runner,
		Logs:        a.AdminLog,
		Store:       s,
		Analytics:   a.AnalyticsOptions(),
		Ops:         opts.Ops,
		Optional:    a.optional,
	}, log)
	return a, nil
}

// AnalyticsOptions resolves the configured courses, capacity and timezone.
// An unknown timezone falls back to UTC.
func (a *App) AnalyticsOptions() analytics.Options {
	loc := time.UTC
	if tz := a.Config.Analytics.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			a.log.WithError(err).Warn("Unknown analytics timezone, using UTC", map[string]interface{}{"timezone": tz})
		} else {
			loc = l
		}
	}
	return analytics.Options{
		Courses:  a.Config.Analytics.Courses,
		Capacity: a.Config.Analytics.CourseCapacity,
		Location: loc,
	}
}

func (a *App) openStore(ctx context.Context, override store.Store, tables store.Tables, log logger.Logger) (store.Store, error) {
	if override != nil {
		return override, nil
	}
	if a.Config.Store.Driver == "memory" {
		a.log.Warn("Using in-memory store; data is lost on restart", nil)
		return store.NewMemory(), nil
	}

	var pg *database.PostgresClient
	err := retryWithBackoff(ctx, func() error {
		var err error
		pg, err = database.NewPostgres(ctx, a.Config.Database.Postgres)
		return err
	}, 5, 2*time.Second, a.log, "PostgreSQL connection")
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pg.Close)
	a.log.Info("PostgreSQL connected successfully", nil)

	if a.Config.Store.AutoMigrate {
		if err := store.EnsureSchema(ctx, pg.DB, tables); err != nil {
			return nil, fmt.Errorf("schema migration failed: %w", err)
		}
	}

	reconnect := config.GetDuration(a.Config.Store.ListenReconnectMS)
	listen := store.NewPQListenerFactory(pg.DSN, reconnect, 6*reconnect, logger.ForComponent(log, "store.listener"))
	return store.NewPostgres(pg.DB, listen, log), nil
}

// openSyncState returns nil (the engine's in-memory default) when redis is not
// configured or unreachable.
func (a *App) openSyncState(ctx context.Context) feedsync.StateStore {
	if a.Config.Sync.StateBackend != "redis" {
		return nil
	}
	rdb := database.NewRedis(a.Config.Database.Redis)
	if err := rdb.Ping(ctx); err != nil {
		a.log.WithError(err).Warn("Redis unavailable, sync state will not survive restarts", nil)
		_ = rdb.Close()
		return nil
	}
	a.closers = append(a.closers, rdb.Close)
	a.optional["redis"] = rdb
	a.log.Info("Redis connected successfully", nil)
	return feedsync.NewRedisStateStore(rdb.Client, a.Config.Sync.StateKeyPrefix)
}

func (a *App) openIndexer(ctx context.Context) *adminlog.ESIndexer {
	if !a.Config.Search.Enabled {
		return nil
	}
	es, err := database.NewElasticsearch(a.Config.Database.Elasticsearch)
	if err == nil {
		err = es.Ping(ctx)
	}
	if err != nil {
		a.log.WithError(err).Warn("Elasticsearch unavailable, admin logs will not be mirrored", nil)
		return nil
	}
	a.optional["elasticsearch"] = es
	a.log.Info("Elasticsearch connected successfully", nil)
	return adminlog.NewESIndexer(es.Client, a.Config.Search.Index)
}

func (a *App) openNotifier(ctx context.Context) *notify.AWSNotifier {
	n := a.Config.Notifications
	if !n.Email.Enabled && !n.SMS.Enabled {
		return nil
	}

	clients, err := aws.NewNotificationClients(ctx, n.AWS.Region, n.Email.Enabled, n.SMS.Enabled)
	if err != nil {
		a.log.WithError(err).Warn("AWS clients unavailable, notifications disabled", nil)
		return nil
	}
	// Typed nils must not reach the notifier's interfaces.
	var sesClient notify.SESService
	if clients.SES != nil {
		sesClient = clients.SES
	}
	var snsClient notify.SNSService
	if clients.SNS != nil {
		snsClient = clients.SNS
	}

	return notify.NewAWSNotifier(notify.Config{
		EmailEnabled: n.Email.Enabled,
		FromEmail:    n.Email.FromEmail,
		SMSEnabled:   n.SMS.Enabled,
		SenderID:     n.SMS.SenderID,
	}, sesClient, snsClient, a.log)
}

func (a *App) startWorkers() error {
	client, err := camunda.NewClient(a.Config.Camunda.BrokerAddress, config.GetDuration(a.Config.Camunda.RequestTimeout))
	if err != nil {
		return fmt.Errorf("zeebe client: %w", err)
	}
	a.zeebe = client
	a.optional["zeebe"] = client
	a.log.Info("Zeebe client connected successfully", nil)

	handlers := map[string]camunda.JobHandler{
		approveapplication.TaskType: approveapplication.NewHandler(
			approveapplication.LoadConfig(config.GetWorkerConfig(a.Config, approveapplication.TaskType)), a.Transitions, a.log),
		rejectapplication.TaskType: rejectapplication.NewHandler(
			rejectapplication.LoadConfig(config.GetWorkerConfig(a.Config, rejectapplication.TaskType)), a.Transitions, a.log),
		deleteapplication.TaskType: deleteapplication.NewHandler(
			deleteapplication.LoadConfig(config.GetWorkerConfig(a.Config, deleteapplication.TaskType)), a.Transitions, a.log),
		syncfeed.TaskType: syncfeed.NewHandler(
			syncfeed.LoadConfig(config.GetWorkerConfig(a.Config, syncfeed.TaskType)), a.Sync, a.log),
	}
	for taskType, h := range handlers {
		if !config.IsWorkerEnabled(a.Config, taskType) {
			a.log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
			continue
		}
		wc := config.GetWorkerConfig(a.Config, taskType)
		a.workers = append(a.workers, camunda.NewWorker(client.GetClient(), taskType, wc.MaxJobsActive, h, a.log))
	}
	return nil
}

// Run loads the cache, follows the change stream, starts the sync runner and
// serves HTTP until ctx ends, then shuts everything down in order.
func (a *App) Run(ctx context.Context) error {
	if err := a.Cache.Reload(ctx, cache.TriggerStartup); err != nil {
		a.log.WithError(err).Warn("Initial cache load failed, the first sync cycle will retry", nil)
	}

	var wg stdsync.WaitGroup
	if sub, err := a.Store.Subscribe(ctx, a.Config.Store.ApplicationsTable); err != nil {
		a.log.WithError(err).Warn("Change stream unavailable, relying on polling", nil)
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Cache.Watch(ctx, sub, nil)
		}()
	}

	if a.Config.Sync.Enabled {
		if err := a.Runner.Start(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:         a.Config.Server.Address,
		Handler:      a.Server.Router(),
		ReadTimeout:  config.GetDuration(a.Config.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(a.Config.Server.WriteTimeout),
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("HTTP server listening", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = err
	}

	a.log.Info("Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("HTTP shutdown incomplete", nil)
	}
	a.Runner.Stop()
	for _, w := range a.workers {
		w.Stop()
	}
	if err := a.Transitions.Drain(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("Pending notifications abandoned", nil)
	}
	wg.Wait()
	return runErr
}

// Close releases backend connections. Safe to call more than once.
func (a *App) Close() {
	if a.zeebe != nil {
		if err := a.zeebe.Close(); err != nil {
			a.log.WithError(err).Warn("Error closing Zeebe client", nil)
		}
		a.zeebe = nil
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("Error closing backend", nil)
		}
	}
	a.closers = nil
}

func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, name string) error {
	var err error
	delay := initialDelay
	for i := 0; i < maxRetries; i++ {
		if err = operation(); err == nil {
			return nil
		}
		if i == maxRetries-1 {
			break
		}
		log.WithError(err).Warn(name+" failed, retrying", map[string]interface{}{
			"attempt":     i + 1,
			"maxRetries":  maxRetries,
			"nextRetryIn": delay.String(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, maxRetries, err)
}

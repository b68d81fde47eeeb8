package app

import (
	"context"
	"errors"
	"io"
	"net/smtp"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"shelfwatch/internal/alerting"
	"shelfwatch/internal/alerts"
	"shelfwatch/internal/config"
	"shelfwatch/internal/freshness"
	"shelfwatch/internal/metrics"
	"shelfwatch/internal/sales"
	"shelfwatch/internal/scheduler"
	"shelfwatch/internal/server"
	"shelfwatch/internal/service"
	"shelfwatch/internal/source"
	"shelfwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	sendMail alerting.SendMailFunc
	out      io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:   cfg,
		Logger:   logger.With().Str("component", "app").Logger(),
		sendMail: smtp.SendMail,
		out:      os.Stdout,
	}
}

func (a *App) openStore(ctx context.Context) (storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close store")
		}
	}
	return store, closer, nil
}

func (a *App) location() *time.Location {
	loc, err := alerting.LoadLocation(a.Config.Notify.Timezone)
	if err != nil {
		a.Logger.Warn().Err(err).Str("timezone", a.Config.Notify.Timezone).Msg("falling back to UTC")
		return time.UTC
	}
	return loc
}

func (a *App) newNotifier() (alerting.Notifier, error) {
	var notifiers alerting.Multi

	if tg := a.Config.Notify.Telegram; tg.Enabled {
		notifiers = append(notifiers, alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, tg.Timeout, a.Logger))
	}
	if em := a.Config.Notify.Email; em.Enabled {
		email, err := alerting.NewEmailNotifier(alerting.EmailOptions{
			Host:     em.Host,
			Port:     em.Port,
			Username: em.Username,
			Password: em.Password,
			From:     em.From,
			To:       em.To,
		}, a.sendMail, a.Logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, email)
	}

	if len(notifiers) == 0 {
		return nil, nil
	}
	var out alerting.Notifier = notifiers
	if rl := a.Config.Notify.RateLimit; rl.Every > 0 {
		out = alerting.NewRateLimited(out, rl.Every, rl.Burst, a.Logger)
	}
	return out, nil
}

func (a *App) newEngines(store freshness.Store) (*sales.Engine, *alerts.Engine, *freshness.Tracker, error) {
	interval := a.Config.Scheduler.Interval

	salesEngine, err := sales.New(sales.Options{
		ConfirmIntervals:  a.Config.Sales.ConfirmIntervals,
		MinDeltaThreshold: a.Config.Sales.MinDeltaThreshold,
		Cooldown:          a.Config.Sales.Cooldown,
		SnapshotInterval:  interval,
	}, a.Logger)
	if err != nil {
		return nil, nil, nil, err
	}

	alertEngine, err := alerts.New(alerts.Options{
		LowStockThresholds:         a.Config.Alerts.LowStockThresholds,
		LowStockConfirmIntervals:   a.Config.Alerts.ConfirmIntervals,
		ExpirationConfirmIntervals: a.Config.Alerts.ExpirationConfirmIntervals,
		Cooldown:                   a.Config.Alerts.Cooldown,
		SnapshotInterval:           interval,
	}, a.Logger)
	if err != nil {
		return nil, nil, nil, err
	}

	tracker := freshness.NewTracker(freshness.Options{
		ExpirationDays: a.Config.Freshness.ExpirationDays,
		Tracked:        a.Config.Freshness.Tracked,
	}, store, a.Logger)

	return salesEngine, alertEngine, tracker, nil
}

func (a *App) newSource() (source.Source, *source.Push) {
	if a.Config.Source.Mode == config.SourcePoll {
		return source.NewPoller(source.PollerOptions{
			URL:       a.Config.Source.URL,
			Timeout:   a.Config.Source.Timeout,
			UserAgent: a.Config.Source.UserAgent,
		}, a.Logger), nil
	}
	push := source.NewPush(a.Config.Source.MaxAge)
	return push, push
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if sqlite, ok := store.(*storage.SQLiteStore); ok {
		res, err := sqlite.Maintain(ctx, a.Config.Database.Retention, a.Config.Database.KeepRecent)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("startup maintenance failed")
		} else if res.Snapshots > 0 {
			a.Logger.Info().Int64("snapshots", res.Snapshots).Msg("trimmed old snapshots")
		}
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var (
		persistence storage.PersistenceStore
		freshStore  freshness.Store
		eventLog    service.EventLog
		reader      storage.Reader
	)
	if store != nil {
		persistence, freshStore, eventLog, reader = store, store, store, store
	}

	salesEngine, alertEngine, tracker, err := a.newEngines(freshStore)
	if err != nil {
		return err
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		a.Logger.Warn().Msg("no notification channel enabled")
	}

	dispatcher := service.NewDispatcher(service.DispatcherOptions{
		QueueSize:   a.Config.Notify.QueueSize,
		Timeout:     a.Config.Notify.Timeout,
		Location:    a.location(),
		NotifySales: a.Config.Notify.NotifySales,
	}, eventLog, notifier, m, a.Logger)

	src, push := a.newSource()
	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc, err := service.New(service.Deps{
		Sales:      salesEngine,
		Alerts:     alertEngine,
		Freshness:  tracker,
		Source:     src,
		Store:      persistence,
		Dispatcher: dispatcher,
		Scheduler:  sched,
		Metrics:    m,
		LockKey:    a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)
	if err != nil {
		return err
	}
	if err := svc.Restore(ctx, time.Now().UTC()); err != nil {
		a.Logger.Warn().Err(err).Msg("state restore failed, starting fresh")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		defer dispatcher.Close()
		return svc.Run(gctx)
	})
	if addr := a.Config.Server.Addr; addr != "" {
		api := server.New(svc, server.Options{Push: push, Reader: reader, Gatherer: registry}, a.Logger)
		g.Go(func() error {
			return api.Run(gctx, addr)
		})
	}

	a.Logger.Info().
		Str("source", a.Config.Source.Mode).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting monitoring service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical snapshots.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	Entities  []string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Entity string
	Kind   string
}

// ReportOptions configure the monthly report.
type ReportOptions struct {
	Month   string
	CSVPath string
	XLSX    string
}

// ReplayOptions configure a scenario replay.
type ReplayOptions struct {
	Path   string
	Notify bool
}

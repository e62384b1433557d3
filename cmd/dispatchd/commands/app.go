package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/dispatchd/internal/calendar"
	"github.com/marcus/dispatchd/internal/config"
	"github.com/marcus/dispatchd/internal/db"
	"github.com/marcus/dispatchd/internal/dispatch"
	"github.com/marcus/dispatchd/internal/events"
	"github.com/marcus/dispatchd/internal/intent"
	"github.com/marcus/dispatchd/internal/lifecycle"
	"github.com/marcus/dispatchd/internal/locale"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/notify"
	"github.com/marcus/dispatchd/internal/performance"
	"github.com/marcus/dispatchd/internal/reporting"
	"github.com/marcus/dispatchd/internal/store"
)

// shutdownTimeout bounds how long queued notifications and completions may
// take to drain when a command exits.
const shutdownTimeout = 20 * time.Second

// app is the wired engine shared by every command.
type app struct {
	cfg        *config.Config
	db         *db.DB
	store      *store.Store
	bus        *events.Bus
	locale     *locale.Service
	notifier   *notify.Dispatcher
	dispatcher *dispatch.Dispatcher
	aggregator *performance.Aggregator
	engine     *lifecycle.Engine
	stats      *performance.Service
	reports    *reporting.Generator
	log        *logging.Logger
}

func initLogging(cfg *config.Config) error {
	return logging.Init(logging.Config{
		Level:         cfg.Logging.Level,
		Path:          cfg.ExpandedLogPath(),
		Format:        cfg.Logging.Format,
		RetentionDays: cfg.Logging.RetentionDays,
	})
}

func openDB(cfg *config.Config) (*db.DB, error) {
	return db.OpenWith(db.Options{
		Dialect: db.Dialect(cfg.Database.Driver),
		Path:    cfg.ExpandedDBPath(),
		DSN:     cfg.Database.DSN,
	})
}

// openApp loads config and wires every component. The notifier and
// aggregator pools are started; call close to drain them.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := initLogging(cfg); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	database, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	return newApp(cfg, database), nil
}

func newApp(cfg *config.Config, database *db.DB) *app {
	s := store.New(database)
	bus := events.NewBus()
	loc := locale.NewService(cfg.Locale.DefaultLanguage, cfg.Locale.Tenants, s)

	var transport notify.Transport
	if cfg.Notify.WebhookURL != "" {
		transport = notify.NewWebhookTransport(cfg.Notify.WebhookURL, cfg.Notify.WebhookToken)
	}
	notifier := notify.New(transport,
		notify.WithSimulate(cfg.Notify.Simulate),
		notify.WithWorkers(cfg.Notify.Workers),
		notify.WithQueueSize(cfg.Notify.QueueSize),
		notify.WithRetry(cfg.Notify.MaxAttempts, cfg.Notify.Backoff),
		notify.WithSendTimeout(cfg.Notify.SendTimeout),
		notify.WithCountryPrefix(cfg.Notify.CountryPrefix),
		notify.WithActivityLog(notify.NewActivityLog(cfg.Notify.ActivityLogSize)),
	)
	notifier.Start()

	disp := dispatch.New(s,
		dispatch.WithSelector(dispatch.Selector{
			Window:      cfg.Dispatch.ClockInWindow,
			Lat:         cfg.Dispatch.PropertyLat,
			Lng:         cfg.Dispatch.PropertyLng,
			HasProperty: cfg.Dispatch.PropertyLat != 0 || cfg.Dispatch.PropertyLng != 0,
		}),
		dispatch.WithBus(bus),
		dispatch.WithNotifier(notifier),
		dispatch.WithLocale(loc),
	)

	agg := performance.NewAggregator(s,
		performance.WithWorkers(cfg.Performance.Workers),
		performance.WithQueueSize(cfg.Performance.QueueSize),
	)
	agg.Start()

	engine := lifecycle.New(s,
		lifecycle.WithConfig(lifecycle.Config{
			StrictTransitions: cfg.Lifecycle.StrictTransitions,
			DuplicateWindow:   cfg.Lifecycle.DuplicateWindow,
			BasePoints:        cfg.Lifecycle.BasePoints,
			GoldBonus:         cfg.Lifecycle.GoldBonus,
			DefaultTarget:     cfg.Lifecycle.DefaultTarget,
			AssignOnCreate:    cfg.Dispatch.AssignOnCreate,
			NotifyTargets:     cfg.Notify.Targets,
			DefaultPhotoURL:   cfg.Notify.DefaultPhotoURL,
		}),
		lifecycle.WithAssigner(disp),
		lifecycle.WithBus(bus),
		lifecycle.WithNotifier(notifier),
		lifecycle.WithLocale(loc),
		lifecycle.WithAggregator(agg),
	)

	gen := reporting.NewGenerator(s,
		reporting.WithSender(notifier),
		reporting.WithLocale(loc),
		reporting.WithProperty(cfg.Report.PropertyName),
		reporting.WithDashboardURL(cfg.Report.DashboardURL),
		reporting.WithOwnerPhone(cfg.Notify.OwnerPhone),
	)

	return &app{
		cfg:        cfg,
		db:         database,
		store:      s,
		bus:        bus,
		locale:     loc,
		notifier:   notifier,
		dispatcher: disp,
		aggregator: agg,
		engine:     engine,
		stats:      performance.NewService(s, time.Now),
		reports:    gen,
		log:        logging.Component("cli"),
	}
}

func (a *app) ingestor(src calendar.Source) *calendar.Ingestor {
	return calendar.NewIngestor(a.store, a.engine,
		calendar.WithSource(src),
		calendar.WithAssigner(a.dispatcher),
		calendar.WithCheckoutHour(a.cfg.Calendar.CheckoutHour),
	)
}

func (a *app) commands() *intent.Handler {
	return intent.NewHandler(a.engine, a.store)
}

// close drains the notification and aggregation queues, then closes the
// bus and database.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.notifier.Shutdown(ctx); err != nil && !errors.Is(err, notify.ErrShutdown) {
		errs = append(errs, fmt.Errorf("notifier: %w", err))
	}
	if err := a.aggregator.Close(); err != nil && !errors.Is(err, performance.ErrClosed) {
		errs = append(errs, fmt.Errorf("aggregator: %w", err))
	}
	a.bus.Close()
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("db: %w", err))
	}
	return errors.Join(errs...)
}

// withApp runs fn against a freshly opened app and always closes it.
func withApp(fn func(a *app) error) (err error) {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

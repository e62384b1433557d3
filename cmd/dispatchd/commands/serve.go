package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/dispatchd/internal/audit"
	"github.com/marcus/dispatchd/internal/calendar"
	"github.com/marcus/dispatchd/internal/config"
	"github.com/marcus/dispatchd/internal/events"
	"github.com/marcus/dispatchd/internal/logging"
	"github.com/marcus/dispatchd/internal/scheduler"
	"github.com/marcus/dispatchd/internal/telemetry"
	"github.com/marcus/dispatchd/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatch daemon",
	Long: `Run the periodic assignment sweep and the weekly report in the
foreground until interrupted.

With --watch, edits to the config file (or "dispatchd dispatch enable|
disable|interval") apply to the running sweep. With --board, a live status
board for --tenant is shown in the terminal.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("watch", false, "Apply dispatch config changes without restarting")
	serveCmd.Flags().Bool("board", false, "Show the live status board")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	watch, _ := cmd.Flags().GetBool("watch")
	board, _ := cmd.Flags().GetBool("board")

	return withApp(func(a *app) error {
		log := logging.Component("serve")

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				log.Infof("received signal %v, shutting down", sig)
				cancel()
			case <-ctx.Done():
			}
		}()

		shutdownTracing := telemetry.Setup(ctx, a.cfg.Telemetry)
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := shutdownTracing(sctx); err != nil {
				log.Warnf("telemetry shutdown: %v", err)
			}
		}()

		sweeper, err := startSweeper(ctx, a)
		if err != nil {
			return err
		}
		defer stopScheduler(sweeper, log)

		if a.cfg.Report.Enabled {
			reports := scheduler.New(scheduler.WithName("report"))
			if err := reports.SetCron(a.cfg.Report.Cron); err != nil {
				return err
			}
			reports.AddJob(a.reports.Job(a.cfg.Report.Days))
			if err := reports.Start(ctx); err != nil {
				return fmt.Errorf("start report scheduler: %w", err)
			}
			defer stopScheduler(reports, log)
			log.InfoCtx("weekly report scheduled", logging.Fields{"cron": a.cfg.Report.Cron, "next_run": reports.NextRun().Format(time.RFC3339)})
		}

		if a.cfg.Audit.Enabled {
			stopAudit, err := startAudit(ctx, a)
			if err != nil {
				log.WarnCtx("audit trail disabled", logging.Fields{"err": err})
			} else {
				defer stopAudit()
			}
		}

		if watch {
			wd, err := os.Getwd()
			if err != nil {
				wd = "."
			}
			w := config.NewWatcher(wd, config.GlobalConfigPath(),
				func(cfg *config.Config) { applyDispatchConfig(sweeper, cfg, log) },
				func(err error) { log.WarnCtx("config reload failed", logging.Fields{"err": err}) },
			)
			go func() {
				if err := w.Run(ctx); err != nil {
					log.WarnCtx("config watcher stopped", logging.Fields{"err": err})
				}
			}()
		}

		log.InfoCtx("dispatchd serving", logging.Fields{
			"sweep":    enabledLabel(a.cfg.Dispatch.Enabled),
			"interval": a.cfg.DispatchInterval().String(),
		})

		if board {
			tenant := tenantFlag(cmd)
			m := ui.New(ctx, tenant, boardLoader(a, sweeper, tenant),
				a.bus.Subscribe(tenant, events.ChannelTasks),
				a.bus.Subscribe(tenant, events.ChannelStaff),
			)
			err := m.Run()
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}

		<-ctx.Done()
		return nil
	})
}

// startSweeper runs vacancy sync (when configured) and the assignment
// sweep on the dispatch interval. A disabled sweep starts paused.
func startSweeper(ctx context.Context, a *app) (*scheduler.Scheduler, error) {
	log := logging.Component("sweep")
	s := scheduler.New(scheduler.WithName("sweep"))
	if err := s.SetInterval(a.cfg.DispatchInterval()); err != nil {
		return nil, err
	}
	if a.cfg.Calendar.File != "" {
		ing := a.ingestor(fileSource(a.cfg.Calendar.File))
		s.AddJob(func(ctx context.Context) error {
			return syncVacancies(ctx, a, ing)
		})
	}
	s.AddJob(func(ctx context.Context) error {
		got, err := a.dispatcher.SweepAll(ctx)
		if len(got) > 0 {
			log.InfoCtx("periodic sweep", logging.Fields{"assigned": len(got)})
		}
		return err
	})
	if !a.cfg.Dispatch.Enabled {
		s.Pause()
	}
	if err := s.Start(ctx); err != nil {
		return nil, fmt.Errorf("start sweep scheduler: %w", err)
	}
	return s, nil
}

// startAudit records every task and staff event. The returned func waits
// for the recorder to stop after ctx is cancelled, then closes the trail.
func startAudit(ctx context.Context, a *app) (func(), error) {
	trail, err := audit.Open(a.cfg.ExpandedAuditPath())
	if err != nil {
		return nil, err
	}
	actx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		trail.Follow(actx,
			a.bus.Subscribe(events.AllTenants, events.ChannelTasks),
			a.bus.Subscribe(events.AllTenants, events.ChannelStaff),
		)
	}()
	return func() {
		cancel()
		<-done
		_ = trail.Close()
	}, nil
}

func syncVacancies(ctx context.Context, a *app, ing *calendar.Ingestor) error {
	tenants, err := a.store.ListTenants(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, tenant := range tenants {
		if _, err := ing.Sync(ctx, tenant); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenant, err))
		}
	}
	return errors.Join(errs...)
}

func applyDispatchConfig(s *scheduler.Scheduler, cfg *config.Config, log *logging.Logger) {
	if cfg.Dispatch.Enabled && s.Paused() {
		s.Resume()
		log.Info("sweep enabled")
	} else if !cfg.Dispatch.Enabled && !s.Paused() {
		s.Pause()
		log.Info("sweep disabled")
	}
	if d := cfg.DispatchInterval(); d != s.Interval() {
		if err := s.SetInterval(d); err != nil {
			log.WarnCtx("interval not applied", logging.Fields{"interval": d.String(), "err": err})
			return
		}
		log.InfoCtx("sweep interval changed", logging.Fields{"interval": d.String()})
	}
}

func stopScheduler(s *scheduler.Scheduler, log *logging.Logger) {
	if err := s.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		log.Errorf("stopping scheduler: %v", err)
	}
}

func boardLoader(a *app, sweeper *scheduler.Scheduler, tenant string) ui.Loader {
	return func(ctx context.Context) (ui.Snapshot, error) {
		board, err := a.stats.Board(ctx, tenant)
		if err != nil {
			return ui.Snapshot{}, err
		}
		pending, err := a.store.PendingTasks(ctx, tenant)
		if err != nil {
			return ui.Snapshot{}, err
		}
		return ui.Snapshot{
			Board:           board,
			Pending:         pending,
			DispatchEnabled: !sweeper.Paused(),
			Interval:        sweeper.Interval(),
			TakenAt:         time.Now(),
		}, nil
	}
}

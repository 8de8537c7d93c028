package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"CryptoDaily/internal/domain/models"
	"CryptoDaily/internal/usecase"
	"CryptoDaily/pkg/config"
	xhttp "CryptoDaily/pkg/http"
	applogger "CryptoDaily/pkg/logger"
	"CryptoDaily/pkg/scheduler"
)

const syncJob = "dayline-sync"

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	sync       *usecase.DaylineSync
	sched      *scheduler.Scheduler
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies. httpServer may be nil.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	ds *usecase.DaylineSync,
	sched *scheduler.Scheduler,
	httpServer *xhttp.Server,
) *App {
	return &App{
		cfg:        cfg,
		log:        l,
		sync:       ds,
		sched:      sched,
		httpServer: httpServer,
	}
}

// Run starts the ops server and the daily scheduler and blocks until SIGINT/SIGTERM.
// An empty store is bootstrapped first; otherwise a catch-up cycle runs when enabled.
func (a *App) Run(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.sched.Register(syncJob, a.cfg.Schedule.Cron, a.cycleJob); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.log.Error("http server start error", applogger.Error(err))
			return err
		}
	}

	// The startup pass runs beside the scheduler; the lease keeps a cron tick from overlapping it.
	startCtx, cancelStart := context.WithCancel(ctx)
	defer cancelStart()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.startupPass(startCtx)
	}()

	a.sched.Start()
	a.log.Info("daily sync scheduled",
		applogger.String("cron", a.cfg.Schedule.Cron),
		applogger.String("timezone", a.cfg.Schedule.Timezone),
		applogger.Time("next_run", a.sched.NextRun(syncJob)),
	)

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	cancelStart()
	err := a.shutdown()
	wg.Wait()
	a.log.Info("shutdown complete")
	return err
}

// RunOnce performs exactly one pass over all stored assets.
func (a *App) RunOnce(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := a.sync.SyncAllDailyBars(ctx)
	if err != nil {
		return fmt.Errorf("update daily: %w", err)
	}
	if report.Failed > 0 {
		a.log.Warn("update finished with failed assets", applogger.Int("failed", report.Failed))
	}
	return nil
}

func (a *App) startupPass(ctx context.Context) {
	ran, err := a.sync.Bootstrap(ctx)
	if errors.Is(err, models.ErrCycleLocked) {
		return
	}
	if err != nil {
		a.log.Error("bootstrap failed", applogger.Error(err))
		return
	}
	if ran || !a.cfg.Schedule.RunOnStart {
		return
	}
	if _, err := a.sync.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("startup catch-up failed", applogger.Error(err))
	}
}

func (a *App) cycleJob(ctx context.Context) error {
	_, err := a.sync.RunCycle(ctx)
	if errors.Is(err, models.ErrCycleLocked) {
		return nil
	}
	return err
}

// shutdown stops the scheduler (waiting for a running cycle) and the HTTP server.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.sched.Stop(ctx); err != nil {
		a.log.Warn("scheduler stop error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	applogger "CryptoDaily/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context) error

// Scheduler runs registered jobs on six-field (seconds-first) cron specs.
// A job still running when its next tick fires is skipped, not queued.
type Scheduler struct {
	cron    *cron.Cron
	log     *applogger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a stopped scheduler evaluating specs in loc.
func New(l *applogger.Logger, loc *time.Location) *Scheduler {
	if l == nil {
		l = applogger.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{l: l.With(applogger.String("component", "scheduler"))}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     cl.l,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Register adds job under name. It fails on an invalid spec or a duplicate name.
func (s *Scheduler) Register(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("register %s: already registered", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	s.entries[name] = id
	s.log.Info("job registered", applogger.String("job", name), applogger.String("spec", spec))
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	start := time.Now()
	s.log.Info("job started", applogger.String("job", name))
	if err := job(s.ctx); err != nil {
		s.log.Error("job failed",
			applogger.String("job", name),
			applogger.Duration("duration_ms", time.Since(start)),
			applogger.Error(err),
		)
		return
	}
	s.log.Info("job finished",
		applogger.String("job", name),
		applogger.Duration("duration_ms", time.Since(start)),
	)
}

// NextRun returns the next activation of name; zero if unknown or not started.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Start starts the cron scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops scheduling, cancels running jobs and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct {
	l *applogger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(kvFields(keysAndValues), applogger.Error(err))...)
}

func kvFields(kv []interface{}) []applogger.Field {
	fields := make([]applogger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, applogger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}

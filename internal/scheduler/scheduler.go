// Package scheduler turns wall-clock schedules into timer events for the
// administrator chat. Jobs never call the orchestrator directly; they
// enqueue events so scheduled work is serialized with the admin's own
// interactions.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pitabwire/quill/internal/config"
	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/model"
)

// Sink accepts timer events. The dispatcher implements it.
type Sink interface {
	Submit(ctx context.Context, ev model.Event) error
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron    *cron.Cron
	sink    Sink
	admin   model.ChatID
	metrics *observability.Metrics
	logger  *zap.Logger
	submit  time.Duration
	entries map[model.TimerJob][]cron.EntryID
}

// New registers the daily pick and AI generation schedules. It returns a
// nil Scheduler, and no error, when no administrator chat is configured.
func New(cfg config.SchedulerConfig, admin model.ChatID, sink Sink, metrics *observability.Metrics, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	if admin == 0 || !cfg.Enabled {
		logger.Info("scheduler disabled", zap.Bool("enabled", cfg.Enabled), zap.Bool("admin_configured", admin != 0))
		return nil, nil
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: timezone %q: %w", cfg.Timezone, err)
	}

	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		sink:    sink,
		admin:   admin,
		metrics: metrics,
		logger:  logger,
		submit:  10 * time.Second,
		entries: make(map[model.TimerJob][]cron.EntryID),
	}

	if cfg.DailyPick != "" {
		if err := s.add(cfg.DailyPick, model.JobDailyPick); err != nil {
			return nil, err
		}
	}
	for _, hm := range cfg.AIGenerationTimes {
		spec, err := ClockSpec(hm)
		if err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		if err := s.add(spec, model.JobAIGenerate); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ClockSpec converts an "HH:MM" time of day into a daily cron spec.
func ClockSpec(hm string) (string, error) {
	hour, minute, err := config.ParseClock(hm)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

func (s *Scheduler) add(spec string, job model.TimerJob) error {
	id, err := s.cron.AddFunc(spec, func() { s.Fire(job) })
	if err != nil {
		return fmt.Errorf("scheduler: %s schedule %q: %w", job, spec, err)
	}
	s.entries[job] = append(s.entries[job], id)
	s.logger.Info("job scheduled", zap.String("job", string(job)), zap.String("spec", spec))
	return nil
}

// Start begins running schedules in the background. Safe on a nil
// Scheduler.
func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
}

// Stop halts the runner and waits for running jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

// Next reports the next activation of job, or the zero time.
func (s *Scheduler) Next(job model.TimerJob) time.Time {
	if s == nil {
		return time.Time{}
	}
	var next time.Time
	for _, id := range s.entries[job] {
		e := s.cron.Entry(id)
		if next.IsZero() || (!e.Next.IsZero() && e.Next.Before(next)) {
			next = e.Next
		}
	}
	return next
}

// Fire enqueues one timer event for job. A failed enqueue is logged and
// counted; it never stops later runs.
func (s *Scheduler) Fire(job model.TimerJob) {
	ctx, cancel := context.WithTimeout(context.Background(), s.submit)
	defer cancel()

	ev := model.Event{
		ID:         uuid.NewString(),
		Kind:       model.EventTimer,
		ChatID:     s.admin,
		Job:        job,
		ReceivedAt: time.Now(),
	}
	if err := s.sink.Submit(ctx, ev); err != nil {
		s.metrics.RecordScheduledRun(string(job), "dropped")
		s.logger.Error("scheduled run not enqueued", zap.String("job", string(job)), zap.Error(err))
		return
	}
	s.metrics.RecordScheduledRun(string(job), "enqueued")
	s.logger.Info("scheduled run enqueued", zap.String("job", string(job)), zap.String("event_id", ev.ID))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/retryutil"
)

const DefaultSchedule = "@daily"

type SchedulerOptions struct {
	// Schedule is a cron expression or descriptor such as "@daily".
	Schedule     string
	RetryDelay   time.Duration
	RetryTimeout time.Duration
	Logger       *slog.Logger
}

// Scheduler runs a reload job on a cron schedule. A failed run is retried
// once in the background.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	job      func(context.Context) error
	opts     SchedulerOptions
	logger   *slog.Logger
}

func NewScheduler(job func(context.Context) error, opts SchedulerOptions) (*Scheduler, error) {
	if job == nil {
		return nil, fmt.Errorf("nil reload job")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	schedule := strings.TrimSpace(opts.Schedule)
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if opts.RetryTimeout <= 0 {
		opts.RetryTimeout = 10 * time.Minute
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Minute
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid reload schedule %q: %w", schedule, err)
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return &Scheduler{
		cron:     c,
		schedule: schedule,
		job:      job,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Run starts the schedule and blocks until ctx is done. A job still running
// at that point is waited for.
func (s *Scheduler) Run(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.schedule, func() { s.tick(ctx) })
	if err != nil {
		return fmt.Errorf("schedule reload: %w", err)
	}
	s.cron.Start()
	s.logger.Info("corpus_schedule_start", "schedule", s.schedule, "next", s.cron.Entry(id).Next.Format(time.RFC3339))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("corpus_schedule_stop")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Info("corpus_scheduled_reload")
	if err := s.job(ctx); err != nil {
		s.logger.Error("corpus_scheduled_reload_failed", "error", err.Error())
		retryutil.Async(ctx, retryutil.Options{
			Name:    "corpus_reload",
			Delay:   s.opts.RetryDelay,
			Timeout: s.opts.RetryTimeout,
			Logger:  s.logger,
		}, s.job)
	}
}

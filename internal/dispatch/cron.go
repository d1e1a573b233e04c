package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"dronedispatch/internal/logger"
)

// DefaultSchedule fires at second 0 of every tenth minute.
const DefaultSchedule = "0 */10 * * * *"

// CycleRunner is the part of Batcher the trigger drives.
type CycleRunner interface {
	RunCycle(ctx context.Context, trigger string) (Report, error)
}

// CronTrigger runs a batch cycle on a cron schedule with a seconds field. An overrunning
// cycle makes the next tick skip instead of queueing.
type CronTrigger struct {
	spec    string
	runner  CycleRunner
	timeout time.Duration
	log     *zap.SugaredLogger
	cron    *cron.Cron
}

func NewCronTrigger(spec string, runner CycleRunner, timeout time.Duration, log *zap.SugaredLogger) (*CronTrigger, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	cl := cron.PrintfLogger(logger.StdLogger())
	return &CronTrigger{
		spec:    spec,
		runner:  runner,
		timeout: timeout,
		log:     logger.Or(log),
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}, nil
}

func (t *CronTrigger) Name() string { return "batch-cron" }

func (t *CronTrigger) Start(ctx context.Context) error {
	_, err := t.cron.AddFunc(t.spec, func() { t.fire(ctx) })
	if err != nil {
		return err
	}
	t.log.Infow("batch_cron_started", "schedule", t.spec)
	t.cron.Start()
	<-ctx.Done()
	return nil
}

func (t *CronTrigger) Stop(ctx context.Context) error {
	done := t.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *CronTrigger) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	if _, err := t.runner.RunCycle(runCtx, TriggerCron); err != nil {
		t.log.Errorw("batch_cron_cycle_failed", "error", err)
	}
}

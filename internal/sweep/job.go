package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job runs the sweeper on a daily schedule. Failures are logged and
// swallowed; the next trigger is the retry.
type Job struct {
	sweeper  *Sweeper
	cron     *cron.Cron
	schedule cron.Schedule
	loc      *time.Location
	timeout  time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewJob parses a standard five-field cron spec evaluated in loc.
func NewJob(s *Sweeper, spec string, loc *time.Location, timeout time.Duration, log *zap.Logger) (*Job, error) {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 4 * time.Minute
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	j := &Job{
		sweeper:  s,
		schedule: sched,
		loc:      loc,
		timeout:  timeout,
		log:      log,
		now:      time.Now,
	}
	cl := cronLogger{log.Sugar()}
	j.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	j.cron.Schedule(sched, cron.FuncJob(func() { j.Trigger(context.Background()) }))
	return j, nil
}

// Start begins firing on schedule.
func (j *Job) Start() {
	j.cron.Start()
	j.log.Info("absence sweep scheduled", zap.Time("next", j.Next(j.now())))
}

// Stop halts the scheduler; the returned context is done once a running
// sweep has finished.
func (j *Job) Stop() context.Context { return j.cron.Stop() }

// Next is the first scheduled run after t.
func (j *Job) Next(t time.Time) time.Time { return j.schedule.Next(t.In(j.loc)) }

// Trigger runs one sweep for today, bounded by the job timeout.
func (j *Job) Trigger(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	rep, err := j.sweeper.Run(ctx, j.now())
	if err != nil {
		j.log.Error("absence sweep failed",
			zap.String("date", rep.Date),
			zap.Int("high_water", rep.HighWater),
			zap.Int("absent", rep.Absent),
			zap.Error(err),
		)
		return
	}
	j.log.Info("absence sweep done",
		zap.String("date", rep.Date),
		zap.Int("absent", rep.Absent),
	)
}

// cronLogger routes cron's own logging onto zap.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

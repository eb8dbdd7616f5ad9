// Package sweeper runs the expiry sweep on a timer.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"tally/api/internal/metrics"
	"tally/api/internal/workflow"
)

type Sweeper interface {
	SweepExpired(ctx context.Context) (workflow.SweepResult, error)
}

type Options struct {
	Interval time.Duration
	// Locker makes only one process sweep at a time. Nil sweeps on every tick.
	Locker  Locker
	Metrics *metrics.Metrics
	Logger  *logrus.Entry
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		o.Logger = logrus.NewEntry(l)
	}
}

type Runner struct {
	sweeper Sweeper
	opts    Options
	leader  bool
}

func New(sweeper Sweeper, opts Options) *Runner {
	opts.setDefaults()
	return &Runner{sweeper: sweeper, opts: opts}
}

// Run sweeps once immediately and then on every interval until ctx is done.
// A held lock is released on the way out.
func (r *Runner) Run(ctx context.Context) error {
	defer r.stepDown()

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		if err := r.Tick(ctx); err != nil {
			// A tick that outlived its own deadline is not a shutdown.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				r.opts.Logger.WithField("interval", r.opts.Interval).Warn("sweeper: sweep ran past the interval")
			} else {
				r.opts.Logger.WithError(err).Warn("sweeper: tick failed")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one sweep if this process is, or becomes, the leader.
func (r *Runner) Tick(ctx context.Context) error {
	if r.opts.Locker != nil {
		leader, err := r.opts.Locker.TryAcquire(ctx)
		if err != nil {
			r.setLeader(false)
			return err
		}
		r.setLeader(leader)
		if !leader {
			return nil
		}
	} else {
		r.setLeader(true)
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Interval)
	defer cancel()
	result, err := r.sweeper.SweepExpired(ctx)
	if err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		r.opts.Logger.WithField("failed", len(result.Errors)).Warn("sweeper: some requests could not be resolved")
	}
	return nil
}

func (r *Runner) setLeader(leader bool) {
	if leader != r.leader {
		if leader {
			r.opts.Logger.Info("sweeper: became leader")
		} else if r.opts.Locker != nil {
			r.opts.Logger.Info("sweeper: lost leadership")
		}
	}
	r.leader = leader
	r.opts.Metrics.SweeperLeader(leader)
}

func (r *Runner) stepDown() {
	if r.opts.Locker != nil && r.leader {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.opts.Locker.Release(ctx); err != nil {
			r.opts.Logger.WithError(err).Warn("sweeper: release lock failed")
		}
	}
	r.leader = false
	r.opts.Metrics.SweeperLeader(false)
}

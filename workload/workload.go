// Package workload runs reader/writer lock benchmarks that expose starvation.
//
// A crowd of readers keeps re-acquiring the lock while a few writers come
// back periodically. The report shows how often each class got in and how
// long it had to wait; a starving strategy shows up as a writer class with
// few acquisitions and a huge max wait.
package workload

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.com/slon/fairrw/rwmutex"
)

// ClassStats summarizes one class of workers.
type ClassStats struct {
	Acquisitions int64
	MaxWait      time.Duration
	TotalWait    time.Duration
}

// MeanWait returns the average wait per acquisition.
func (s ClassStats) MeanWait() time.Duration {
	if s.Acquisitions == 0 {
		return 0
	}
	return s.TotalWait / time.Duration(s.Acquisitions)
}

// Report is the outcome of Run.
type Report struct {
	RunID    uuid.UUID
	Strategy string
	Readers  ClassStats
	Writers  ClassStats

	// Violations counts observed breaches of mutual exclusion.
	Violations int64
	Elapsed    time.Duration
}

type classCounters struct {
	acquisitions atomic.Int64
	total        atomic.Duration
	max          atomic.Duration
}

func (c *classCounters) record(wait time.Duration) {
	c.acquisitions.Inc()
	c.total.Add(wait)
	for {
		cur := c.max.Load()
		if wait <= cur || c.max.CompareAndSwap(cur, wait) {
			return
		}
	}
}

func (c *classCounters) stats() ClassStats {
	return ClassStats{
		Acquisitions: c.acquisitions.Load(),
		MaxWait:      c.max.Load(),
		TotalWait:    c.total.Load(),
	}
}

// Option configures Run.
type Option func(*runner)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(r *runner) {
		r.log = log
	}
}

// WithClock sets the clock used for the run duration, pauses and waits.
func WithClock(clock clockwork.Clock) Option {
	return func(r *runner) {
		r.clock = clock
	}
}

// WithObserver attaches o to the lock. Only the fair strategy reports to it.
func WithObserver(o rwmutex.Observer) Option {
	return func(r *runner) {
		r.observer = o
	}
}

type runner struct {
	cfg      Config
	log      *zap.Logger
	clock    clockwork.Clock
	observer rwmutex.Observer

	lock Locker

	readers classCounters
	writers classCounters

	readersInside atomic.Int64
	writersInside atomic.Int64
	violations    atomic.Int64
}

// Run executes the benchmark described by cfg. It stops after cfg.Duration
// or when ctx is done, whichever comes first, and waits for every worker to
// leave the lock.
func Run(ctx context.Context, cfg Config, opts ...Option) (Report, error) {
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}

	r := &runner{
		cfg:   cfg,
		log:   zap.NewNop(),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}

	lockOpts := []rwmutex.Option{rwmutex.WithClock(r.clock)}
	if r.observer != nil {
		lockOpts = append(lockOpts, rwmutex.WithObserver(r.observer))
	}
	r.lock = newLocker(cfg.Strategy, lockOpts...)

	runID, err := uuid.NewV4()
	if err != nil {
		return Report{}, fmt.Errorf("failed to generate run id: %w", err)
	}
	log := r.log.With(zap.Stringer("run_id", runID), zap.String("strategy", cfg.Strategy))

	log.Info("starting workload",
		zap.Int("readers", cfg.Readers),
		zap.Int("writers", cfg.Writers),
		zap.Duration("duration", cfg.Duration),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := r.clock.Now()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-r.clock.After(cfg.Duration):
		case <-ctx.Done():
			log.Warn("workload interrupted", zap.Error(context.Cause(ctx)))
		}
		cancel()
		return nil
	})
	for i := 0; i < cfg.Readers; i++ {
		g.Go(func() error {
			r.reader(ctx)
			return nil
		})
	}
	for i := 0; i < cfg.Writers; i++ {
		g.Go(func() error {
			r.writer(ctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{
		RunID:      runID,
		Strategy:   cfg.Strategy,
		Readers:    r.readers.stats(),
		Writers:    r.writers.stats(),
		Violations: r.violations.Load(),
		Elapsed:    r.clock.Since(start),
	}

	log.Info("workload finished",
		zap.Int64("read_acquisitions", report.Readers.Acquisitions),
		zap.Int64("write_acquisitions", report.Writers.Acquisitions),
		zap.Duration("write_max_wait", report.Writers.MaxWait),
		zap.Int64("violations", report.Violations),
	)
	if report.Violations != 0 {
		log.Error("mutual exclusion violated", zap.Int64("violations", report.Violations))
	}
	return report, nil
}

func (r *runner) reader(ctx context.Context) {
	for ctx.Err() == nil {
		start := r.clock.Now()
		r.lock.RLock()
		r.readers.record(r.clock.Since(start))

		r.readersInside.Inc()
		if r.writersInside.Load() != 0 {
			r.violations.Inc()
		}
		r.pause(ctx, r.cfg.ReadHold)
		r.readersInside.Dec()

		r.lock.RUnlock()
	}
}

func (r *runner) writer(ctx context.Context) {
	for {
		r.pause(ctx, r.cfg.WriterPause)
		if ctx.Err() != nil {
			return
		}

		start := r.clock.Now()
		r.lock.Lock()
		r.writers.record(r.clock.Since(start))

		if r.writersInside.Inc() != 1 || r.readersInside.Load() != 0 {
			r.violations.Inc()
		}
		r.pause(ctx, r.cfg.WriteHold)
		r.writersInside.Dec()

		r.lock.Unlock()
	}
}

func (r *runner) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-r.clock.After(d):
	case <-ctx.Done():
	}
}

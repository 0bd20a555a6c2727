package reconciler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/render"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Executor applies and verifies rendered artifacts
type Executor interface {
	Run(ctx context.Context, art *types.Artifact, timeout time.Duration) *executor.Result
	Verify(ctx context.Context, art *types.Artifact) ([]string, error)
}

// Config holds reconciler configuration
type Config struct {
	// Workers is the size of the worker pool; zero means one per CPU
	Workers      int           `mapstructure:"workers" yaml:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" default:"2s"`

	RetryBase   time.Duration `mapstructure:"retry_base" yaml:"retry_base" default:"5s"`
	RetryCap    time.Duration `mapstructure:"retry_cap" yaml:"retry_cap" default:"5m"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts" default:"5"`

	// ExecTimeout bounds one artifact execution
	ExecTimeout time.Duration `mapstructure:"exec_timeout" yaml:"exec_timeout" default:"30s"`

	// DriftInterval is the period of the drift sweep; zero disables it
	DriftInterval time.Duration `mapstructure:"drift_interval" yaml:"drift_interval" default:"10m"`
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithClock replaces the wall clock used for retry scheduling
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithBroker publishes record lifecycle events to b
func WithBroker(b *events.Broker) Option {
	return func(r *Reconciler) { r.broker = b }
}

// Reconciler drives records from their desired spec to the host:
// claim, render, execute, write back
type Reconciler struct {
	store    storage.Store
	registry *render.Registry
	exec     Executor
	broker   *events.Broker
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger

	nudgeCh chan struct{}

	// queued holds ids handed to a worker and not finished yet so one
	// dispatch cycle never queues a record twice
	mu     sync.Mutex
	queued map[string]bool

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewReconciler creates a new reconciler
func NewReconciler(store storage.Store, registry *render.Registry, exec Executor, cfg Config, opts ...Option) *Reconciler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 5 * time.Second
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 30 * time.Second
	}

	r := &Reconciler{
		store:    store,
		registry: registry,
		exec:     exec,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log.WithComponent("reconciler"),
		nudgeCh:  make(chan struct{}, 1),
		queued:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the reconciliation loop in the background
func (r *Reconciler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.doneCh = make(chan struct{})
	go func() {
		defer close(r.doneCh)
		if err := r.Run(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Reconciler stopped with error")
		}
	}()
}

// Stop stops the reconciler and waits for in-flight attempts to finish
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.doneCh
}

// Workers returns the size of the worker pool
func (r *Reconciler) Workers() int {
	return r.cfg.Workers
}

// Nudge wakes the dispatcher without waiting for the poll interval
func (r *Reconciler) Nudge() {
	select {
	case r.nudgeCh <- struct{}{}:
	default:
	}
}

// Run dispatches claimable records to the worker pool until ctx is done
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info().
		Int("workers", r.cfg.Workers).
		Dur("poll_interval", r.cfg.PollInterval).
		Dur("drift_interval", r.cfg.DriftInterval).
		Msg("Reconciler started")
	metrics.RegisterComponent(metrics.ComponentReconciler, true, "running")
	defer metrics.UpdateComponent(metrics.ComponentReconciler, false, "stopped")

	jobs := make(chan *types.ResourceRecord)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		r.dispatch(ctx, jobs)
		return nil
	})

	// An attempt that started runs to completion, bounded by ExecTimeout,
	// so shutdown never leaves a half-applied artifact behind
	workCtx := context.WithoutCancel(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			for rec := range jobs {
				metrics.WorkersBusy.Inc()
				r.reconcileRecord(workCtx, rec)
				metrics.WorkersBusy.Dec()
				r.done(rec.ID)
			}
			return nil
		})
	}

	if r.cfg.DriftInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(r.cfg.DriftInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := r.DriftSweep(ctx); err != nil {
						r.logger.Error().Err(err).Msg("Drift sweep failed")
					}
				}
			}
		})
	}

	err := g.Wait()
	r.logger.Info().Msg("Reconciler stopped")
	return err
}

func (r *Reconciler) dispatch(ctx context.Context, jobs chan<- *types.ResourceRecord) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r.cycle(ctx, jobs)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.nudgeCh:
		}
	}
}

// cycle hands every claimable record not already queued to the pool
func (r *Reconciler) cycle(ctx context.Context, jobs chan<- *types.ResourceRecord) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationCycleDuration)

	pending, err := r.store.ListPending(r.now())
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list pending records")
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
		return
	}
	metrics.QueueDepth.Set(float64(len(pending)))

	for _, rec := range pending {
		if !r.enqueue(rec.ID) {
			continue
		}
		select {
		case jobs <- rec:
		case <-ctx.Done():
			r.done(rec.ID)
			return
		}
	}
}

func (r *Reconciler) enqueue(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queued[id] {
		return false
	}
	r.queued[id] = true
	return true
}

func (r *Reconciler) done(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queued, id)
}

// RunOnce reconciles every currently claimable record on the calling
// goroutine and returns how many were attempted
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.store.ListPending(r.now())
	if err != nil {
		return 0, err
	}
	for _, rec := range pending {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		r.reconcileRecord(ctx, rec)
	}
	return len(pending), nil
}

// RetryDelay returns the wait after the given number of consecutive
// failures: base, 2*base, 4*base ... capped
func (r *Reconciler) RetryDelay(failures int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.cfg.RetryBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         r.cfg.RetryCap,
	}
	b.Reset()

	delay := r.cfg.RetryBase
	for i := 0; i < failures; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (r *Reconciler) publish(eventType events.EventType, rec *types.ResourceRecord, revision int64, format string, args ...interface{}) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		Type:     eventType,
		RecordID: rec.ID,
		Kind:     string(rec.Kind),
		Key:      rec.Key,
		Revision: revision,
		Message:  fmt.Sprintf(format, args...),
	})
}

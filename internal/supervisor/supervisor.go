// Package supervisor keeps exactly one decision loop running for every active
// tenant. It polls the desired state on a fixed interval, starts loops that
// are missing or have exited, and stops loops whose tenant was deactivated.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradebot-core/internal/monitor"
	"tradebot-core/internal/schedule"
	"tradebot-core/pkg/db"
)

// ErrStopTimeout is returned when a tenant loop does not exit within
// Config.StopTimeout after being cancelled.
var ErrStopTimeout = errors.New("tenant loop did not stop in time")

// Runner is a long-lived tenant loop. Run returns once ctx is cancelled.
type Runner interface {
	Run(ctx context.Context)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context)

// Run calls f(ctx).
func (f RunnerFunc) Run(ctx context.Context) { f(ctx) }

// Factory builds the loop for one tenant.
type Factory func(tenantID string) Runner

// ConfigSource lists the tenants that should be running.
type ConfigSource interface {
	ListActiveConfigs(ctx context.Context) ([]db.TenantBotConfig, error)
}

// Config holds the supervisor timings.
type Config struct {
	Interval    time.Duration // reconcile period
	StopTimeout time.Duration // how long Stop waits for a loop to exit
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		StopTimeout: 15 * time.Second,
	}
}

type task struct {
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

func (t *task) alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// stopping reports whether the task was cancelled but has not exited yet.
func (t *task) stopping() bool {
	return t.ctx.Err() != nil && t.alive()
}

// Supervisor owns the tenant loops.
type Supervisor struct {
	mu    sync.Mutex
	tasks map[string]*task

	root       context.Context
	cancelRoot context.CancelFunc

	cfg     Config
	source  ConfigSource
	factory Factory
	clock   schedule.Clock
	metrics *monitor.Metrics
	log     *zap.Logger
}

// New creates a Supervisor. Loops it starts are detached from any request
// context and end on Stop, StopAll or when Run returns.
func New(source ConfigSource, factory Factory, cfg Config, clock schedule.Clock, metrics *monitor.Metrics, log *zap.Logger) *Supervisor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if clock == nil {
		clock = schedule.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		tasks:      make(map[string]*task),
		root:       root,
		cancelRoot: cancel,
		cfg:        cfg,
		source:     source,
		factory:    factory,
		clock:      clock,
		metrics:    metrics,
		log:        log.Named("supervisor"),
	}
}

// Start launches the loop for tenantID unless one is already running, and
// reports whether it launched one. A loop that has exited on its own is
// replaced.
func (s *Supervisor) Start(tenantID string) bool {
	if tenantID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root.Err() != nil {
		return false
	}
	if t, ok := s.tasks[tenantID]; ok && t.alive() {
		return false
	}

	ctx, cancel := context.WithCancel(s.root)
	t := &task{ctx: ctx, cancel: cancel, done: make(chan struct{}), startedAt: s.clock.Now()}
	s.tasks[tenantID] = t
	runner := s.factory(tenantID)

	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("tenant loop panicked", zap.String("tenant", tenantID), zap.Any("panic", r))
			}
		}()
		runner.Run(ctx)
	}()

	s.log.Info("tenant loop started", zap.String("tenant", tenantID))
	s.metrics.SetActiveTenants(s.countLocked())
	return true
}

// Stop cancels the loop for tenantID and waits for it to exit. Stopping a
// tenant that is not running is a no-op.
func (s *Supervisor) Stop(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	t, ok := s.tasks[tenantID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	t.cancel()
	timer := s.clock.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-t.done:
	case <-timer.Chan():
		s.log.Error("tenant loop did not stop", zap.String("tenant", tenantID), zap.Duration("timeout", s.cfg.StopTimeout))
		return fmt.Errorf("%w: tenant %s", ErrStopTimeout, tenantID)
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.tasks[tenantID] == t {
		delete(s.tasks, tenantID)
	}
	s.metrics.SetActiveTenants(s.countLocked())
	s.mu.Unlock()

	s.log.Info("tenant loop stopped", zap.String("tenant", tenantID))
	return nil
}

// Reconcile starts a loop for every active tenant and stops every loop whose
// tenant is no longer active. Stale loops are stopped concurrently; a loop
// already cancelled by an earlier Stop that timed out is left to exit on its
// own and pruned once it has.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	configs, err := s.source.ListActiveConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list active configs: %w", err)
	}

	desired := make(map[string]struct{}, len(configs))
	for _, c := range configs {
		desired[c.TenantID] = struct{}{}
		s.Start(c.TenantID)
	}

	s.mu.Lock()
	var stale []string
	for id, t := range s.tasks {
		if _, ok := desired[id]; ok {
			continue
		}
		if !t.alive() {
			delete(s.tasks, id)
			continue
		}
		if t.stopping() {
			s.log.Debug("tenant loop still stopping", zap.String("tenant", id))
			continue
		}
		stale = append(stale, id)
	}
	s.metrics.SetActiveTenants(s.countLocked())
	s.mu.Unlock()

	return s.stopMany(ctx, stale)
}

func (s *Supervisor) stopMany(ctx context.Context, ids []string) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.Stop(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Run reconciles immediately and then every Interval until ctx is cancelled,
// and stops every tenant loop before returning.
func (s *Supervisor) Run(ctx context.Context) {
	s.log.Info("supervisor started", zap.Duration("interval", s.cfg.Interval))
	schedule.Every(ctx, s.clock, s.cfg.Interval, func(ctx context.Context) {
		if err := s.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("reconcile failed", zap.Error(err))
		}
	})

	stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
	defer cancel()
	if err := s.StopAll(stopCtx); err != nil {
		s.log.Error("tenant loops left running", zap.Error(err))
	}
	s.log.Info("supervisor stopped")
}

// StopAll cancels every loop, waits for them to exit and refuses later
// starts.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	s.cancelRoot()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	return s.stopMany(ctx, ids)
}

// Running returns the ids of tenants whose loop is alive, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for id, t := range s.tasks {
		if t.alive() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// IsRunning reports whether tenantID has a live loop.
func (s *Supervisor) IsRunning(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[tenantID]
	return ok && t.alive()
}

func (s *Supervisor) countLocked() int {
	n := 0
	for _, t := range s.tasks {
		if t.alive() {
			n++
		}
	}
	return n
}

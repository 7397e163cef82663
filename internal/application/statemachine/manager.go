package statemachine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/execution-hub/dsp-connector/internal/application/retry"
	"github.com/execution-hub/dsp-connector/internal/domain/entity"
)

// Processor handles leased entities in one (state, type) pair. The handler
// transitions the entity on success; the manager persists the result.
type Processor[T entity.Stateful] struct {
	State  int
	Type   entity.Type
	Async  bool
	Handle func(ctx context.Context, e T) retry.Outcome
}

// Hooks connect the manager to process-specific behavior.
type Hooks[T entity.Stateful] struct {
	// Fail forces the entity into its terminal failure state.
	Fail func(e T, detail string)
	// Committed runs after a save that changed the entity's state.
	Committed func(previous int, e T)
}

type Config struct {
	Name        string
	BatchSize   int
	MaxInFlight int64
	// Wait is called with the number of consecutive idle iterations plus one.
	Wait      retry.WaitStrategy
	StateName func(int) string
}

type Option[T entity.Stateful] func(*Manager[T])

func WithGuard[T entity.Stateful](g PendingGuard[T]) Option[T] {
	return func(m *Manager[T]) { m.guard = g }
}

func WithMetrics[T entity.Stateful](metrics *Metrics) Option[T] {
	return func(m *Manager[T]) { m.metrics = metrics }
}

// Manager polls the store for leased work and dispatches it to processors.
type Manager[T entity.Stateful] struct {
	cfg        Config
	store      entity.Store[T]
	hooks      Hooks[T]
	guard      PendingGuard[T]
	metrics    *Metrics
	processors []Processor[T]
	sem        *semaphore.Weighted
	inflight   sync.WaitGroup
	logger     zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New[T entity.Stateful](cfg Config, store entity.Store[T], hooks Hooks[T], logger zerolog.Logger, opts ...Option[T]) *Manager[T] {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 50
	}
	if cfg.Wait == nil {
		cfg.Wait = retry.ExponentialWait{Base: time.Second, Max: 10 * time.Second}
	}
	if cfg.StateName == nil {
		cfg.StateName = strconv.Itoa
	}
	m := &Manager[T]{
		cfg:    cfg,
		store:  store,
		hooks:  hooks,
		sem:    semaphore.NewWeighted(cfg.MaxInFlight),
		logger: logger.With().Str("service", "state-machine").Str("process", cfg.Name).Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a processor. Processors are polled in registration order.
func (m *Manager[T]) Register(p Processor[T]) {
	m.processors = append(m.processors, p)
}

// RunOnce performs one polling iteration and returns the number of entities picked up.
func (m *Manager[T]) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { m.metrics.iteration(m.cfg.Name, time.Since(start)) }()

	var errs []error
	picked := 0
	for _, p := range m.processors {
		if ctx.Err() != nil {
			return picked, ctx.Err()
		}
		items, err := m.store.NextNotLeased(ctx, entity.Query{State: p.State, Type: p.Type, Limit: m.cfg.BatchSize})
		if err != nil {
			errs = append(errs, fmt.Errorf("lease %s/%s: %w", m.cfg.StateName(p.State), p.Type, err))
			continue
		}
		for _, e := range items {
			picked++
			m.dispatch(ctx, p, e)
		}
	}
	return picked, errors.Join(errs...)
}

func (m *Manager[T]) dispatch(ctx context.Context, p Processor[T], e T) {
	if m.guard != nil && m.guard.Test(e) {
		e.Entity().SetPending(true)
		if err := m.store.Save(ctx, e); err != nil {
			m.logger.Error().Err(err).Str("process_id", e.Entity().ID).Msg("failed to mark entity pending")
			return
		}
		m.metrics.observe(m.cfg.Name, m.cfg.StateName(p.State), "pending")
		m.logger.Debug().Str("process_id", e.Entity().ID).Msg("entity set pending by guard")
		return
	}
	if !p.Async {
		m.run(ctx, p, e)
		return
	}
	if !m.sem.TryAcquire(1) {
		m.metrics.saturate(m.cfg.Name)
		m.release(ctx, e)
		return
	}
	m.inflight.Add(1)
	m.metrics.inFlightAdd(m.cfg.Name, 1)
	go func() {
		defer m.inflight.Done()
		defer m.sem.Release(1)
		defer m.metrics.inFlightAdd(m.cfg.Name, -1)
		m.run(ctx, p, e)
	}()
}

func (m *Manager[T]) run(ctx context.Context, p Processor[T], e T) {
	ent := e.Entity()
	previous := ent.State
	out := m.handle(ctx, p, e)

	// The lease must be released even when the iteration context is gone.
	ctx = context.WithoutCancel(ctx)
	log := m.logger.With().Str("process_id", ent.ID).Str("state", m.cfg.StateName(previous)).Int("state_count", ent.StateCount).Logger()

	switch out.Kind {
	case retry.Succeeded:
		if !m.persist(ctx, e, log) {
			return
		}
		log.Debug().Str("new_state", m.cfg.StateName(ent.State)).Msg("entity processed")
	case retry.Retryable:
		ent.MarkRetry()
		log.Warn().Str("detail", out.Detail()).Msg("processing failed, will retry")
		if !m.persist(ctx, e, log) {
			return
		}
	case retry.Exhausted, retry.Fatal:
		detail := out.Detail()
		if m.hooks.Fail != nil {
			m.hooks.Fail(e, detail)
		}
		log.Warn().Str("outcome", out.Kind.String()).Str("detail", detail).Msg("entity terminated")
		if !m.persist(ctx, e, log) {
			return
		}
	case retry.Deferred:
		m.release(ctx, e)
	}
	m.metrics.observe(m.cfg.Name, m.cfg.StateName(previous), out.Kind.String())
	if ent.State != previous && m.hooks.Committed != nil {
		m.hooks.Committed(previous, e)
	}
}

func (m *Manager[T]) handle(ctx context.Context, p Processor[T], e T) (out retry.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = retry.Failed(fmt.Errorf("processor panic: %v", r))
		}
	}()
	return p.Handle(ctx, e)
}

func (m *Manager[T]) persist(ctx context.Context, e T, log zerolog.Logger) bool {
	if err := m.store.Save(ctx, e); err != nil {
		log.Error().Err(err).Msg("failed to save entity")
		m.release(ctx, e)
		return false
	}
	return true
}

func (m *Manager[T]) release(ctx context.Context, e T) {
	if err := m.store.BreakLease(ctx, e.Entity().ID); err != nil {
		m.logger.Warn().Err(err).Str("process_id", e.Entity().ID).Msg("failed to break lease")
	}
}

// Start runs the polling loop until Stop is called or ctx is done.
func (m *Manager[T]) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
	m.logger.Info().Int("batch_size", m.cfg.BatchSize).Int("processors", len(m.processors)).Msg("state machine started")
}

func (m *Manager[T]) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	idle := 0
	for {
		n, err := m.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			m.logger.Warn().Err(err).Msg("iteration failed")
		}
		if n == 0 {
			idle++
		} else {
			idle = 0
		}
		timer := time.NewTimer(m.cfg.Wait.RetryIn(idle + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop ends the polling loop and waits for async processors to finish.
func (m *Manager[T]) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	m.inflight.Wait()
	m.logger.Info().Msg("state machine stopped")
}

// Wait blocks until all async processors started so far have completed.
func (m *Manager[T]) Wait() {
	m.inflight.Wait()
}

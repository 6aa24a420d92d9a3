package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dshills/modhost/pkg/host"
)

// Pool defaults.
const (
	DefaultCoreSize  = 4
	DefaultMaxSize   = 16
	DefaultKeepAlive = 30 * time.Second
	DefaultQueueSize = 256
)

// Config sizes an Executor.
type Config struct {
	// CoreSize workers run for the executor's lifetime.
	CoreSize int

	// MaxSize bounds all workers, core and extra.
	MaxSize int

	// KeepAlive is how long an extra worker waits for work before exiting.
	KeepAlive time.Duration

	// QueueSize is the number of accepted units that may wait for a worker.
	// Zero hands units directly to idle workers.
	QueueSize int
}

// DefaultConfig returns the default pool sizes.
func DefaultConfig() Config {
	return Config{
		CoreSize:  DefaultCoreSize,
		MaxSize:   DefaultMaxSize,
		KeepAlive: DefaultKeepAlive,
		QueueSize: DefaultQueueSize,
	}
}

// Validate checks that the sizes describe a working pool.
func (c Config) Validate() error {
	switch {
	case c.CoreSize < 0:
		return fmt.Errorf("%w: core size %d is negative", ErrInvalidConfig, c.CoreSize)
	case c.MaxSize < 1:
		return fmt.Errorf("%w: max size %d must be at least 1", ErrInvalidConfig, c.MaxSize)
	case c.MaxSize < c.CoreSize:
		return fmt.Errorf("%w: max size %d is below core size %d", ErrInvalidConfig, c.MaxSize, c.CoreSize)
	case c.KeepAlive < 0:
		return fmt.Errorf("%w: keep-alive %s is negative", ErrInvalidConfig, c.KeepAlive)
	case c.QueueSize < 0:
		return fmt.Errorf("%w: queue size %d is negative", ErrInvalidConfig, c.QueueSize)
	}
	return nil
}

type job struct {
	id   string
	unit host.WorkUnit
}

// Executor is a bounded worker pool for work units.
type Executor struct {
	cfg       Config
	logger    *zap.Logger
	listeners *registry
	metrics   *metrics

	// ctx is passed to every unit; it is cancelled when Shutdown gives up
	// waiting.
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards queue sends against the close in Shutdown.
	mu       sync.RWMutex
	queue    chan job
	shutdown bool
	done     chan struct{}

	workers atomic.Int32
	wg      sync.WaitGroup

	submitted   atomic.Uint64
	rejected    atomic.Uint64
	completed   atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	active      atomic.Int32
	totalTimeNs atomic.Int64
}

type options struct {
	logger    *zap.Logger
	registry  prometheus.Registerer
	namespace string
}

// Option configures an Executor.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer registers the executor's Prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithMetricsNamespace sets the namespace of the metric names.
func WithMetricsNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// New creates an executor and starts its core workers.
func New(cfg Config, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{namespace: "modhost"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	m := newMetrics(o.namespace)
	if o.registry != nil {
		if err := m.register(o.registry); err != nil {
			return nil, fmt.Errorf("register executor metrics: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		cfg:       cfg,
		logger:    o.logger,
		listeners: newRegistry(),
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan job, cfg.QueueSize),
		done:      make(chan struct{}),
	}

	for i := 0; i < cfg.CoreSize; i++ {
		e.startWorker(nil, true)
	}
	return e, nil
}

// Config returns the pool sizes.
func (e *Executor) Config() Config { return e.cfg }

// AddListener registers fn for events of kind.
func (e *Executor) AddListener(kind EventKind, fn Listener) ListenerID {
	return e.listeners.add(kind, fn)
}

// RemoveListener unregisters a listener. It reports whether id was known.
func (e *Executor) RemoveListener(id ListenerID) bool {
	return e.listeners.remove(id)
}

// ListenerCount returns the number of listeners registered for kind.
func (e *Executor) ListenerCount(kind EventKind) int {
	return e.listeners.count(kind)
}

// Take submits unit. Before-execute listeners are notified first, on the
// caller's goroutine. Take does not wait for the unit; its outcome is
// reported to after-execute listeners. A unit the pool cannot accept is
// reported as a *RejectedError.
func (e *Executor) Take(unit host.WorkUnit) error {
	if unit == nil {
		return ErrNilUnit
	}
	if e.IsShutdown() {
		return e.reject(unit, ErrShutdown)
	}

	j := job{id: uuid.NewString(), unit: unit}
	e.listeners.dispatch(Event{Kind: BeforeExecute, ID: j.id, Unit: unit}, e.logger)
	return e.submit(j)
}

func (e *Executor) submit(j job) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.shutdown {
		return e.reject(j.unit, ErrShutdown)
	}

	select {
	case e.queue <- j:
		e.accept()
		// A pool without core workers may have none left to drain the queue.
		if e.workers.Load() == 0 {
			e.tryAddWorker(nil)
		}
		return nil
	default:
	}

	if e.tryAddWorker(&j) {
		e.accept()
		return nil
	}
	return e.reject(j.unit, ErrSaturated)
}

func (e *Executor) accept() {
	e.submitted.Add(1)
	e.metrics.submitted.Inc()
}

func (e *Executor) reject(unit host.WorkUnit, reason error) error {
	e.rejected.Add(1)
	e.metrics.rejected.WithLabelValues(rejectReason(reason)).Inc()
	e.logger.Debug("work unit rejected", zap.Error(reason))
	return &RejectedError{Unit: unit, Reason: reason}
}

// tryAddWorker starts an extra worker when the pool is below MaxSize.
// Callers hold mu for reading.
func (e *Executor) tryAddWorker(first *job) bool {
	for {
		n := e.workers.Load()
		if int(n) >= e.cfg.MaxSize {
			return false
		}
		if e.workers.CompareAndSwap(n, n+1) {
			e.wg.Add(1)
			e.metrics.workers.Inc()
			go e.worker(first, false)
			return true
		}
	}
}

func (e *Executor) startWorker(first *job, core bool) {
	e.workers.Add(1)
	e.wg.Add(1)
	e.metrics.workers.Inc()
	go e.worker(first, core)
}

// worker runs units until the queue is closed. Extra workers also exit
// after KeepAlive without work.
func (e *Executor) worker(first *job, core bool) {
	defer e.wg.Done()
	defer e.workerExit()

	if first != nil {
		e.run(*first)
	}

	if core {
		for j := range e.queue {
			e.run(j)
		}
		return
	}

	idle := time.NewTimer(e.cfg.KeepAlive)
	defer idle.Stop()
	for {
		select {
		case j, ok := <-e.queue:
			if !ok {
				return
			}
			e.run(j)
			idle.Reset(e.cfg.KeepAlive)
		case <-idle.C:
			return
		}
	}
}

func (e *Executor) workerExit() {
	n := e.workers.Add(-1)
	e.metrics.workers.Dec()
	if n > 0 || len(e.queue) == 0 {
		return
	}
	// The last worker retired while units were still queued.
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.shutdown {
		e.tryAddWorker(nil)
	}
}

// run executes one unit and notifies after-execute listeners before the
// worker moves on.
func (e *Executor) run(j job) {
	e.active.Add(1)
	e.metrics.active.Inc()

	start := time.Now()
	err := e.execute(j.unit)
	elapsed := time.Since(start)

	e.active.Add(-1)
	e.metrics.active.Dec()

	ev := Event{Kind: AfterExecute, ID: j.id, Unit: j.unit, Err: err, Duration: elapsed}
	e.record(ev)
	e.listeners.dispatch(ev, e.logger)
}

func (e *Executor) execute(unit host.WorkUnit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return unit.Run(e.ctx)
}

func (e *Executor) record(ev Event) {
	e.completed.Add(1)
	e.totalTimeNs.Add(ev.Duration.Nanoseconds())
	e.metrics.completed.WithLabelValues(outcome(ev)).Inc()
	e.metrics.duration.Observe(ev.Duration.Seconds())

	switch {
	case ev.Panicked():
		e.panicked.Add(1)
		e.failed.Add(1)
		pe := ev.Err.(*PanicError)
		e.logger.Error("work unit panicked",
			zap.String("unit", ev.ID),
			zap.Any("panic", pe.Value),
			zap.ByteString("stack", pe.Stack))
	case ev.Failed():
		e.failed.Add(1)
		e.logger.Debug("work unit failed", zap.String("unit", ev.ID), zap.Error(ev.Err))
	}
}

// Shutdown stops accepting units and waits for queued and running units to
// finish. When ctx ends first, the context passed to running units is
// cancelled and ctx's error is returned; Done reports when the workers have
// exited. Shutdown may be called more than once.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.shutdown {
		e.shutdown = true
		close(e.queue)
		go func() {
			e.wg.Wait()
			close(e.done)
		}()
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}

// Done is closed once Shutdown has been called and every worker has exited.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// IsShutdown reports whether Shutdown has been called.
func (e *Executor) IsShutdown() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.shutdown
}

// Stats returns executor statistics.
func (e *Executor) Stats() Stats {
	completed := e.completed.Load()
	totalNs := e.totalTimeNs.Load()

	var avgNs int64
	if completed > 0 {
		avgNs = totalNs / int64(completed)
	}

	return Stats{
		Submitted:     e.submitted.Load(),
		Rejected:      e.rejected.Load(),
		Completed:     completed,
		Failed:        e.failed.Load(),
		Panicked:      e.panicked.Load(),
		Workers:       int(e.workers.Load()),
		Active:        int(e.active.Load()),
		QueueDepth:    len(e.queue),
		TotalDuration: time.Duration(totalNs),
		AvgDuration:   time.Duration(avgNs),
	}
}

// Stats contains executor statistics.
type Stats struct {
	// Submitted is the number of units accepted.
	Submitted uint64

	// Rejected is the number of units refused.
	Rejected uint64

	// Completed is the number of units that finished, successfully or not.
	Completed uint64

	// Failed is the number of units that returned an error or panicked.
	Failed uint64

	// Panicked is the number of units that panicked.
	Panicked uint64

	// Workers is the number of live workers.
	Workers int

	// Active is the number of workers running a unit.
	Active int

	// QueueDepth is the number of accepted units waiting for a worker.
	QueueDepth int

	// TotalDuration is the cumulative time spent in Run.
	TotalDuration time.Duration

	// AvgDuration is the average time spent in Run.
	AvgDuration time.Duration
}

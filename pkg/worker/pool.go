// Package worker provides generic worker pools for concurrent task
// processing, including a keyed pool that preserves per-key ordering.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/metric"
)

// Pool represents a generic worker pool that can process any work type T.
// Items are processed by whichever worker is free first; no ordering is
// guaranteed. Use KeyedPool when per-key ordering matters.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	metrics  *poolMetrics
	wg       *sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	submitted int64
	processed int64
	failed    int64
	dropped   int64

	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// poolMetrics holds Prometheus metrics for worker pool monitoring
type poolMetrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry configures the pool to register metrics with the platform registry
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// NewPool creates a new generic worker pool with optional configuration
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}

	for _, opt := range opts {
		opt(pool)
	}

	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.metrics = newPoolMetrics(pool.metricsRegistry, pool.metricsPrefix)
	}

	return pool
}

// newPoolMetrics creates and registers pool metrics with the platform registry.
// Registration failures are ignored; the pool keeps its atomic stats either way.
func newPoolMetrics(registry *metric.MetricsRegistry, prefix string) *poolMetrics {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Current worker pool queue depth",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Total work items submitted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_processed_total",
			Help: "Total work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_failed_total",
			Help: "Total work items that failed processing",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_dropped_total",
			Help: "Total work items dropped due to full queue",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing work items",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	const serviceName = "worker_pool"
	_ = registry.RegisterGauge(serviceName, prefix+"_queue_depth", m.queueDepth)
	_ = registry.RegisterCounter(serviceName, prefix+"_submitted_total", m.submitted)
	_ = registry.RegisterCounter(serviceName, prefix+"_processed_total", m.processed)
	_ = registry.RegisterCounter(serviceName, prefix+"_failed_total", m.failed)
	_ = registry.RegisterCounter(serviceName, prefix+"_dropped_total", m.dropped)
	_ = registry.RegisterHistogramVec(serviceName, prefix+"_processing_duration_seconds", m.processingTime)

	return m
}

// Submit submits work to the pool. Returns ErrQueueFull if the queue is full.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		atomic.AddInt64(&p.submitted, 1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start starts the worker pool
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	p.wg = &sync.WaitGroup{}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	return nil
}

// Stop stops the worker pool, draining queued work up to the timeout.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}

	close(p.workChan)

	done := make(chan struct{})
	go func() {
		if p.wg != nil {
			p.wg.Wait()
		}
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.stopped = true
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		Dropped:    atomic.LoadInt64(&p.dropped),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// worker processes work items from the queue
func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}

			start := time.Now()
			err := p.processor(ctx, work)
			duration := time.Since(start)

			atomic.AddInt64(&p.processed, 1)
			if err != nil {
				atomic.AddInt64(&p.failed, 1)
			}

			if p.metrics != nil {
				p.metrics.processed.Inc()
				status := "success"
				if err != nil {
					p.metrics.failed.Inc()
					status = "error"
				}
				p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
				p.metrics.queueDepth.Set(float64(len(p.workChan)))
			}
		}
	}
}

package worker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/metric"
)

// KeyedPool is a worker pool that routes each work item to a shard chosen
// by hashing its key. A shard is serviced by exactly one goroutine, so items
// sharing a key are processed in submission order while items with
// different keys run concurrently across shards.
type KeyedPool[T any] struct {
	shards    int
	queueSize int
	processor func(context.Context, T) error

	shardChans []chan T
	quit       chan struct{}
	metrics    *poolMetrics
	wg         *sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	submitted int64
	processed int64
	failed    int64
	dropped   int64
}

// KeyedOption configures a KeyedPool
type KeyedOption[T any] func(*KeyedPool[T])

// WithKeyedMetrics registers pool metrics with the platform registry
func WithKeyedMetrics[T any](registry *metric.MetricsRegistry, prefix string) KeyedOption[T] {
	return func(p *KeyedPool[T]) {
		if registry != nil && prefix != "" {
			p.metrics = newPoolMetrics(registry, prefix)
		}
	}
}

// NewKeyedPool creates a keyed pool with the given shard count and per-shard
// queue size.
func NewKeyedPool[T any](shards, queueSize int, processor func(context.Context, T) error,
	opts ...KeyedOption[T]) *KeyedPool[T] {
	if shards <= 0 {
		shards = 8
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &KeyedPool[T]{
		shards:     shards,
		queueSize:  queueSize,
		processor:  processor,
		shardChans: make([]chan T, shards),
		quit:       make(chan struct{}),
	}
	for i := range pool.shardChans {
		pool.shardChans[i] = make(chan T, queueSize)
	}

	for _, opt := range opts {
		opt(pool)
	}

	return pool
}

// shardFor maps a key to its shard channel
func (p *KeyedPool[T]) shardFor(key string) chan T {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return p.shardChans[h.Sum32()%uint32(p.shards)]
}

func (p *KeyedPool[T]) checkRunning() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	return nil
}

// Submit routes work to the shard for key without blocking.
// Returns ErrQueueFull if that shard's queue is at capacity.
func (p *KeyedPool[T]) Submit(key string, work T) error {
	if err := p.checkRunning(); err != nil {
		return err
	}

	select {
	case p.shardFor(key) <- work:
		atomic.AddInt64(&p.submitted, 1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
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

// SubmitWait routes work to the shard for key, blocking until the shard has
// room, the pool stops, or ctx is cancelled. Used where backpressure is
// preferred over drops.
func (p *KeyedPool[T]) SubmitWait(ctx context.Context, key string, work T) error {
	if err := p.checkRunning(); err != nil {
		return err
	}

	select {
	case p.shardFor(key) <- work:
		atomic.AddInt64(&p.submitted, 1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
		}
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches one goroutine per shard
func (p *KeyedPool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	p.wg = &sync.WaitGroup{}
	for i := 0; i < p.shards; i++ {
		p.wg.Add(1)
		go p.runShard(ctx, p.shardChans[i])
	}

	p.started = true
	return nil
}

// Stop signals shards to drain their queues and waits up to the timeout.
// Shard channels are never closed so late submitters get an error instead
// of a panic.
func (p *KeyedPool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.quit)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *KeyedPool[T]) Stats() PoolStats {
	depth := 0
	for _, ch := range p.shardChans {
		depth += len(ch)
	}
	return PoolStats{
		Workers:    p.shards,
		QueueSize:  p.queueSize * p.shards,
		QueueDepth: depth,
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		Dropped:    atomic.LoadInt64(&p.dropped),
	}
}

// runShard processes work items from a single shard in FIFO order.
// Both exit paths drain whatever is already queued first; accepted work
// is never silently dropped at shutdown.
func (p *KeyedPool[T]) runShard(ctx context.Context, ch chan T) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.drain(ctx, ch)
			return
		case <-p.quit:
			p.drain(ctx, ch)
			return
		case work := <-ch:
			p.process(ctx, work)
		}
	}
}

// drain processes the items already buffered on ch, then returns.
func (p *KeyedPool[T]) drain(ctx context.Context, ch chan T) {
	for {
		select {
		case work := <-ch:
			p.process(ctx, work)
		default:
			return
		}
	}
}

func (p *KeyedPool[T]) process(ctx context.Context, work T) {
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
	}
}

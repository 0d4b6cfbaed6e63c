package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/metric"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/pkg/buffer"
)

// Transport is the broker surface the pipeline publishes through.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	IsHealthy() bool
}

type queuedEvent struct {
	Subject string
	Data    []byte
}

// Publisher publishes enriched events, queueing them in a bounded circular
// buffer while the transport is down and flushing on a fixed interval or
// when TriggerFlush signals the transport recovered.
// Events are never silently dropped; only a hard queue overflow discards
// the oldest event, and that is counted.
type Publisher struct {
	transport Transport
	queue     buffer.Buffer[queuedEvent]
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metric.Metrics

	kick chan struct{}

	mu      sync.Mutex // serializes publish vs flush ordering decisions
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	QueueCapacity int
	FlushInterval time.Duration
	Logger        *slog.Logger
	Metrics       *metric.Metrics
}

// NewPublisher creates a Publisher over the transport.
func NewPublisher(transport Transport, opts PublisherOptions) (*Publisher, error) {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1024
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	queue, err := buffer.NewCircularBuffer[queuedEvent](opts.QueueCapacity,
		buffer.WithOverflowPolicy[queuedEvent](buffer.DropOldest))
	if err != nil {
		return nil, err
	}

	return &Publisher{
		transport: transport,
		queue:     queue,
		interval:  opts.FlushInterval,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		kick:      make(chan struct{}, 1),
	}, nil
}

// Start launches the background flusher.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(runCtx)
}

// Publish sends an event now if the transport is up and nothing is queued
// ahead of it; otherwise the event joins the queue so ordering survives the
// outage.
func (p *Publisher) Publish(ctx context.Context, subject string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.transport.IsHealthy() && p.queue.IsEmpty() {
		if err := p.transport.Publish(ctx, subject, data); err == nil {
			if p.metrics != nil {
				p.metrics.RecordEventPublished(subject)
			}
			return
		}
	}

	p.enqueueLocked(subject, data)
}

// TriggerFlush requests an immediate flush outside the ticker cadence,
// typically when the transport reports it reconnected. Safe to call from
// any goroutine; a pending request is not duplicated.
func (p *Publisher) TriggerFlush() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Publisher) enqueueLocked(subject string, data []byte) {
	if err := p.queue.Write(queuedEvent{Subject: subject, Data: data}); err != nil {
		p.logger.Error("failed to queue event", "subject", subject, "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.SetPublishQueueDepth(p.queue.Size())
	}
	p.logger.Debug("event queued pending transport", "subject", subject, "queued", p.queue.Size())
}

// run flushes the queue on a fixed interval, or immediately on a
// TriggerFlush signal, until the context is cancelled; then it makes one
// final best-effort flush.
func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush(context.Background())
			return
		case <-p.kick:
			p.flush(ctx)
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

// flush drains queued events in order. On the first publish failure the
// remaining batch is put back in order and the flush ends.
func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queue.IsEmpty() || !p.transport.IsHealthy() {
		return
	}

	batch := p.queue.ReadBatch(p.queue.Capacity())
	for i, ev := range batch {
		if err := p.transport.Publish(ctx, ev.Subject, ev.Data); err != nil {
			// Put the unsent tail back; retry next tick.
			for _, rest := range batch[i:] {
				_ = p.queue.Write(rest)
			}
			if p.metrics != nil {
				p.metrics.SetPublishQueueDepth(p.queue.Size())
			}
			p.logger.Debug("flush interrupted", "sent", i, "requeued", len(batch)-i)
			return
		}
		if p.metrics != nil {
			p.metrics.RecordEventPublished(ev.Subject)
		}
	}

	if p.metrics != nil {
		p.metrics.SetPublishQueueDepth(p.queue.Size())
	}
	if len(batch) > 0 {
		p.logger.Info("flushed queued events", "count", len(batch))
	}
}

// QueuedCount returns how many events are waiting for the transport.
func (p *Publisher) QueuedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Size()
}

// Stop halts the flusher after a final flush attempt and closes the queue.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	_ = p.queue.Close()
}

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/component"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/errors"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/metric"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/pkg/worker"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/safety"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/statecache"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/store"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/telemetry"
)

// Subscriber is the inbound transport surface; satisfied by
// *natsclient.Client.
type Subscriber interface {
	SubscribeMsg(ctx context.Context, subject string, handler func(context.Context, string, []byte)) error
}

// Persister is the storage surface the pipeline writes through; satisfied
// by *store.Store.
type Persister interface {
	AppendReading(ctx context.Context, reading store.StoredReading) error
	InsertNotification(ctx context.Context, n store.Notification) error
	BindingForDevice(ctx context.Context, deviceID int) (*store.LivestockBinding, error)
}

// ConfigSource supplies the current thresholds and zones; satisfied by
// *thresholdstore.Store.
type ConfigSource interface {
	Thresholds() safety.ThresholdConfig
	Zones() []safety.Zone
}

// inboundMsg is one raw transport delivery queued for a shard.
type inboundMsg struct {
	zoneID     string
	data       []byte
	receivedAt time.Time
}

// Options configures the Pipeline.
type Options struct {
	Shards    int
	QueueSize int
	// DownstreamTimeout bounds each persistence append and publish so a
	// stuck dependency cannot starve a shard.
	DownstreamTimeout time.Duration
	// EnqueueWait bounds how long a delivery blocks waiting for shard
	// room before it is dropped. Backpressure absorbs bursts; the drop is
	// the last resort.
	EnqueueWait time.Duration

	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// Pipeline is the ingestion component. Messages for the same device are
// processed in arrival order; different devices proceed concurrently up to
// the shard count.
type Pipeline struct {
	subscriber Subscriber
	persister  Persister
	configs    ConfigSource
	evaluator  *safety.Evaluator
	normalizer *telemetry.Normalizer
	cache      *statecache.Cache
	publisher  *Publisher
	notifier   *Notifier

	pool    *worker.KeyedPool[inboundMsg]
	opts    Options
	logger  *slog.Logger
	metrics *metric.Metrics

	mu        sync.Mutex
	state     component.State
	startTime time.Time
	errCount  int
	lastErr   error
	processed uint64
	rejected  uint64
}

// NewPipeline wires the ingestion component.
func NewPipeline(subscriber Subscriber, persister Persister, configs ConfigSource,
	evaluator *safety.Evaluator, cache *statecache.Cache,
	publisher *Publisher, notifier *Notifier, opts Options) *Pipeline {

	if opts.Shards <= 0 {
		opts.Shards = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.DownstreamTimeout <= 0 {
		opts.DownstreamTimeout = 10 * time.Second
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	p := &Pipeline{
		subscriber: subscriber,
		persister:  persister,
		configs:    configs,
		evaluator:  evaluator,
		normalizer: telemetry.NewNormalizer(),
		cache:      cache,
		publisher:  publisher,
		notifier:   notifier,
		opts:       opts,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		state:      component.StateCreated,
	}
	p.pool = worker.NewKeyedPool[inboundMsg](opts.Shards, opts.QueueSize, p.process)
	return p
}

// Meta implements component.Discoverable.
func (p *Pipeline) Meta() component.Metadata {
	return component.Metadata{
		Name:        "ingest-pipeline",
		Type:        "processor",
		Description: "normalizes, evaluates and fans out collar telemetry",
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable.
func (p *Pipeline) Health() component.HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := component.HealthStatus{
		Healthy:    p.state == component.StateStarted,
		LastCheck:  time.Now(),
		ErrorCount: p.errCount,
	}
	if p.lastErr != nil {
		status.LastError = p.lastErr.Error()
	}
	if !p.startTime.IsZero() {
		status.Uptime = time.Since(p.startTime)
	}
	return status
}

// DataFlow implements component.Discoverable.
func (p *Pipeline) DataFlow() component.FlowMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	flow := component.FlowMetrics{}
	if uptime := time.Since(p.startTime).Seconds(); !p.startTime.IsZero() && uptime > 0 {
		flow.MessagesPerSecond = float64(p.processed) / uptime
	}
	if total := p.processed + p.rejected; total > 0 {
		flow.ErrorRate = float64(p.errCount) / float64(total)
	}
	return flow
}

// Initialize implements component.LifecycleComponent.
func (p *Pipeline) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != component.StateCreated {
		return errors.ErrAlreadyStarted
	}
	p.state = component.StateInitialized
	return nil
}

// Start subscribes to the data pattern and launches the shard pool.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state == component.StateStarted {
		p.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	p.state = component.StateStarted
	p.startTime = time.Now()
	p.mu.Unlock()

	if err := p.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Pipeline", "Start", "start shard pool")
	}
	p.publisher.Start(ctx)

	if err := p.subscriber.SubscribeMsg(ctx, DataSubjectPattern, p.handleDelivery); err != nil {
		return errors.WrapTransient(err, "Pipeline", "Start", "subscribe data subjects")
	}

	p.logger.Info("ingestion pipeline started",
		"pattern", DataSubjectPattern, "shards", p.opts.Shards)
	return nil
}

// handleDelivery parses the subject and hands the message to the shard pool
// keyed by device token, preserving per-device order. A full shard queue
// exerts backpressure on the subscription for up to EnqueueWait before the
// delivery is dropped.
func (p *Pipeline) handleDelivery(ctx context.Context, subject string, data []byte) {
	if p.metrics != nil {
		p.metrics.RecordReadingReceived()
	}

	zoneID, deviceToken, err := parseDataSubject(subject)
	if err != nil {
		p.markRejected(err, "subject")
		p.logger.Warn("discarding message on unparsable subject", "subject", subject)
		return
	}

	msg := inboundMsg{zoneID: zoneID, data: data, receivedAt: time.Now().UTC()}

	enqueueCtx, cancel := context.WithTimeout(ctx, p.opts.EnqueueWait)
	defer cancel()
	if err := p.pool.SubmitWait(enqueueCtx, deviceToken, msg); err != nil {
		p.markRejected(err, "backpressure")
		p.logger.Warn("shard queue saturated, message dropped",
			"subject", subject, "error", err)
	}
}

// process runs the normalize, evaluate, cache, persist, publish sequence
// for one message. It executes on a shard goroutine; messages with the
// same device key arrive here in order.
func (p *Pipeline) process(ctx context.Context, msg inboundMsg) error {
	start := time.Now()

	reading, err := p.normalizer.Normalize(msg.zoneID, msg.data, msg.receivedAt)
	if err != nil {
		p.markRejected(err, "payload")
		p.logger.Warn("discarding malformed payload", "zone", msg.zoneID, "error", err)
		return nil // rejection is handled, not a shard failure
	}

	eval := p.evaluator.Evaluate(reading, p.configs.Thresholds(), p.configs.Zones())
	p.cache.Upsert(*reading, eval)

	// Downstream writes stay bounded by their own timeouts but must not be
	// aborted by shutdown cancellation while the shard drains.
	opCtx := context.WithoutCancel(ctx)

	cattle := p.lookupBinding(opCtx, reading.DeviceID)

	// Persistence and fan-out are independent; run them concurrently and
	// join before the message counts as handled.
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		p.persist(opCtx, reading, eval)
	}()
	go func() {
		defer wg.Done()
		p.publishSensorData(opCtx, reading, eval, cattle)
	}()
	wg.Wait()

	if p.notifier.Observe(opCtx, reading, eval, cattle) && p.metrics != nil {
		p.metrics.RecordNotificationEmitted()
	}

	p.markProcessed()
	if p.metrics != nil {
		p.metrics.RecordStageDuration("process", time.Since(start))
		p.metrics.RecordReadingEvaluated(string(eval.Overall))
	}
	return nil
}

// lookupBinding fetches livestock attribution. Absence and lookup failures
// both yield nil; attribution is best-effort.
func (p *Pipeline) lookupBinding(ctx context.Context, deviceID int) *store.LivestockBinding {
	lookupCtx, cancel := context.WithTimeout(ctx, p.opts.DownstreamTimeout)
	defer cancel()

	cattle, err := p.persister.BindingForDevice(lookupCtx, deviceID)
	if err != nil {
		p.logger.Debug("binding lookup failed", "device", deviceID, "error", err)
		return nil
	}
	return cattle
}

// persist appends the reading best-effort. Failures are logged and counted
// but never block fan-out or roll back the cache.
func (p *Pipeline) persist(ctx context.Context, reading *telemetry.Reading, eval safety.Evaluation) {
	persistCtx, cancel := context.WithTimeout(ctx, p.opts.DownstreamTimeout)
	defer cancel()

	if err := p.persister.AppendReading(persistCtx, store.NewStoredReading(*reading, eval)); err != nil {
		p.recordError(err, "persist")
		p.logger.Error("failed to persist reading",
			"device", reading.DeviceID, "error", err)
	}
}

func (p *Pipeline) publishSensorData(ctx context.Context, reading *telemetry.Reading,
	eval safety.Evaluation, cattle *store.LivestockBinding) {

	envelope, err := NewEnvelope(ChannelSensorData, newSensorDataEvent(reading, eval, cattle))
	if err != nil {
		p.recordError(err, "publish")
		return
	}
	data, err := marshalEnvelope(envelope)
	if err != nil {
		p.recordError(err, "publish")
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.opts.DownstreamTimeout)
	defer cancel()
	p.publisher.Publish(publishCtx, SubjectSensorData, data)
}

// PublishCattleListUpdated is the hook the registry collaborator calls when
// a livestock binding is added or removed.
func (p *Pipeline) PublishCattleListUpdated(ctx context.Context, event CattleListUpdatedEvent) error {
	if event.Action == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: action", errors.ErrMissingField),
			"Pipeline", "PublishCattleListUpdated", "validate event")
	}

	envelope, err := NewEnvelope(ChannelCattleListUpdated, event)
	if err != nil {
		return errors.WrapInvalid(err, "Pipeline", "PublishCattleListUpdated", "encode event")
	}
	data, err := marshalEnvelope(envelope)
	if err != nil {
		return errors.WrapInvalid(err, "Pipeline", "PublishCattleListUpdated", "encode envelope")
	}

	p.publisher.Publish(ctx, SubjectCattleListUpdated, data)
	return nil
}

// Stop drains the shard pool, flushes the publisher and marks the
// component stopped. The transport subscription dies with the context the
// caller cancels before Stop.
func (p *Pipeline) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.state != component.StateStarted {
		p.mu.Unlock()
		return errors.ErrNotStarted
	}
	p.state = component.StateStopped
	p.mu.Unlock()

	err := p.pool.Stop(timeout)
	p.publisher.Stop()

	if err != nil {
		return errors.Wrap(err, "Pipeline", "Stop", "drain shard pool")
	}
	p.logger.Info("ingestion pipeline stopped")
	return nil
}

func (p *Pipeline) markProcessed() {
	p.mu.Lock()
	p.processed++
	p.mu.Unlock()
}

func (p *Pipeline) markRejected(err error, reason string) {
	p.mu.Lock()
	p.rejected++
	p.errCount++
	p.lastErr = err
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.RecordReadingRejected(reason)
	}
}

func (p *Pipeline) recordError(err error, stage string) {
	p.mu.Lock()
	p.errCount++
	p.lastErr = err
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.RecordStageError(stage)
	}
}

// Package fanout serves the live WebSocket surface. It subscribes to the
// enriched event subjects and broadcasts every channel-tagged envelope to
// all connected clients unchanged.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/component"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/errors"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/metric"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/pkg/worker"
)

// EventSource is the inbound subscription surface; satisfied by
// *natsclient.Client. The fan-out mirrors envelopes verbatim, so it never
// needs the concrete delivery subject.
type EventSource interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// Options configures the fan-out server.
type Options struct {
	Port int
	Path string
	// Subjects to mirror onto the WebSocket. Defaults to the enriched
	// event wildcard.
	Subjects []string
	// AllowedOrigins restricts the Origin header on upgrade. Empty or
	// containing "*" allows any origin.
	AllowedOrigins []string

	PingInterval time.Duration
	WriteTimeout time.Duration
	// Writers bounds the goroutines fanning one envelope out to clients.
	Writers int

	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// client is one connected WebSocket peer. writeMu serializes writes; the
// gorilla connection does not tolerate concurrent writers.
type client struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// broadcastJob is one client write scheduled on the writer pool.
type broadcastJob struct {
	target  *client
	channel string
	data    []byte
	done    *sync.WaitGroup
}

// Server broadcasts enriched events to WebSocket clients.
type Server struct {
	source EventSource
	opts   Options

	upgrader  websocket.Upgrader
	server    *http.Server
	clients   map[*websocket.Conn]*client
	clientsMu sync.RWMutex
	writers   *worker.Pool[broadcastJob]

	logger  *slog.Logger
	metrics *Metrics

	mu        sync.Mutex
	state     component.State
	startTime time.Time
	errCount  int
	lastErr   error
	sent      uint64
	bytes     uint64

	shutdown chan struct{}
	wg       sync.WaitGroup
}

var _ component.LifecycleComponent = (*Server)(nil)
var _ component.Discoverable = (*Server)(nil)

// NewServer builds the fan-out server.
func NewServer(source EventSource, opts Options) *Server {
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	if len(opts.Subjects) == 0 {
		opts.Subjects = []string{"cms.events.>"}
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Writers <= 0 {
		opts.Writers = 16
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		source:  source,
		opts:    opts,
		clients: make(map[*websocket.Conn]*client),
		logger:  opts.Logger,
		metrics: newMetrics(opts.MetricsRegistry),
		state:   component.StateCreated,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.writers = worker.NewPool[broadcastJob](opts.Writers, opts.Writers*16, s.deliverJob)
	return s
}

// checkOrigin enforces the configured origin allowlist.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Meta implements component.Discoverable.
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        fmt.Sprintf("fanout-%d", s.opts.Port),
		Type:        "output",
		Description: fmt.Sprintf("WebSocket fan-out on %s:%d for subjects %v", s.opts.Path, s.opts.Port, s.opts.Subjects),
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable.
func (s *Server) Health() component.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := component.HealthStatus{
		Healthy:    s.state == component.StateStarted,
		LastCheck:  time.Now(),
		ErrorCount: s.errCount,
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	if !s.startTime.IsZero() {
		status.Uptime = time.Since(s.startTime)
	}
	return status
}

// DataFlow implements component.Discoverable.
func (s *Server) DataFlow() component.FlowMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow := component.FlowMetrics{}
	if uptime := time.Since(s.startTime).Seconds(); !s.startTime.IsZero() && uptime > 0 {
		flow.MessagesPerSecond = float64(s.sent) / uptime
		flow.BytesPerSecond = float64(s.bytes) / uptime
	}
	if s.sent > 0 {
		flow.ErrorRate = float64(s.errCount) / float64(s.sent)
	}
	return flow
}

// Initialize validates configuration.
func (s *Server) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != component.StateCreated {
		return errors.ErrAlreadyStarted
	}
	if s.opts.Port < 1 || s.opts.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize",
			fmt.Sprintf("port %d out of range", s.opts.Port))
	}
	s.state = component.StateInitialized
	return nil
}

// Start subscribes to the event subjects and begins serving WebSocket
// upgrades.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == component.StateStarted {
		s.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	s.state = component.StateStarted
	s.startTime = time.Now()
	s.shutdown = make(chan struct{})
	s.mu.Unlock()

	for _, subject := range s.opts.Subjects {
		if err := s.source.Subscribe(ctx, subject, s.handleDelivery); err != nil {
			return errors.WrapTransient(err, "Server", "Start",
				fmt.Sprintf("subscribe %s", subject))
		}
	}

	// The writer pool drains through Stop, not through context
	// cancellation, so broadcasts in flight at shutdown still complete.
	if err := s.writers.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.Wrap(err, "Server", "Start", "start writer pool")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.Path, s.handleWebSocket)
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.opts.Port),
		Handler: mux,
	}

	s.wg.Add(2)
	go s.runServer()
	go s.pingLoop(ctx)

	s.logger.Info("fan-out server started",
		"port", s.opts.Port, "path", s.opts.Path, "subjects", s.opts.Subjects)
	return nil
}

// Stop shuts the HTTP server down and closes all client connections.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.state != component.StateStarted {
		s.mu.Unlock()
		return errors.ErrNotStarted
	}
	s.state = component.StateStopped
	close(s.shutdown)
	server := s.server
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("fan-out server shutdown error", "error", err)
		}
	}

	s.closeAllClients()

	if err := s.writers.Stop(timeout); err != nil {
		s.logger.Warn("writer pool stop error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("fan-out goroutines did not exit within timeout")
	}

	s.logger.Info("fan-out server stopped")
	return nil
}

func (s *Server) runServer() {
	defer s.wg.Done()

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.recordError(err, "listen")
		s.logger.Error("fan-out server failed", "error", err)
	}
}

// handleDelivery forwards one enriched event envelope to every client. The
// envelope bytes pass through unchanged; only the channel tag is decoded
// for labeling.
func (s *Server) handleDelivery(_ context.Context, data []byte) {
	var envelope struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.recordError(err, "decode_envelope")
		s.logger.Warn("discarding undecodable event", "error", err)
		return
	}
	s.broadcast(envelope.Channel, data)
}

// broadcast schedules one write per connected client on the writer pool
// and waits for the whole set. A saturated pool falls back to writing
// inline so no client is skipped. Failed clients are dropped.
func (s *Server) broadcast(channel string, data []byte) {
	start := time.Now()

	s.clientsMu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if !c.closed.Load() {
			targets = append(targets, c)
		}
	}
	s.clientsMu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		job := broadcastJob{target: c, channel: channel, data: data, done: &wg}
		if err := s.writers.Submit(job); err != nil {
			_ = s.deliverJob(context.Background(), job)
		}
	}
	wg.Wait()

	if s.metrics != nil {
		s.metrics.broadcastDuration.WithLabelValues(channel).Observe(time.Since(start).Seconds())
	}
}

// deliverJob writes one envelope to one client. It runs on a writer pool
// goroutine, or inline when the pool has no capacity.
func (s *Server) deliverJob(_ context.Context, job broadcastJob) error {
	defer job.done.Done()

	if err := s.writeToClient(job.target, job.data); err != nil {
		s.removeClient(job.target, "write_failed")
		s.recordError(err, "client_write")
		return err
	}

	s.mu.Lock()
	s.sent++
	s.bytes += uint64(len(job.data))
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.messagesSent.WithLabelValues(job.channel).Inc()
		s.metrics.bytesSent.Add(float64(len(job.data)))
	}
	return nil
}

func (s *Server) writeToClient(c *client, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// handleWebSocket upgrades an HTTP request and registers the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.recordError(err, "upgrade")
		return
	}

	c := &client{conn: conn}

	s.clientsMu.Lock()
	s.clients[conn] = c
	count := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionsTotal.Inc()
		s.metrics.clientsConnected.Set(float64(count))
	}
	s.logger.Debug("client connected", "remote", conn.RemoteAddr().String(), "clients", count)

	s.wg.Add(1)
	go s.readLoop(c)
}

// readLoop drains inbound frames so control messages are processed. Clients
// are consumers only; data frames are discarded.
func (s *Server) readLoop(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c, "read_closed")

	pongWait := 2 * s.opts.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingLoop keeps connections alive and evicts unresponsive clients.
func (s *Server) pingLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.pingClients()
		}
	}
}

func (s *Server) pingClients() {
	s.clientsMu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if !c.closed.Load() {
			targets = append(targets, c)
		}
	}
	s.clientsMu.RUnlock()

	for _, c := range targets {
		deadline := time.Now().Add(s.opts.WriteTimeout)
		if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			s.removeClient(c, "ping_failed")
		}
	}
}

// removeClient drops a client exactly once.
func (s *Server) removeClient(c *client, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		s.clientsMu.Lock()
		delete(s.clients, c.conn)
		count := len(s.clients)
		s.clientsMu.Unlock()

		_ = c.conn.Close()

		if s.metrics != nil {
			s.metrics.disconnectionsTotal.WithLabelValues(reason).Inc()
			s.metrics.clientsConnected.Set(float64(count))
		}
		s.logger.Debug("client disconnected", "reason", reason, "clients", count)
	})
}

func (s *Server) closeAllClients() {
	s.clientsMu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		s.removeClient(c, "server_shutdown")
	}
}

// ClientCount reports the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) recordError(err error, errorType string) {
	s.mu.Lock()
	s.errCount++
	s.lastErr = err
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.errorsTotal.WithLabelValues(errorType).Inc()
	}
}

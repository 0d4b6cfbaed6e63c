// Package cms is the cattle telemetry core: a NATS-fed pipeline that
// normalizes collar readings, evaluates vitals and geofence boundaries,
// caches the latest state per device, persists readings and notifications
// to MongoDB and fans enriched events out to WebSocket clients.
//
// # Layout
//
//   - telemetry: reading model and payload normalization
//   - safety: threshold and geofence evaluation (pure)
//   - statecache: in-memory latest state per device
//   - thresholdstore: JetStream-KV-backed runtime configuration
//   - store: MongoDB persistence and aggregates
//   - ingest: the pipeline component (normalize, evaluate, cache,
//     persist, publish, notify)
//   - fanout: WebSocket broadcast of enriched events
//   - query: the read surface consumed by the web layer
//   - cmd/cms: the service binary
//
// Supporting packages (component, errors, config, metric, natsclient,
// health, pkg/...) carry the lifecycle, error classification, configuration
// and observability conventions shared by every component.
package cms

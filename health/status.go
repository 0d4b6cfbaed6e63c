// Package health tracks per-component health for the reporting loop: the
// ingestion pipeline, the fan-out surface and the broker link each record a
// Check, and the monitor folds them into one overall state.
package health

import (
	"regexp"
	"strings"
	"time"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/component"
)

// Pre-compiled regexes for detail sanitization. Connection errors tend to
// embed broker URLs and credentials; those never reach the health surface.
var (
	urlRegex        = regexp.MustCompile(`(https?|nats|wss?|mongodb(\+srv)?)://[^\s]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// State of a monitored component.
type State string

// Component states, ordered from best to worst.
const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// severity orders states for worst-of aggregation.
func (s State) severity() int {
	switch s {
	case StateUnhealthy:
		return 2
	case StateDegraded:
		return 1
	default:
		return 0
	}
}

// Check is one component's most recent health observation.
type Check struct {
	Component  string    `json:"component"`
	State      State     `json:"state"`
	Detail     string    `json:"detail,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
}

// Healthy reports whether the check is in the healthy state.
func (c Check) Healthy() bool {
	return c.State == StateHealthy
}

// FromComponentHealth converts a component's self-reported health into a
// Check, sanitizing the error detail.
func FromComponentHealth(name string, ch component.HealthStatus) Check {
	state := StateUnhealthy
	if ch.Healthy {
		state = StateHealthy
	}

	detail := ""
	if ch.LastError != "" {
		detail = sanitizeDetail(ch.LastError)
	}

	return Check{
		Component:  name,
		State:      state,
		Detail:     detail,
		ObservedAt: time.Now(),
	}
}

// sanitizeDetail removes connection strings, addresses, and credential
// fragments before a message is exposed on the health surface.
func sanitizeDetail(detail string) string {
	if detail == "" {
		return ""
	}

	sanitized := urlRegex.ReplaceAllString(detail, "[URL]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "key") || strings.Contains(lower, "secret") ||
		strings.Contains(lower, "credential") {
		sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
	}

	return sanitized
}

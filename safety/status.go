// Package safety evaluates telemetry readings against vital-sign thresholds
// and geofenced zones. Evaluation is a pure function of its inputs.
package safety

// Status classifies a reading or one of its dimensions.
type Status string

const (
	StatusSafe    Status = "SAFE"
	StatusWarning Status = "WARNING"
	StatusDanger  Status = "DANGER"
	// StatusNoData marks devices that have not reported within the
	// expected interval. It is assigned by the query surface, never by
	// Evaluate, which always has a reading in hand.
	StatusNoData Status = "NO_DATA"
)

// severity orders statuses for dominance comparison. DANGER dominates
// WARNING dominates SAFE.
func (s Status) severity() int {
	switch s {
	case StatusDanger:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// worse returns the more severe of two statuses.
func worse(a, b Status) Status {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// Evaluation is the full result of evaluating one reading.
type Evaluation struct {
	Overall  Status `json:"overall"`
	Vitals   Status `json:"vitals"`
	Location Status `json:"location"`
}

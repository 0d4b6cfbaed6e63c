// Package ingest implements the telemetry ingestion pipeline: it subscribes
// to the collar data subjects, normalizes and evaluates each message, updates
// the latest-state cache, persists readings best-effort, and publishes
// enriched events for fan-out.
package ingest

import (
	"fmt"
	"strings"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/errors"
)

// Subject layout. Collars publish on zone.{zoneId}.{deviceId}.data; the
// pipeline republishes enriched events under cms.events.
const (
	DataSubjectPattern = "zone.*.*.data"

	EventSubjectPrefix       = "cms.events."
	SubjectSensorData        = EventSubjectPrefix + "sensor_data"
	SubjectNewNotification   = EventSubjectPrefix + "new_notification"
	SubjectCattleListUpdated = EventSubjectPrefix + "cattle_list_updated"
)

// parseDataSubject extracts the zone and device tokens from a concrete data
// subject.
func parseDataSubject(subject string) (zoneID, deviceToken string, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != "zone" || parts[3] != "data" {
		return "", "", errors.WrapInvalid(
			fmt.Errorf("%w: subject %q", errors.ErrInvalidPayload, subject),
			"Pipeline", "parseDataSubject", "parse subject")
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", errors.WrapInvalid(
			fmt.Errorf("%w: subject %q", errors.ErrMissingField, subject),
			"Pipeline", "parseDataSubject", "parse subject")
	}
	return parts[1], parts[2], nil
}

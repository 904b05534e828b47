package ws

import "time"

type ConnInfo struct {
	ConnID        string
	URL           string
	ParticipantID string
	TraceID       string
	ConnectedAt   time.Time
}

func (i ConnInfo) payload(event, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     i.ConnID,
			"url":         i.URL,
			"duration_ms": time.Since(i.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"participant_id": i.ParticipantID,
		},
	}
}
